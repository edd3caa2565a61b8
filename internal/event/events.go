package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/payoutrules/internal/types"
)

// Event types.
const (
	TemplateCreated         = "template_created"
	TemplateUpdated         = "template_updated"
	TemplateDeleted         = "template_deleted"
	DefaultTemplatePromoted = "default_template_promoted"
	RuleCreated             = "rule_created"
	RuleUpdated             = "rule_updated"
	RuleDeleted             = "rule_deleted"
)

// Categories.
const (
	CategoryTemplate = "template"
	CategoryRule     = "rule"
)

// Entity types used in SourceRefs.
const (
	EntityTemplate = "template"
	EntityRule     = "rule"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID               string
	EventType        string
	OccurredAt       time.Time
	OwnerID          string
	AffectedEntities []types.SourceRef
	Summary          string
	Category         string // "template", "rule"
	Payload          json.RawMessage
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newEvent(eventType, ownerID, category, summary string, refs []types.SourceRef, payload any) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        eventType,
		OccurredAt:       time.Now().UTC(),
		OwnerID:          ownerID,
		AffectedEntities: refs,
		Summary:          summary,
		Category:         category,
		Payload:          mustJSON(payload),
	}
}

// ── Template events ─────────────────────────────────────────────────────────

// TemplateCreatedPayload carries event-specific data for TemplateCreated.
type TemplateCreatedPayload struct {
	Template          types.Template `json:"template"`
	CopiedFromID      string         `json:"copied_from_id,omitempty"`
	CopiedRuleIDs     []string       `json:"copied_rule_ids,omitempty"`
	PreviousDefaultID string         `json:"previous_default_id,omitempty"`
}

func NewTemplateCreated(p TemplateCreatedPayload) DomainEvent {
	refs := []types.SourceRef{{EntityType: EntityTemplate, EntityID: p.Template.ID, Role: "subject"}}
	if p.CopiedFromID != "" {
		refs = append(refs, types.SourceRef{EntityType: EntityTemplate, EntityID: p.CopiedFromID, Role: "source"})
	}
	for _, id := range p.CopiedRuleIDs {
		refs = append(refs, types.SourceRef{EntityType: EntityRule, EntityID: id, Role: "created"})
	}
	summary := fmt.Sprintf("Template %q created", p.Template.Name)
	if p.CopiedFromID != "" {
		summary = fmt.Sprintf("Template %q created from %s with %d rules", p.Template.Name, short(p.CopiedFromID), len(p.CopiedRuleIDs))
	}
	return newEvent(TemplateCreated, p.Template.OwnerID, CategoryTemplate, summary, refs, p)
}

// TemplateUpdatedPayload carries event-specific data for TemplateUpdated.
type TemplateUpdatedPayload struct {
	Before types.Template `json:"before"`
	After  types.Template `json:"after"`
}

func NewTemplateUpdated(p TemplateUpdatedPayload) DomainEvent {
	refs := []types.SourceRef{{EntityType: EntityTemplate, EntityID: p.After.ID, Role: "subject"}}
	summary := fmt.Sprintf("Template %q updated", p.After.Name)
	if p.Before.Name != p.After.Name {
		summary = fmt.Sprintf("Template %q renamed to %q", p.Before.Name, p.After.Name)
	}
	return newEvent(TemplateUpdated, p.After.OwnerID, CategoryTemplate, summary, refs, p)
}

// TemplateDeletedPayload carries event-specific data for TemplateDeleted.
type TemplateDeletedPayload struct {
	Template       types.Template `json:"template"`
	DeletedRuleIDs []string       `json:"deleted_rule_ids,omitempty"`
}

func NewTemplateDeleted(p TemplateDeletedPayload) DomainEvent {
	refs := []types.SourceRef{{EntityType: EntityTemplate, EntityID: p.Template.ID, Role: "subject"}}
	for _, id := range p.DeletedRuleIDs {
		refs = append(refs, types.SourceRef{EntityType: EntityRule, EntityID: id, Role: "deleted"})
	}
	summary := fmt.Sprintf("Template %q deleted with %d rules", p.Template.Name, len(p.DeletedRuleIDs))
	return newEvent(TemplateDeleted, p.Template.OwnerID, CategoryTemplate, summary, refs, p)
}

// DefaultTemplatePromotedPayload carries event-specific data for
// DefaultTemplatePromoted.
type DefaultTemplatePromotedPayload struct {
	Template          types.Template `json:"template"`
	PreviousDefaultID string         `json:"previous_default_id,omitempty"`
}

func NewDefaultTemplatePromoted(p DefaultTemplatePromotedPayload) DomainEvent {
	refs := []types.SourceRef{{EntityType: EntityTemplate, EntityID: p.Template.ID, Role: "subject"}}
	if p.PreviousDefaultID != "" {
		refs = append(refs, types.SourceRef{EntityType: EntityTemplate, EntityID: p.PreviousDefaultID, Role: "demoted"})
	}
	summary := fmt.Sprintf("Template %q is now the default", p.Template.Name)
	return newEvent(DefaultTemplatePromoted, p.Template.OwnerID, CategoryTemplate, summary, refs, p)
}

// ── Rule events ─────────────────────────────────────────────────────────────

func ruleRefs(r types.Rule) []types.SourceRef {
	refs := []types.SourceRef{{EntityType: EntityRule, EntityID: r.ID, Role: "subject"}}
	if r.TemplateID != nil {
		refs = append(refs, types.SourceRef{EntityType: EntityTemplate, EntityID: *r.TemplateID, Role: "context"})
	}
	return refs
}

// RuleCreatedPayload carries event-specific data for RuleCreated.
type RuleCreatedPayload struct {
	Rule types.Rule `json:"rule"`
}

func NewRuleCreated(p RuleCreatedPayload) DomainEvent {
	summary := fmt.Sprintf("Rule for %s on %s created: %s", p.Rule.TargetField, p.Rule.Platform, p.Rule.Formula)
	return newEvent(RuleCreated, p.Rule.OwnerID, CategoryRule, summary, ruleRefs(p.Rule), p)
}

// RuleUpdatedPayload carries event-specific data for RuleUpdated.
type RuleUpdatedPayload struct {
	Before types.Rule `json:"before"`
	After  types.Rule `json:"after"`
}

func NewRuleUpdated(p RuleUpdatedPayload) DomainEvent {
	refs := ruleRefs(p.After)
	if p.Before.TemplateID != nil && (p.After.TemplateID == nil || *p.After.TemplateID != *p.Before.TemplateID) {
		refs = append(refs, types.SourceRef{EntityType: EntityTemplate, EntityID: *p.Before.TemplateID, Role: "previous"})
	}
	summary := fmt.Sprintf("Rule for %s on %s updated", p.After.TargetField, p.After.Platform)
	if p.Before.Formula != p.After.Formula {
		summary = fmt.Sprintf("Rule for %s on %s changed: %s -> %s", p.After.TargetField, p.After.Platform, p.Before.Formula, p.After.Formula)
	}
	return newEvent(RuleUpdated, p.After.OwnerID, CategoryRule, summary, refs, p)
}

// RuleDeletedPayload carries event-specific data for RuleDeleted.
type RuleDeletedPayload struct {
	Rule types.Rule `json:"rule"`
}

func NewRuleDeleted(p RuleDeletedPayload) DomainEvent {
	summary := fmt.Sprintf("Rule for %s on %s deleted", p.Rule.TargetField, p.Rule.Platform)
	return newEvent(RuleDeleted, p.Rule.OwnerID, CategoryRule, summary, ruleRefs(p.Rule), p)
}
