// Package types provides the shared data model of the resolution engine:
// platforms, calculation templates and rules, the custom-field read model,
// raw booking records and the canonical resolved financials.
package types

import (
	"encoding/json"
	"time"
)

// Platform identifies the booking channel or source system a record came from.
type Platform string

// Built-in platforms. PlatformAll is the wildcard scope of a rule; it matches
// every record platform but loses to a platform-specific rule.
const (
	PlatformAll      Platform = "all"
	PlatformAirbnb   Platform = "airbnb"
	PlatformBooking  Platform = "booking"
	PlatformVrbo     Platform = "vrbo"
	PlatformDirect   Platform = "direct"
	PlatformGoogle   Platform = "google"
	PlatformHostaway Platform = "hostaway"
)

// BuiltinPlatforms lists the named channels known without configuration.
var BuiltinPlatforms = []Platform{
	PlatformAirbnb,
	PlatformBooking,
	PlatformVrbo,
	PlatformDirect,
	PlatformGoogle,
	PlatformHostaway,
}

// IsWildcard reports whether p is the ALL scope.
func (p Platform) IsWildcard() bool { return p == PlatformAll }

// Template is a named, owner-scoped grouping of calculation rules.
type Template struct {
	ID          string    `json:"template_id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"template_name"`
	Description string    `json:"template_description,omitempty"`
	IsDefault   bool      `json:"is_template_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Rule is a single (platform, target field, formula, priority) override.
// A nil TemplateID makes the rule apply globally for its owner.
type Rule struct {
	ID          string    `json:"rule_id"`
	OwnerID     string    `json:"owner_id"`
	TemplateID  *string   `json:"template_id,omitempty"`
	Platform    Platform  `json:"platform"`
	TargetField string    `json:"target_field"`
	Formula     string    `json:"formula"`
	Priority    *int      `json:"priority,omitempty"` // lower runs first; nil sorts last
	IsActive    bool      `json:"is_active"`
	Notes       string    `json:"notes,omitempty"`
	Seq         int64     `json:"seq"` // per-owner creation sequence
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InTemplate reports whether the rule belongs to the given template.
func (r Rule) InTemplate(templateID string) bool {
	return r.TemplateID != nil && *r.TemplateID == templateID
}

// CustomField is one distinct (target field, formula) pair used by an
// owner's rules. It is derived from rule state and never stored.
type CustomField struct {
	TargetField string   `json:"target_field"`
	Formula     string   `json:"formula"`
	UsageCount  int      `json:"usage_count"`
	Templates   []string `json:"templates"`
}

// RawBookingSource is one booking's fields as delivered by its origin.
// Keys are source-specific. Values are scalars (numbers, numeric strings,
// strings, bools, nil) or arrays of objects for line-item fields.
type RawBookingSource map[string]any

// SourceRef identifies an entity affected by a domain event.
type SourceRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Role       string `json:"role"` // "subject", "context", "related"
}

// ActivityEntry is one indexed row of the change history: a domain event
// fanned out to one of the entities it affected.
type ActivityEntry struct {
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	OccurredAt        time.Time       `json:"occurred_at"`
	OwnerID           string          `json:"owner_id"`
	IndexedEntityType string          `json:"indexed_entity_type"`
	IndexedEntityID   string          `json:"indexed_entity_id"`
	EntityRole        string          `json:"entity_role"`
	SourceRefs        []SourceRef     `json:"source_refs"`
	Summary           string          `json:"summary"`
	Category          string          `json:"category"` // "template", "rule"
	Payload           json.RawMessage `json:"payload"`
}
