package rules

import (
	"context"
	"strings"

	"github.com/matthewbaird/payoutrules/internal/event"
	"github.com/matthewbaird/payoutrules/internal/types"
)

// RuleInput describes a new rule. A nil TemplateID makes the rule apply
// to every booking of the owner; IsActive defaults to true.
type RuleInput struct {
	TemplateID  *string `json:"template_id"`
	Platform    string  `json:"platform"`
	TargetField string  `json:"target_field"`
	Formula     string  `json:"formula"`
	Priority    *int    `json:"priority"`
	IsActive    *bool   `json:"is_active"`
	Notes       string  `json:"notes"`
}

// RulePatch changes the fields that are set. ClearTemplate and
// ClearPriority reset the optional fields to nil.
type RulePatch struct {
	TemplateID    *string `json:"template_id"`
	ClearTemplate bool    `json:"clear_template"`
	Platform      *string `json:"platform"`
	TargetField   *string `json:"target_field"`
	Formula       *string `json:"formula"`
	Priority      *int    `json:"priority"`
	ClearPriority bool    `json:"clear_priority"`
	IsActive      *bool   `json:"is_active"`
	Notes         *string `json:"notes"`
}

// RuleFilter narrows ListRules. Zero values match everything.
type RuleFilter struct {
	TemplateID  string
	Untemplated bool
	Platform    types.Platform
	TargetField string
	ActiveOnly  bool
}

func (f RuleFilter) match(r types.Rule) bool {
	if f.TemplateID != "" && !r.InTemplate(f.TemplateID) {
		return false
	}
	if f.Untemplated && r.TemplateID != nil {
		return false
	}
	if f.Platform != "" && r.Platform != f.Platform {
		return false
	}
	if f.TargetField != "" && r.TargetField != f.TargetField {
		return false
	}
	if f.ActiveOnly && !r.IsActive {
		return false
	}
	return true
}

func nextSeq(tx Tx) int64 {
	var top int64
	for _, r := range tx.Rules() {
		if r.Seq > top {
			top = r.Seq
		}
	}
	return top + 1
}

func normalizeTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", invalid("target field is required")
	}
	if len(target) > maxTargetField {
		return "", invalid("target field longer than %d characters", maxTargetField)
	}
	if strings.ContainsAny(target, "[]") {
		return "", invalid("target field %q must not contain brackets", target)
	}
	return target, nil
}

func (s *Service) normalizeFormula(src string) (string, error) {
	src = strings.TrimSpace(src)
	if len(src) > maxFormula {
		return "", invalid("formula longer than %d bytes", maxFormula)
	}
	if _, err := s.formulas.Compile(src); err != nil {
		return "", err
	}
	return src, nil
}

func checkTemplate(tx Tx, templateID *string) error {
	if templateID == nil {
		return nil
	}
	if _, ok := tx.Template(*templateID); !ok {
		return notFound("template", *templateID)
	}
	return nil
}

// CreateRule validates and stores a new rule. Errors are
// *platform.UnknownPlatformError, *formula.SyntaxError, ErrInvalid, or
// ErrNotFound for a template the owner does not have.
func (s *Service) CreateRule(ctx context.Context, ownerID string, in RuleInput) (types.Rule, error) {
	p, err := s.platforms.Parse(in.Platform)
	if err != nil {
		return types.Rule{}, err
	}
	target, err := normalizeTarget(in.TargetField)
	if err != nil {
		return types.Rule{}, err
	}
	src, err := s.normalizeFormula(in.Formula)
	if err != nil {
		return types.Rule{}, err
	}
	notes := strings.TrimSpace(in.Notes)
	if len(notes) > maxNotes {
		return types.Rule{}, invalid("notes longer than %d characters", maxNotes)
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	var created types.Rule
	err = s.update(ctx, ownerID, func(tx Tx) ([]event.DomainEvent, error) {
		if err := checkTemplate(tx, in.TemplateID); err != nil {
			return nil, err
		}
		now := s.timestamp()
		created = types.Rule{
			ID:          s.newID(),
			OwnerID:     ownerID,
			TemplateID:  cloneString(in.TemplateID),
			Platform:    p,
			TargetField: target,
			Formula:     src,
			Priority:    cloneInt(in.Priority),
			IsActive:    active,
			Notes:       notes,
			Seq:         nextSeq(tx),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.PutRule(created); err != nil {
			return nil, err
		}
		return []event.DomainEvent{event.NewRuleCreated(event.RuleCreatedPayload{Rule: created})}, nil
	})
	if err != nil {
		return types.Rule{}, err
	}
	return created, nil
}

// UpdateRule applies patch in place; the rule ID never changes. Moving a
// rule to another platform replaces it: it takes a new creation sequence
// and so ranks as the newest rule among equals.
func (s *Service) UpdateRule(ctx context.Context, ownerID, ruleID string, patch RulePatch) (types.Rule, error) {
	var (
		p      types.Platform
		target string
		src    string
		err    error
	)
	if patch.Platform != nil {
		if p, err = s.platforms.Parse(*patch.Platform); err != nil {
			return types.Rule{}, err
		}
	}
	if patch.TargetField != nil {
		if target, err = normalizeTarget(*patch.TargetField); err != nil {
			return types.Rule{}, err
		}
	}
	if patch.Formula != nil {
		if src, err = s.normalizeFormula(*patch.Formula); err != nil {
			return types.Rule{}, err
		}
	}
	if patch.Notes != nil && len(strings.TrimSpace(*patch.Notes)) > maxNotes {
		return types.Rule{}, invalid("notes longer than %d characters", maxNotes)
	}
	if patch.ClearTemplate && patch.TemplateID != nil {
		return types.Rule{}, invalid("template_id and clear_template are exclusive")
	}
	if patch.ClearPriority && patch.Priority != nil {
		return types.Rule{}, invalid("priority and clear_priority are exclusive")
	}

	var updated types.Rule
	err = s.update(ctx, ownerID, func(tx Tx) ([]event.DomainEvent, error) {
		before, ok := tx.Rule(ruleID)
		if !ok {
			return nil, notFound("rule", ruleID)
		}
		after := before

		switch {
		case patch.ClearTemplate:
			after.TemplateID = nil
		case patch.TemplateID != nil:
			if err := checkTemplate(tx, patch.TemplateID); err != nil {
				return nil, err
			}
			after.TemplateID = cloneString(patch.TemplateID)
		}
		if patch.Platform != nil && p != before.Platform {
			after.Platform = p
			after.Seq = nextSeq(tx)
		}
		if patch.TargetField != nil {
			after.TargetField = target
		}
		if patch.Formula != nil {
			after.Formula = src
		}
		switch {
		case patch.ClearPriority:
			after.Priority = nil
		case patch.Priority != nil:
			after.Priority = cloneInt(patch.Priority)
		}
		if patch.IsActive != nil {
			after.IsActive = *patch.IsActive
		}
		if patch.Notes != nil {
			after.Notes = strings.TrimSpace(*patch.Notes)
		}

		updated = after
		if sameRule(before, after) {
			return nil, nil
		}
		updated.UpdatedAt = s.timestamp()
		if err := tx.PutRule(updated); err != nil {
			return nil, err
		}
		return []event.DomainEvent{event.NewRuleUpdated(event.RuleUpdatedPayload{Before: before, After: updated})}, nil
	})
	if err != nil {
		return types.Rule{}, err
	}
	return updated, nil
}

func (s *Service) DeleteRule(ctx context.Context, ownerID, ruleID string) error {
	return s.update(ctx, ownerID, func(tx Tx) ([]event.DomainEvent, error) {
		r, ok := tx.Rule(ruleID)
		if !ok {
			return nil, notFound("rule", ruleID)
		}
		if err := tx.DeleteRule(ruleID); err != nil {
			return nil, err
		}
		return []event.DomainEvent{event.NewRuleDeleted(event.RuleDeletedPayload{Rule: r})}, nil
	})
}

func (s *Service) GetRule(ctx context.Context, ownerID, ruleID string) (types.Rule, error) {
	snap, err := s.store.Snapshot(ctx, ownerID)
	if err != nil {
		return types.Rule{}, err
	}
	r, ok := snap.Rule(ruleID)
	if !ok {
		return types.Rule{}, notFound("rule", ruleID)
	}
	return r, nil
}

// ListRules returns the owner's rules matching f, in creation order.
func (s *Service) ListRules(ctx context.Context, ownerID string, f RuleFilter) ([]types.Rule, error) {
	snap, err := s.store.Snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := []types.Rule{}
	for _, r := range snap.Rules {
		if f.match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func sameRule(a, b types.Rule) bool {
	return equalStringPtr(a.TemplateID, b.TemplateID) &&
		a.Platform == b.Platform &&
		a.TargetField == b.TargetField &&
		a.Formula == b.Formula &&
		equalIntPtr(a.Priority, b.Priority) &&
		a.IsActive == b.IsActive &&
		a.Notes == b.Notes &&
		a.Seq == b.Seq
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
