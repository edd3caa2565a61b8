package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/payoutrules/internal/catalog"
	"github.com/matthewbaird/payoutrules/internal/event"
	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/logger"
	"github.com/matthewbaird/payoutrules/internal/platform"
	"github.com/matthewbaird/payoutrules/internal/types"
)

const (
	maxTemplateName = 200
	maxDescription  = 2000
	maxTargetField  = 128
	maxNotes        = 2000
	maxFormula      = 4096
)

// Service is the template and rule store API. Writes for one owner are
// serialized; reads go straight to the store's committed snapshot.
type Service struct {
	store     Store
	platforms *platform.Set
	formulas  *formula.Cache
	recorder  event.Recorder
	locks     keyedMutex
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

// WithRecorder records a domain event for every committed mutation.
func WithRecorder(r event.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithFormulaCache shares a compiled-formula cache with the resolver.
func WithFormulaCache(c *formula.Cache) Option {
	return func(s *Service) { s.formulas = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, platforms *platform.Set, opts ...Option) *Service {
	s := &Service{
		store:     store,
		platforms: platforms,
		formulas:  formula.NewCache(0),
		recorder:  event.Discard{},
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// update runs fn under the owner's write lock and records the events it
// returns once the store has committed.
func (s *Service) update(ctx context.Context, ownerID string, fn func(tx Tx) ([]event.DomainEvent, error)) error {
	if strings.TrimSpace(ownerID) == "" {
		return invalid("owner id is required")
	}
	unlock := s.locks.Lock(ownerID)
	defer unlock()

	var events []event.DomainEvent
	err := s.store.Update(ctx, ownerID, func(tx Tx) error {
		var err error
		events, err = fn(tx)
		return err
	})
	if err != nil {
		return err
	}
	for _, evt := range events {
		if err := s.recorder.Record(ctx, evt); err != nil {
			logger.WithFields(logrus.Fields{
				"event_type": evt.EventType,
				"owner_id":   ownerID,
			}).WithError(err).Warn("event recording failed")
		}
	}
	return nil
}

func (s *Service) timestamp() time.Time { return s.now().UTC() }

// Snapshot returns the owner's committed templates and rules.
func (s *Service) Snapshot(ctx context.Context, ownerID string) (*Snapshot, error) {
	return s.store.Snapshot(ctx, ownerID)
}

// Platforms is the platform enumeration rules are validated against.
func (s *Service) Platforms() *platform.Set { return s.platforms }

// ── Templates ───────────────────────────────────────────────────────────────

// TemplateInput describes a new template. When CopyFromTemplateID is set
// the source template's active rules are copied into the new one.
type TemplateInput struct {
	Name               string `json:"template_name"`
	Description        string `json:"template_description"`
	IsDefault          bool   `json:"is_template_default"`
	CopyFromTemplateID string `json:"copy_from_template_id"`
}

// TemplatePatch changes the fields that are set.
type TemplatePatch struct {
	Name        *string `json:"template_name"`
	Description *string `json:"template_description"`
	IsDefault   *bool   `json:"is_template_default"`
}

// DeleteTemplateResult reports what a template delete removed.
type DeleteTemplateResult struct {
	Template         types.Template   `json:"template"`
	DeletedRuleCount int              `json:"deleted_rule_count"`
	Warning          *NotEmptyWarning `json:"-"`
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("template name is required")
	}
	if len(name) > maxTemplateName {
		return "", invalid("template name longer than %d characters", maxTemplateName)
	}
	return name, nil
}

func checkNameFree(tx Tx, name, exceptID string) error {
	for _, t := range tx.Templates() {
		if t.ID != exceptID && strings.EqualFold(t.Name, name) {
			return fmt.Errorf("template name %q already in use: %w", name, ErrConflict)
		}
	}
	return nil
}

// promote makes target the owner's only default, clearing the previous
// default first. It returns the previous default's ID, if any.
func (s *Service) promote(tx Tx, target types.Template, now time.Time) (types.Template, string, error) {
	var previous string
	for _, t := range tx.Templates() {
		if t.IsDefault && t.ID != target.ID {
			previous = t.ID
			t.IsDefault = false
			t.UpdatedAt = now
			if err := tx.PutTemplate(t); err != nil {
				return types.Template{}, "", err
			}
		}
	}
	target.IsDefault = true
	target.UpdatedAt = now
	if err := tx.PutTemplate(target); err != nil {
		return types.Template{}, "", err
	}
	return target, previous, nil
}

// CreateTemplate creates an empty template, or a copy of an existing one.
// A copy carries the source's active rules with fresh IDs and creation
// sequence, keeping platform, target field, formula, priority and notes.
func (s *Service) CreateTemplate(ctx context.Context, ownerID string, in TemplateInput) (types.Template, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return types.Template{}, err
	}
	desc := strings.TrimSpace(in.Description)
	if len(desc) > maxDescription {
		return types.Template{}, invalid("template description longer than %d characters", maxDescription)
	}

	var created types.Template
	err = s.update(ctx, ownerID, func(tx Tx) ([]event.DomainEvent, error) {
		if err := checkNameFree(tx, name, ""); err != nil {
			return nil, err
		}

		var source types.Template
		if in.CopyFromTemplateID != "" {
			var ok bool
			if source, ok = tx.Template(in.CopyFromTemplateID); !ok {
				return nil, notFound("template", in.CopyFromTemplateID)
			}
		}

		now := s.timestamp()
		created = types.Template{
			ID:          s.newID(),
			OwnerID:     ownerID,
			Name:        name,
			Description: desc,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.PutTemplate(created); err != nil {
			return nil, err
		}

		var copied []string
		if source.ID != "" {
			seq := nextSeq(tx)
			for _, r := range tx.Rules() {
				if !r.IsActive || !r.InTemplate(source.ID) {
					continue
				}
				tid := created.ID
				r.ID = s.newID()
				r.TemplateID = &tid
				r.Seq = seq
				r.CreatedAt, r.UpdatedAt = now, now
				seq++
				if err := tx.PutRule(r); err != nil {
					return nil, err
				}
				copied = append(copied, r.ID)
			}
		}

		var previous string
		if in.IsDefault {
			var err error
			if created, previous, err = s.promote(tx, created, now); err != nil {
				return nil, err
			}
		}

		events := []event.DomainEvent{event.NewTemplateCreated(event.TemplateCreatedPayload{
			Template:          created,
			CopiedFromID:      source.ID,
			CopiedRuleIDs:     copied,
			PreviousDefaultID: previous,
		})}
		if created.IsDefault {
			events = append(events, event.NewDefaultTemplatePromoted(event.DefaultTemplatePromotedPayload{
				Template:          created,
				PreviousDefaultID: previous,
			}))
		}
		return events, nil
	})
	if err != nil {
		return types.Template{}, err
	}
	return created, nil
}

// UpdateTemplate renames or re-describes a template; its ID never changes.
// Setting IsDefault promotes it. Clearing IsDefault on the current default
// is a DefaultTemplateConflictError: promote another template instead.
func (s *Service) UpdateTemplate(ctx context.Context, ownerID, templateID string, patch TemplatePatch) (types.Template, error) {
	var name, desc string
	if patch.Name != nil {
		n, err := normalizeName(*patch.Name)
		if err != nil {
			return types.Template{}, err
		}
		name = n
	}
	if patch.Description != nil {
		desc = strings.TrimSpace(*patch.Description)
		if len(desc) > maxDescription {
			return types.Template{}, invalid("template description longer than %d characters", maxDescription)
		}
	}

	var updated types.Template
	err := s.update(ctx, ownerID, func(tx Tx) ([]event.DomainEvent, error) {
		before, ok := tx.Template(templateID)
		if !ok {
			return nil, notFound("template", templateID)
		}
		if patch.IsDefault != nil && !*patch.IsDefault && before.IsDefault {
			return nil, &DefaultTemplateConflictError{
				OwnerID:    ownerID,
				TemplateID: templateID,
				Reason:     "cannot clear the default flag; promote another template instead",
			}
		}

		after := before
		if patch.Name != nil {
			if err := checkNameFree(tx, name, templateID); err != nil {
				return nil, err
			}
			after.Name = name
		}
		if patch.Description != nil {
			after.Description = desc
		}

		now := s.timestamp()
		var events []event.DomainEvent
		if after.Name != before.Name || after.Description != before.Description {
			after.UpdatedAt = now
			if err := tx.PutTemplate(after); err != nil {
				return nil, err
			}
			events = append(events, event.NewTemplateUpdated(event.TemplateUpdatedPayload{Before: before, After: after}))
		}
		if patch.IsDefault != nil && *patch.IsDefault && !after.IsDefault {
			var previous string
			var err error
			if after, previous, err = s.promote(tx, after, now); err != nil {
				return nil, err
			}
			events = append(events, event.NewDefaultTemplatePromoted(event.DefaultTemplatePromotedPayload{
				Template:          after,
				PreviousDefaultID: previous,
			}))
		}
		updated = after
		return events, nil
	})
	if err != nil {
		return types.Template{}, err
	}
	return updated, nil
}

// PromoteDefault makes templateID the owner's default, clearing the
// previous default in the same transaction.
func (s *Service) PromoteDefault(ctx context.Context, ownerID, templateID string) (types.Template, error) {
	t := true
	return s.UpdateTemplate(ctx, ownerID, templateID, TemplatePatch{IsDefault: &t})
}

// DeleteTemplate deletes a template and every rule in it. Deleting the
// default leaves the owner without one.
func (s *Service) DeleteTemplate(ctx context.Context, ownerID, templateID string) (DeleteTemplateResult, error) {
	var res DeleteTemplateResult
	err := s.update(ctx, ownerID, func(tx Tx) ([]event.DomainEvent, error) {
		t, ok := tx.Template(templateID)
		if !ok {
			return nil, notFound("template", templateID)
		}
		removed, err := tx.DeleteTemplate(templateID)
		if err != nil {
			return nil, err
		}
		res = DeleteTemplateResult{Template: t, DeletedRuleCount: len(removed)}
		if len(removed) > 0 {
			res.Warning = &NotEmptyWarning{TemplateID: templateID, RuleCount: len(removed)}
		}
		return []event.DomainEvent{event.NewTemplateDeleted(event.TemplateDeletedPayload{
			Template:       t,
			DeletedRuleIDs: removed,
		})}, nil
	})
	if err != nil {
		return DeleteTemplateResult{}, err
	}
	return res, nil
}

func (s *Service) GetTemplate(ctx context.Context, ownerID, templateID string) (types.Template, error) {
	snap, err := s.store.Snapshot(ctx, ownerID)
	if err != nil {
		return types.Template{}, err
	}
	t, ok := snap.Template(templateID)
	if !ok {
		return types.Template{}, notFound("template", templateID)
	}
	return t, nil
}

// ListTemplates returns the owner's templates ordered by name.
func (s *Service) ListTemplates(ctx context.Context, ownerID string) ([]types.Template, error) {
	snap, err := s.store.Snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return append([]types.Template{}, snap.Templates...), nil
}

// ListCustomFields returns the owner's custom field catalog.
func (s *Service) ListCustomFields(ctx context.Context, ownerID string) ([]types.CustomField, error) {
	snap, err := s.store.Snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return catalog.Build(snap.Templates, snap.Rules), nil
}
