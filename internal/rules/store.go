// Package rules stores an owner's templates and calculation rules and
// enforces their invariants: unique template names, at most one default
// template, cascading template deletes and validated rules.
package rules

import (
	"context"
	"sort"

	"github.com/matthewbaird/payoutrules/internal/types"
)

// Store persists templates and rules per owner.
type Store interface {
	// Snapshot returns the owner's committed state. It does not wait for
	// writers.
	Snapshot(ctx context.Context, ownerID string) (*Snapshot, error)

	// Update runs fn in a transaction over the owner's state. Nothing is
	// committed if fn returns an error.
	Update(ctx context.Context, ownerID string, fn func(tx Tx) error) error
}

// Tx is a read-your-writes view of one owner's state inside Update.
type Tx interface {
	Template(id string) (types.Template, bool)
	Templates() []types.Template
	Rule(id string) (types.Rule, bool)
	Rules() []types.Rule

	PutTemplate(t types.Template) error
	// DeleteTemplate removes the template and its rules, returning the IDs
	// of the removed rules.
	DeleteTemplate(id string) ([]string, error)
	PutRule(r types.Rule) error
	DeleteRule(id string) error
}

// Snapshot is an immutable view of one owner's templates and rules.
// Templates are ordered by name, rules by creation sequence. Callers must
// not modify the slices.
type Snapshot struct {
	OwnerID   string
	Templates []types.Template
	Rules     []types.Rule

	templateIdx map[string]int
	ruleIdx     map[string]int
}

func newSnapshot(ownerID string, templates []types.Template, rules []types.Rule) *Snapshot {
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	sort.Slice(rules, func(i, j int) bool { return rules[i].Seq < rules[j].Seq })

	s := &Snapshot{
		OwnerID:     ownerID,
		Templates:   templates,
		Rules:       rules,
		templateIdx: make(map[string]int, len(templates)),
		ruleIdx:     make(map[string]int, len(rules)),
	}
	for i, t := range templates {
		s.templateIdx[t.ID] = i
	}
	for i, r := range rules {
		s.ruleIdx[r.ID] = i
	}
	return s
}

// EmptySnapshot is the state of an owner with no templates or rules.
func EmptySnapshot(ownerID string) *Snapshot {
	return newSnapshot(ownerID, nil, nil)
}

func (s *Snapshot) Template(id string) (types.Template, bool) {
	i, ok := s.templateIdx[id]
	if !ok {
		return types.Template{}, false
	}
	return s.Templates[i], true
}

func (s *Snapshot) Rule(id string) (types.Rule, bool) {
	i, ok := s.ruleIdx[id]
	if !ok {
		return types.Rule{}, false
	}
	return s.Rules[i], true
}

// Default returns the owner's default template, if any.
func (s *Snapshot) Default() (types.Template, bool) {
	for _, t := range s.Templates {
		if t.IsDefault {
			return t, true
		}
	}
	return types.Template{}, false
}

// TemplateNames maps template IDs to names.
func (s *Snapshot) TemplateNames() map[string]string {
	names := make(map[string]string, len(s.Templates))
	for _, t := range s.Templates {
		names[t.ID] = t.Name
	}
	return names
}

// workingSet is the mutable copy of an owner's state a transaction edits.
type workingSet struct {
	ownerID   string
	templates map[string]types.Template
	rules     map[string]types.Rule
}

func newWorkingSet(snap *Snapshot) *workingSet {
	w := &workingSet{
		ownerID:   snap.OwnerID,
		templates: make(map[string]types.Template, len(snap.Templates)),
		rules:     make(map[string]types.Rule, len(snap.Rules)),
	}
	for _, t := range snap.Templates {
		w.templates[t.ID] = t
	}
	for _, r := range snap.Rules {
		w.rules[r.ID] = r
	}
	return w
}

func (w *workingSet) Template(id string) (types.Template, bool) {
	t, ok := w.templates[id]
	return t, ok
}

func (w *workingSet) Templates() []types.Template {
	out := make([]types.Template, 0, len(w.templates))
	for _, t := range w.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (w *workingSet) Rule(id string) (types.Rule, bool) {
	r, ok := w.rules[id]
	return r, ok
}

func (w *workingSet) Rules() []types.Rule {
	out := make([]types.Rule, 0, len(w.rules))
	for _, r := range w.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (w *workingSet) putTemplate(t types.Template) {
	w.templates[t.ID] = t
}

func (w *workingSet) deleteTemplate(id string) ([]string, bool) {
	if _, ok := w.templates[id]; !ok {
		return nil, false
	}
	delete(w.templates, id)

	var removed []string
	for _, r := range w.Rules() {
		if r.InTemplate(id) {
			removed = append(removed, r.ID)
			delete(w.rules, r.ID)
		}
	}
	return removed, true
}

func (w *workingSet) putRule(r types.Rule) {
	w.rules[r.ID] = r
}

func (w *workingSet) deleteRule(id string) bool {
	if _, ok := w.rules[id]; !ok {
		return false
	}
	delete(w.rules, id)
	return true
}

func (w *workingSet) snapshot() *Snapshot {
	return newSnapshot(w.ownerID, w.Templates(), w.Rules())
}
