// Package resolve computes canonical financials for a booking record from
// an owner's calculation rules, falling back to the platform adapter
// registry for fields no rule targets.
package resolve

import (
	"context"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/logger"
	"github.com/matthewbaird/payoutrules/internal/platform"
	"github.com/matthewbaird/payoutrules/internal/rules"
	"github.com/matthewbaird/payoutrules/internal/types"
)

// SnapshotSource supplies an owner's committed rules. *rules.Service and
// every rules.Store satisfy it.
type SnapshotSource interface {
	Snapshot(ctx context.Context, ownerID string) (*rules.Snapshot, error)
}

// Engine resolves records. It holds no mutable state of its own and is
// safe for concurrent use.
type Engine struct {
	source   SnapshotSource
	registry *platform.Registry
	formulas *formula.Cache
	workers  int
}

type Option func(*Engine)

// WithFormulaCache shares a compiled-formula cache, usually the one the
// rule service validates with.
func WithFormulaCache(c *formula.Cache) Option {
	return func(e *Engine) { e.formulas = c }
}

// WithWorkers bounds the parallelism of ResolveBatch.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func NewEngine(source SnapshotSource, registry *platform.Registry, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		registry: registry,
		formulas: formula.NewCache(0),
		workers:  runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the adapter registry used for fallbacks.
func (e *Engine) Registry() *platform.Registry { return e.registry }

// Resolve computes the financials of one record. The only error is a
// failure to read the owner's rules.
func (e *Engine) Resolve(ctx context.Context, record types.RawBookingSource, p types.Platform, ownerID string) (types.ResolvedFinancials, error) {
	snap, err := e.source.Snapshot(ctx, ownerID)
	if err != nil {
		return types.ResolvedFinancials{}, err
	}
	return e.ResolveSnapshot(snap.Rules, record, p), nil
}

// ResolveSnapshot resolves record against a fixed rule set. For each
// field the highest-precedence active rule wins outright: if it evaluates
// to absent the field stays absent. Only a field no rule targets falls
// back to the platform's adapter chain, and only canonical fields have one.
func (e *Engine) ResolveSnapshot(ruleSet []types.Rule, record types.RawBookingSource, p types.Platform) types.ResolvedFinancials {
	candidates := Candidates(ruleSet, p)

	var out types.ResolvedFinancials
	for _, field := range types.CanonicalFields {
		if rs, ok := candidates[field]; ok {
			e.apply(&out, field, rs[0], record)
			continue
		}
		if v, src, ok := e.registry.Lookup(p, field, record); ok {
			out.Set(field, v)
			out.Annotate(field, src)
		}
	}

	custom := make([]string, 0, len(candidates))
	for field := range candidates {
		if !types.IsCanonicalField(field) {
			custom = append(custom, field)
		}
	}
	sort.Strings(custom)
	for _, field := range custom {
		e.apply(&out, field, candidates[field][0], record)
	}
	return out
}

func (e *Engine) apply(out *types.ResolvedFinancials, field string, r types.Rule, record types.RawBookingSource) {
	expr, err := e.formulas.Compile(r.Formula)
	if err != nil {
		// Only reachable for rows edited outside the service.
		logger.WithFields(logrus.Fields{
			"rule_id":      r.ID,
			"target_field": field,
		}).WithError(err).Warn("stored formula does not compile")
		out.Annotate(field, types.Source{Kind: types.SourceRule, RuleID: r.ID, Suppressed: true})
		return
	}
	v, ok := expr.Evaluate(record)
	if !ok {
		out.Annotate(field, types.Source{Kind: types.SourceRule, RuleID: r.ID, Suppressed: true})
		return
	}
	out.Set(field, v)
	out.Annotate(field, types.Source{Kind: types.SourceRule, RuleID: r.ID})
}

// Candidates groups the active rules applicable to platform p by target
// field, each group ordered by precedence: platform-specific before ALL,
// then ascending priority with unset last, then newest first.
func Candidates(ruleSet []types.Rule, p types.Platform) map[string][]types.Rule {
	out := make(map[string][]types.Rule)
	for _, r := range ruleSet {
		if !r.IsActive {
			continue
		}
		if r.Platform != p && !r.Platform.IsWildcard() {
			continue
		}
		out[r.TargetField] = append(out[r.TargetField], r)
	}
	for _, rs := range out {
		sort.SliceStable(rs, func(i, j int) bool { return precedes(rs[i], rs[j]) })
	}
	return out
}

func precedes(a, b types.Rule) bool {
	if aw, bw := a.Platform.IsWildcard(), b.Platform.IsWildcard(); aw != bw {
		return bw
	}
	switch {
	case a.Priority == nil && b.Priority != nil:
		return false
	case a.Priority != nil && b.Priority == nil:
		return true
	case a.Priority != nil && *a.Priority != *b.Priority:
		return *a.Priority < *b.Priority
	}
	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	return a.ID < b.ID
}

// Booking is one record of a batch.
type Booking struct {
	ID       string                 `json:"id"`
	Platform types.Platform         `json:"platform"`
	Record   types.RawBookingSource `json:"record"`
}

// BatchResult pairs a booking ID with its financials.
type BatchResult struct {
	ID         string                   `json:"id"`
	Financials types.ResolvedFinancials `json:"financials"`
}

// ResolveBatch resolves bookings against a single snapshot of the owner's
// rules, in parallel. Results keep the input order.
func (e *Engine) ResolveBatch(ctx context.Context, bookings []Booking, ownerID string) ([]BatchResult, error) {
	snap, err := e.source.Snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(bookings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, b := range bookings {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = BatchResult{
				ID:         b.ID,
				Financials: e.ResolveSnapshot(snap.Rules, b.Record, b.Platform),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"bookings": len(bookings),
		"rules":    len(snap.Rules),
	}).Debug("batch resolved")
	return results, nil
}
