package resolve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/payoutrules/internal/platform"
	"github.com/matthewbaird/payoutrules/internal/rules"
	"github.com/matthewbaird/payoutrules/internal/types"
)

type staticSource struct {
	rules []types.Rule
	err   error
}

func (s staticSource) Snapshot(_ context.Context, ownerID string) (*rules.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &rules.Snapshot{OwnerID: ownerID, Rules: s.rules}, nil
}

func newEngine(rs ...types.Rule) *Engine {
	return NewEngine(staticSource{rules: rs}, platform.DefaultRegistry(), WithWorkers(4))
}

func prio(i int) *int { return &i }

func rule(id string, seq int64, p types.Platform, target, src string, priority *int) types.Rule {
	return types.Rule{
		ID:          id,
		OwnerID:     "host-1",
		Platform:    p,
		TargetField: target,
		Formula:     src,
		Priority:    priority,
		IsActive:    true,
		Seq:         seq,
	}
}

func value(t *testing.T, r types.ResolvedFinancials, field string) float64 {
	t.Helper()
	v, ok := r.Get(field)
	require.True(t, ok, "%s should be present", field)
	return v
}

func TestResolve_HostawayFallbackSkipsNull(t *testing.T) {
	e := newEngine()
	got, err := e.Resolve(context.Background(), types.RawBookingSource{
		"totalPrice":            500,
		"airbnbTotalPaidAmount": nil,
	}, types.PlatformHostaway, "host-1")
	require.NoError(t, err)

	assert.Equal(t, 500.0, value(t, got, types.FieldTotalPayout))
	assert.Equal(t, types.Source{Kind: types.SourceAdapter, RawField: "totalPrice"}, got.Sources[types.FieldTotalPayout])
	assert.Nil(t, got.MgmtFee)
}

func TestResolve_RuleComputesFromRecord(t *testing.T) {
	e := newEngine(rule("r1", 1, types.PlatformAirbnb, types.FieldMgmtFee, "[totalPayout] * 0.15", nil))
	got, err := e.Resolve(context.Background(), types.RawBookingSource{"totalPayout": 1000}, types.PlatformAirbnb, "host-1")
	require.NoError(t, err)

	assert.InDelta(t, 150.0, value(t, got, types.FieldMgmtFee), 1e-9)
	assert.Equal(t, types.Source{Kind: types.SourceRule, RuleID: "r1"}, got.Sources[types.FieldMgmtFee])
}

func TestResolve_NoMatchingElementIsAbsent(t *testing.T) {
	e := newEngine(rule("r1", 1, types.PlatformAll, types.FieldCleaningFee,
		`[financeField].find([name] == "cleaningFee").[total]`, nil))
	got, err := e.Resolve(context.Background(), types.RawBookingSource{
		"financeField": []any{map[string]any{"name": "baseRate", "total": 200}},
		"cleaningFee":  80,
	}, types.PlatformAirbnb, "host-1")
	require.NoError(t, err)

	assert.Nil(t, got.CleaningFee, "an absent rule result does not fall back to the adapter")
	assert.Equal(t, types.Source{Kind: types.SourceRule, RuleID: "r1", Suppressed: true}, got.Sources[types.FieldCleaningFee])
}

func TestResolve_LowerPriorityWins(t *testing.T) {
	e := newEngine(
		rule("p2", 1, types.PlatformAirbnb, types.FieldMgmtFee, "[a]", prio(2)),
		rule("p1", 2, types.PlatformAirbnb, types.FieldMgmtFee, "[b]", prio(1)),
	)
	got, err := e.Resolve(context.Background(), types.RawBookingSource{"a": 10, "b": 20}, types.PlatformAirbnb, "host-1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, value(t, got, types.FieldMgmtFee))
}

func TestResolve_DivisionByZeroIsAbsent(t *testing.T) {
	e := newEngine(rule("r1", 1, types.PlatformAll, "ratio", "[a] / [b]", nil))
	got, err := e.Resolve(context.Background(), types.RawBookingSource{"a": 10, "b": 0}, types.PlatformVrbo, "host-1")
	require.NoError(t, err)

	_, ok := got.Get("ratio")
	assert.False(t, ok)
	assert.Empty(t, got.Custom)
}

func TestCandidates_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		rules  []types.Rule
		winner string
	}{
		{
			name: "platform specific beats ALL regardless of priority",
			rules: []types.Rule{
				rule("all", 1, types.PlatformAll, "f", "1", prio(0)),
				rule("airbnb", 2, types.PlatformAirbnb, "f", "2", nil),
			},
			winner: "airbnb",
		},
		{
			name: "set priority beats unset",
			rules: []types.Rule{
				rule("unset", 2, types.PlatformAirbnb, "f", "1", nil),
				rule("set", 1, types.PlatformAirbnb, "f", "2", prio(50)),
			},
			winner: "set",
		},
		{
			name: "newest wins a priority tie",
			rules: []types.Rule{
				rule("old", 1, types.PlatformAirbnb, "f", "1", prio(1)),
				rule("new", 2, types.PlatformAirbnb, "f", "2", prio(1)),
			},
			winner: "new",
		},
		{
			name: "newest wins when neither has priority",
			rules: []types.Rule{
				rule("new", 9, types.PlatformAll, "f", "1", nil),
				rule("old", 3, types.PlatformAll, "f", "2", nil),
			},
			winner: "new",
		},
		{
			name: "negative priority sorts first",
			rules: []types.Rule{
				rule("zero", 1, types.PlatformAirbnb, "f", "1", prio(0)),
				rule("neg", 2, types.PlatformAirbnb, "f", "2", prio(-1)),
			},
			winner: "neg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Candidates(tt.rules, types.PlatformAirbnb)
			require.NotEmpty(t, got["f"])
			assert.Equal(t, tt.winner, got["f"][0].ID)

			reversed := []types.Rule{tt.rules[1], tt.rules[0]}
			assert.Equal(t, tt.winner, Candidates(reversed, types.PlatformAirbnb)["f"][0].ID, "input order must not matter")
		})
	}
}

func TestCandidates_FiltersInactiveAndOtherPlatforms(t *testing.T) {
	inactive := rule("inactive", 3, types.PlatformAirbnb, "f", "1", nil)
	inactive.IsActive = false
	got := Candidates([]types.Rule{
		inactive,
		rule("vrbo", 2, types.PlatformVrbo, "f", "1", nil),
		rule("all", 1, types.PlatformAll, "f", "1", nil),
	}, types.PlatformAirbnb)

	require.Len(t, got["f"], 1)
	assert.Equal(t, "all", got["f"][0].ID)
}

func TestResolve_SuppressedWinnerDoesNotFallThrough(t *testing.T) {
	e := newEngine(
		rule("winner", 2, types.PlatformAirbnb, types.FieldMgmtFee, "[missing]", prio(1)),
		rule("loser", 1, types.PlatformAirbnb, types.FieldMgmtFee, "[present]", prio(2)),
	)
	got := e.ResolveSnapshot(mustRules(t, e), types.RawBookingSource{"present": 5, "mgmtFee": 7}, types.PlatformAirbnb)
	assert.Nil(t, got.MgmtFee)
	assert.True(t, got.Sources[types.FieldMgmtFee].Suppressed)
}

func TestResolve_InactiveRuleLetsAdapterFallBack(t *testing.T) {
	r := rule("off", 1, types.PlatformAll, types.FieldCleaningFee, "999", nil)
	r.IsActive = false
	e := newEngine(r)
	got, err := e.Resolve(context.Background(), types.RawBookingSource{"cleaning_fee": "45.50"}, types.PlatformBooking, "host-1")
	require.NoError(t, err)

	assert.Equal(t, 45.5, value(t, got, types.FieldCleaningFee))
	assert.Equal(t, types.SourceAdapter, got.Sources[types.FieldCleaningFee].Kind)
}

func TestResolve_CustomFieldsHaveNoFallback(t *testing.T) {
	e := newEngine(
		rule("bonus", 1, types.PlatformAll, "ownerBonus", "[nights] * 5", nil),
		rule("deposit", 2, types.PlatformAll, "securityDeposit", "[deposit]", nil),
	)
	got, err := e.Resolve(context.Background(), types.RawBookingSource{"nights": 3, "securityDeposit": 300}, types.PlatformDirect, "host-1")
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"ownerBonus": 15}, got.Custom)
	assert.True(t, got.Sources["securityDeposit"].Suppressed)
}

func TestResolve_DerivedNightlyRate(t *testing.T) {
	e := newEngine()
	got, err := e.Resolve(context.Background(), types.RawBookingSource{"basePrice": 1000, "nights": 3}, types.PlatformHostaway, "host-1")
	require.NoError(t, err)

	assert.Equal(t, 333.33, value(t, got, types.FieldNightlyRate))
	assert.Equal(t, types.SourceDerived, got.Sources[types.FieldNightlyRate].Kind)
}

func TestResolve_Deterministic(t *testing.T) {
	e := newEngine(
		rule("a", 1, types.PlatformAll, types.FieldMgmtFee, "[totalPrice] * 0.2", nil),
		rule("b", 2, types.PlatformAirbnb, types.FieldNetEarnings, "[totalPrice] - [hostFee]", prio(1)),
		rule("c", 3, types.PlatformAll, "ownerBonus", "[nights] * 5", nil),
	)
	record := types.RawBookingSource{"totalPrice": 812.4, "hostFee": 24.37, "nights": 4}

	first, err := e.Resolve(context.Background(), record, types.PlatformAirbnb, "host-1")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := e.Resolve(context.Background(), record, types.PlatformAirbnb, "host-1")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolve_SnapshotError(t *testing.T) {
	boom := errors.New("store offline")
	e := NewEngine(staticSource{err: boom}, platform.DefaultRegistry())

	_, err := e.Resolve(context.Background(), types.RawBookingSource{}, types.PlatformAirbnb, "host-1")
	assert.ErrorIs(t, err, boom)

	_, err = e.ResolveBatch(context.Background(), []Booking{{ID: "b1"}}, "host-1")
	assert.ErrorIs(t, err, boom)
}

func TestResolve_AgainstRuleService(t *testing.T) {
	ctx := context.Background()
	set, err := platform.NewSet()
	require.NoError(t, err)
	svc := rules.NewService(rules.NewMemoryStore(), set)

	tmpl, err := svc.CreateTemplate(ctx, "host-1", rules.TemplateInput{Name: "Standard", IsDefault: true})
	require.NoError(t, err)
	_, err = svc.CreateRule(ctx, "host-1", rules.RuleInput{
		TemplateID: &tmpl.ID, Platform: "ALL", TargetField: types.FieldMgmtFee, Formula: "[totalPrice] * 0.1",
	})
	require.NoError(t, err)
	_, err = svc.CreateRule(ctx, "host-1", rules.RuleInput{
		Platform: "booking", TargetField: types.FieldMgmtFee, Formula: "[totalPrice] * 0.12",
	})
	require.NoError(t, err)

	e := NewEngine(svc, platform.DefaultRegistry())
	record := types.RawBookingSource{"totalPrice": 1000}

	got, err := e.Resolve(ctx, record, types.PlatformBooking, "host-1")
	require.NoError(t, err)
	assert.InDelta(t, 120.0, value(t, got, types.FieldMgmtFee), 1e-9)

	got, err = e.Resolve(ctx, record, types.PlatformVrbo, "host-1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, value(t, got, types.FieldMgmtFee), 1e-9)

	other, err := e.Resolve(ctx, record, types.PlatformVrbo, "host-2")
	require.NoError(t, err)
	assert.Nil(t, other.MgmtFee, "rules are owner scoped")
}

func TestResolveBatch_KeepsOrder(t *testing.T) {
	e := newEngine(rule("r1", 1, types.PlatformAll, types.FieldMgmtFee, "[totalPrice] * 0.1", nil))

	bookings := make([]Booking, 50)
	for i := range bookings {
		bookings[i] = Booking{
			ID:       fmt.Sprintf("b%02d", i),
			Platform: types.PlatformDirect,
			Record:   types.RawBookingSource{"totalPrice": float64(i * 10)},
		}
	}

	got, err := e.ResolveBatch(context.Background(), bookings, "host-1")
	require.NoError(t, err)
	require.Len(t, got, len(bookings))
	for i, res := range got {
		assert.Equal(t, bookings[i].ID, res.ID)
		assert.InDelta(t, float64(i), value(t, res.Financials, types.FieldMgmtFee), 1e-9)
	}
}

func TestResolveBatch_Cancelled(t *testing.T) {
	e := newEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ResolveBatch(ctx, []Booking{{ID: "b1", Platform: types.PlatformDirect}}, "host-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func mustRules(t *testing.T, e *Engine) []types.Rule {
	t.Helper()
	snap, err := e.source.Snapshot(context.Background(), "host-1")
	require.NoError(t, err)
	return snap.Rules
}
