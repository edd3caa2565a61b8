package rules

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/payoutrules/internal/database"
	"github.com/matthewbaird/payoutrules/internal/event"
	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/platform"
	"github.com/matthewbaird/payoutrules/internal/types"
)

const owner = "host-1"

type captureRecorder struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (r *captureRecorder) Record(_ context.Context, evt event.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *captureRecorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

type fixture struct {
	svc   *Service
	store Store
	rec   *captureRecorder
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "rules.db") + "?_pragma=foreign_keys(1)"
	db, err := database.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, Tables...))
	return NewSQLStore(db)
}

// forEachStore runs fn against the memory and SQLite stores.
func forEachStore(t *testing.T, fn func(t *testing.T, f fixture)) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": newSQLiteStore,
	}
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			set, err := platform.NewSet("expedia")
			require.NoError(t, err)

			clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
			var mu sync.Mutex
			store := stores[name](t)
			rec := &captureRecorder{}
			svc := NewService(store, set,
				WithRecorder(rec),
				WithClock(func() time.Time {
					mu.Lock()
					defer mu.Unlock()
					clock = clock.Add(time.Second)
					return clock
				}),
			)
			fn(t, fixture{svc: svc, store: store, rec: rec})
		})
	}
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func mustTemplate(t *testing.T, svc *Service, in TemplateInput) types.Template {
	t.Helper()
	tmpl, err := svc.CreateTemplate(context.Background(), owner, in)
	require.NoError(t, err)
	return tmpl
}

func mustRule(t *testing.T, svc *Service, in RuleInput) types.Rule {
	t.Helper()
	r, err := svc.CreateRule(context.Background(), owner, in)
	require.NoError(t, err)
	return r
}

func TestCreateTemplate(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		tmpl := mustTemplate(t, f.svc, TemplateInput{Name: "  Summer  ", Description: "peak season"})
		assert.NotEmpty(t, tmpl.ID)
		assert.Equal(t, "Summer", tmpl.Name)
		assert.False(t, tmpl.IsDefault)

		got, err := f.svc.GetTemplate(ctx, owner, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, tmpl, got)

		_, err = f.svc.CreateTemplate(ctx, owner, TemplateInput{Name: "summer"})
		assert.ErrorIs(t, err, ErrConflict)

		_, err = f.svc.CreateTemplate(ctx, owner, TemplateInput{Name: "   "})
		assert.ErrorIs(t, err, ErrInvalid)

		_, err = f.svc.CreateTemplate(ctx, "other-host", TemplateInput{Name: "Summer"})
		assert.NoError(t, err, "names are unique per owner only")

		_, err = f.svc.GetTemplate(ctx, "other-host", tmpl.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDefaultTemplateUniqueness(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		a := mustTemplate(t, f.svc, TemplateInput{Name: "A", IsDefault: true})
		b := mustTemplate(t, f.svc, TemplateInput{Name: "B", IsDefault: true})
		c := mustTemplate(t, f.svc, TemplateInput{Name: "C"})

		assertSingleDefault := func(want string) {
			t.Helper()
			list, err := f.svc.ListTemplates(ctx, owner)
			require.NoError(t, err)
			var defaults []string
			for _, tmpl := range list {
				if tmpl.IsDefault {
					defaults = append(defaults, tmpl.ID)
				}
			}
			assert.Equal(t, []string{want}, defaults)
		}
		assertSingleDefault(b.ID)

		promoted, err := f.svc.PromoteDefault(ctx, owner, c.ID)
		require.NoError(t, err)
		assert.True(t, promoted.IsDefault)
		assertSingleDefault(c.ID)

		_, err = f.svc.PromoteDefault(ctx, owner, a.ID)
		require.NoError(t, err)
		assertSingleDefault(a.ID)

		_, err = f.svc.UpdateTemplate(ctx, owner, a.ID, TemplatePatch{IsDefault: boolPtr(false)})
		var conflict *DefaultTemplateConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, a.ID, conflict.TemplateID)
		assert.ErrorIs(t, err, ErrConflict)
		assertSingleDefault(a.ID)

		_, err = f.svc.UpdateTemplate(ctx, owner, b.ID, TemplatePatch{IsDefault: boolPtr(false)})
		assert.NoError(t, err, "clearing a flag that is not set is a no-op")

		_, err = f.svc.PromoteDefault(ctx, owner, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateTemplate_RenameKeepsID(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		a := mustTemplate(t, f.svc, TemplateInput{Name: "A"})
		mustTemplate(t, f.svc, TemplateInput{Name: "B"})

		renamed, err := f.svc.UpdateTemplate(ctx, owner, a.ID, TemplatePatch{Name: strPtr("Winter")})
		require.NoError(t, err)
		assert.Equal(t, a.ID, renamed.ID)
		assert.Equal(t, "Winter", renamed.Name)
		assert.True(t, renamed.UpdatedAt.After(a.UpdatedAt))

		_, err = f.svc.UpdateTemplate(ctx, owner, a.ID, TemplatePatch{Name: strPtr("B")})
		assert.ErrorIs(t, err, ErrConflict)

		same, err := f.svc.UpdateTemplate(ctx, owner, a.ID, TemplatePatch{Name: strPtr("winter")})
		require.NoError(t, err, "a template may change the case of its own name")
		assert.Equal(t, "winter", same.Name)
	})
}

func TestCopyTemplate(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		src := mustTemplate(t, f.svc, TemplateInput{Name: "Source"})
		mustRule(t, f.svc, RuleInput{TemplateID: &src.ID, Platform: "ALL", TargetField: "mgmtFee", Formula: "[totalPayout] * 0.15", Priority: intPtr(1), Notes: "standard"})
		mustRule(t, f.svc, RuleInput{TemplateID: &src.ID, Platform: "airbnb", TargetField: "cleaningFee", Formula: "[cleaning]"})
		mustRule(t, f.svc, RuleInput{TemplateID: &src.ID, Platform: "vrbo", TargetField: "channelFee", Formula: "[fee]", IsActive: boolPtr(false)})
		mustRule(t, f.svc, RuleInput{Platform: "ALL", TargetField: "gst", Formula: "[gst]"})

		first := mustTemplate(t, f.svc, TemplateInput{Name: "Copy", CopyFromTemplateID: src.ID})
		second := mustTemplate(t, f.svc, TemplateInput{Name: "Copy of copy", CopyFromTemplateID: first.ID})

		shape := func(templateID string) []string {
			t.Helper()
			list, err := f.svc.ListRules(ctx, owner, RuleFilter{TemplateID: templateID})
			require.NoError(t, err)
			var out []string
			for _, r := range list {
				p := "nil"
				if r.Priority != nil {
					p = strconv.Itoa(*r.Priority)
				}
				out = append(out, string(r.Platform)+"|"+r.TargetField+"|"+r.Formula+"|"+p+"|"+r.Notes)
			}
			sort.Strings(out)
			return out
		}

		want := []string{
			"airbnb|cleaningFee|[cleaning]|nil|",
			"all|mgmtFee|[totalPayout] * 0.15|1|standard",
		}
		assert.Equal(t, want, shape(first.ID), "inactive rules are not copied")
		assert.Equal(t, shape(first.ID), shape(second.ID))

		copied, err := f.svc.ListRules(ctx, owner, RuleFilter{TemplateID: first.ID})
		require.NoError(t, err)
		original, err := f.svc.ListRules(ctx, owner, RuleFilter{TemplateID: src.ID})
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, r := range original {
			ids[r.ID] = true
		}
		for _, r := range copied {
			assert.False(t, ids[r.ID], "copied rules get new IDs")
			assert.True(t, r.IsActive)
		}

		_, err = f.svc.CreateTemplate(ctx, owner, TemplateInput{Name: "Broken", CopyFromTemplateID: "missing"})
		assert.ErrorIs(t, err, ErrNotFound)
		list, err := f.svc.ListTemplates(ctx, owner)
		require.NoError(t, err)
		assert.Len(t, list, 3, "a failed copy leaves nothing behind")
	})
}

func TestDeleteTemplate_Cascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		tmpl := mustTemplate(t, f.svc, TemplateInput{Name: "Doomed", IsDefault: true})
		mustRule(t, f.svc, RuleInput{TemplateID: &tmpl.ID, Platform: "ALL", TargetField: "mgmtFee", Formula: "[a]"})
		mustRule(t, f.svc, RuleInput{TemplateID: &tmpl.ID, Platform: "airbnb", TargetField: "mgmtFee", Formula: "[b]"})
		global := mustRule(t, f.svc, RuleInput{Platform: "ALL", TargetField: "gst", Formula: "[gst]"})

		res, err := f.svc.DeleteTemplate(ctx, owner, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, res.DeletedRuleCount)
		require.NotNil(t, res.Warning)
		assert.Equal(t, 2, res.Warning.RuleCount)

		rules, err := f.svc.ListRules(ctx, owner, RuleFilter{})
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, global.ID, rules[0].ID)

		list, err := f.svc.ListTemplates(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, list, "deleting the default leaves no default")

		empty := mustTemplate(t, f.svc, TemplateInput{Name: "Empty"})
		res, err = f.svc.DeleteTemplate(ctx, owner, empty.ID)
		require.NoError(t, err)
		assert.Nil(t, res.Warning)

		_, err = f.svc.DeleteTemplate(ctx, owner, empty.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateRule_Validation(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		_, err := f.svc.CreateRule(ctx, owner, RuleInput{Platform: "myspace", TargetField: "mgmtFee", Formula: "[a]"})
		var upe *platform.UnknownPlatformError
		assert.True(t, errors.As(err, &upe))

		_, err = f.svc.CreateRule(ctx, owner, RuleInput{Platform: "ALL", TargetField: "mgmtFee", Formula: "[a] +"})
		var se *formula.SyntaxError
		assert.True(t, errors.As(err, &se))

		_, err = f.svc.CreateRule(ctx, owner, RuleInput{Platform: "ALL", TargetField: " ", Formula: "[a]"})
		assert.ErrorIs(t, err, ErrInvalid)

		_, err = f.svc.CreateRule(ctx, owner, RuleInput{TemplateID: strPtr("missing"), Platform: "ALL", TargetField: "mgmtFee", Formula: "[a]"})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.svc.CreateRule(ctx, "", RuleInput{Platform: "ALL", TargetField: "mgmtFee", Formula: "[a]"})
		assert.ErrorIs(t, err, ErrInvalid)

		long := "[a]" + strings.Repeat(" + [a]", maxFormula/6+1)
		require.Greater(t, len(long), maxFormula)
		_, err = f.svc.CreateRule(ctx, owner, RuleInput{Platform: "ALL", TargetField: "mgmtFee", Formula: long})
		assert.ErrorIs(t, err, ErrInvalid)

		r := mustRule(t, f.svc, RuleInput{Platform: "EXPEDIA", TargetField: "ownerBonus", Formula: "  [nights] * 5  "})
		assert.Equal(t, types.Platform("expedia"), r.Platform)
		assert.Equal(t, "[nights] * 5", r.Formula)
		assert.True(t, r.IsActive)
		assert.Nil(t, r.TemplateID)

		assert.Equal(t, []string{event.RuleCreated}, f.rec.eventTypes())
	})
}

func TestUpdateRule(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		tmpl := mustTemplate(t, f.svc, TemplateInput{Name: "T"})
		r1 := mustRule(t, f.svc, RuleInput{TemplateID: &tmpl.ID, Platform: "airbnb", TargetField: "mgmtFee", Formula: "[a]", Priority: intPtr(2)})
		r2 := mustRule(t, f.svc, RuleInput{Platform: "airbnb", TargetField: "mgmtFee", Formula: "[b]"})
		require.Greater(t, r2.Seq, r1.Seq)

		upd, err := f.svc.UpdateRule(ctx, owner, r1.ID, RulePatch{Formula: strPtr("[a] * 2"), ClearPriority: true})
		require.NoError(t, err)
		assert.Equal(t, r1.ID, upd.ID)
		assert.Equal(t, "[a] * 2", upd.Formula)
		assert.Nil(t, upd.Priority)
		assert.Equal(t, r1.Seq, upd.Seq, "same-platform edits keep the creation sequence")

		moved, err := f.svc.UpdateRule(ctx, owner, r1.ID, RulePatch{Platform: strPtr("VRBO")})
		require.NoError(t, err)
		assert.Equal(t, r1.ID, moved.ID)
		assert.Equal(t, types.PlatformVrbo, moved.Platform)
		assert.Greater(t, moved.Seq, r2.Seq, "a platform change ranks as newly created")

		detached, err := f.svc.UpdateRule(ctx, owner, r1.ID, RulePatch{ClearTemplate: true})
		require.NoError(t, err)
		assert.Nil(t, detached.TemplateID)

		before := len(f.rec.eventTypes())
		same, err := f.svc.UpdateRule(ctx, owner, r1.ID, RulePatch{Formula: strPtr("[a] * 2")})
		require.NoError(t, err)
		assert.Equal(t, detached.UpdatedAt, same.UpdatedAt)
		assert.Len(t, f.rec.eventTypes(), before, "no-op patches emit nothing")

		_, err = f.svc.UpdateRule(ctx, owner, r1.ID, RulePatch{Formula: strPtr("find(")})
		var se *formula.SyntaxError
		assert.True(t, errors.As(err, &se))

		_, err = f.svc.UpdateRule(ctx, owner, r1.ID, RulePatch{Formula: strPtr("[a]" + strings.Repeat(" + [a]", maxFormula/6+1))})
		assert.ErrorIs(t, err, ErrInvalid)

		_, err = f.svc.UpdateRule(ctx, owner, "missing", RulePatch{Notes: strPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.svc.UpdateRule(ctx, owner, r1.ID, RulePatch{Priority: intPtr(1), ClearPriority: true})
		assert.ErrorIs(t, err, ErrInvalid)

		got, err := f.svc.GetRule(ctx, owner, r1.ID)
		require.NoError(t, err)
		assert.Equal(t, detached.Formula, got.Formula)
	})
}

func TestDeleteRule(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		r := mustRule(t, f.svc, RuleInput{Platform: "ALL", TargetField: "gst", Formula: "[gst]"})

		require.NoError(t, f.svc.DeleteRule(ctx, owner, r.ID))
		_, err := f.svc.GetRule(ctx, owner, r.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, f.svc.DeleteRule(ctx, owner, r.ID), ErrNotFound)

		assert.Equal(t, []string{event.RuleCreated, event.RuleDeleted}, f.rec.eventTypes())
	})
}

func TestListRules_Filter(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		tmpl := mustTemplate(t, f.svc, TemplateInput{Name: "T"})
		mustRule(t, f.svc, RuleInput{TemplateID: &tmpl.ID, Platform: "airbnb", TargetField: "mgmtFee", Formula: "[a]"})
		mustRule(t, f.svc, RuleInput{Platform: "airbnb", TargetField: "gst", Formula: "[b]", IsActive: boolPtr(false)})
		mustRule(t, f.svc, RuleInput{Platform: "vrbo", TargetField: "gst", Formula: "[c]"})

		count := func(filter RuleFilter) int {
			list, err := f.svc.ListRules(ctx, owner, filter)
			require.NoError(t, err)
			return len(list)
		}
		assert.Equal(t, 3, count(RuleFilter{}))
		assert.Equal(t, 1, count(RuleFilter{TemplateID: tmpl.ID}))
		assert.Equal(t, 2, count(RuleFilter{Untemplated: true}))
		assert.Equal(t, 2, count(RuleFilter{Platform: types.PlatformAirbnb}))
		assert.Equal(t, 2, count(RuleFilter{TargetField: "gst"}))
		assert.Equal(t, 1, count(RuleFilter{TargetField: "gst", ActiveOnly: true}))
	})
}

func TestListCustomFields(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		tmpl := mustTemplate(t, f.svc, TemplateInput{Name: "T"})
		mustRule(t, f.svc, RuleInput{TemplateID: &tmpl.ID, Platform: "airbnb", TargetField: "ownerBonus", Formula: "[nights] * 5"})
		mustRule(t, f.svc, RuleInput{Platform: "vrbo", TargetField: "ownerBonus", Formula: "[nights] * 5", IsActive: boolPtr(false)})

		fields, err := f.svc.ListCustomFields(ctx, owner)
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, 2, fields[0].UsageCount)
		assert.Equal(t, []string{"T"}, fields[0].Templates)
	})
}

func TestConcurrentWritesGetDistinctSequences(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		const n = 20

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.CreateRule(ctx, owner, RuleInput{Platform: "ALL", TargetField: "mgmtFee", Formula: "[a]"})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		list, err := f.svc.ListRules(ctx, owner, RuleFilter{})
		require.NoError(t, err)
		require.Len(t, list, n)
		seen := map[int64]bool{}
		for _, r := range list {
			assert.False(t, seen[r.Seq])
			seen[r.Seq] = true
		}
	})
}

func TestEventsEmittedForTemplateLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		a := mustTemplate(t, f.svc, TemplateInput{Name: "A", IsDefault: true})
		b := mustTemplate(t, f.svc, TemplateInput{Name: "B"})
		_, err := f.svc.UpdateTemplate(ctx, owner, b.ID, TemplatePatch{Name: strPtr("B2")})
		require.NoError(t, err)
		_, err = f.svc.PromoteDefault(ctx, owner, b.ID)
		require.NoError(t, err)
		_, err = f.svc.PromoteDefault(ctx, owner, b.ID)
		require.NoError(t, err)
		_, err = f.svc.DeleteTemplate(ctx, owner, a.ID)
		require.NoError(t, err)

		assert.Equal(t, []string{
			event.TemplateCreated,
			event.DefaultTemplatePromoted,
			event.TemplateCreated,
			event.TemplateUpdated,
			event.DefaultTemplatePromoted,
			event.TemplateDeleted,
		}, f.rec.eventTypes())
	})
}

func TestSQLStore_ReloadsCommittedState(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "reload.db") + "?_pragma=foreign_keys(1)"
	db, err := database.Open(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.Migrate(ctx, db, Tables...))

	set, err := platform.NewSet()
	require.NoError(t, err)
	svc := NewService(NewSQLStore(db), set)

	tmpl, err := svc.CreateTemplate(ctx, owner, TemplateInput{Name: "T", IsDefault: true})
	require.NoError(t, err)
	r, err := svc.CreateRule(ctx, owner, RuleInput{TemplateID: &tmpl.ID, Platform: "airbnb", TargetField: "mgmtFee", Formula: "[a]", Priority: intPtr(3)})
	require.NoError(t, err)

	fresh, err := NewSQLStore(db).Snapshot(ctx, owner)
	require.NoError(t, err)
	gotT, ok := fresh.Template(tmpl.ID)
	require.True(t, ok)
	assert.True(t, gotT.IsDefault)
	gotR, ok := fresh.Rule(r.ID)
	require.True(t, ok)
	assert.Equal(t, r.Formula, gotR.Formula)
	require.NotNil(t, gotR.Priority)
	assert.Equal(t, 3, *gotR.Priority)
	require.NotNil(t, gotR.TemplateID)
	assert.Equal(t, tmpl.ID, *gotR.TemplateID)
	assert.True(t, gotR.CreatedAt.Equal(r.CreatedAt))
}

func TestStore_ConcurrentUpdatesCacheLastCommit(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		const n = 16
		now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := f.store.Update(ctx, owner, func(tx Tx) error {
					return tx.PutTemplate(types.Template{
						ID:        "t-" + strconv.Itoa(i),
						OwnerID:   owner,
						Name:      "T" + strconv.Itoa(i),
						CreatedAt: now,
						UpdatedAt: now,
					})
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		snap, err := f.store.Snapshot(ctx, owner)
		require.NoError(t, err)
		assert.Len(t, snap.Templates, n)

		if sqlStore, ok := f.store.(*SQLStore); ok {
			fresh, err := NewSQLStore(sqlStore.db).Snapshot(ctx, owner)
			require.NoError(t, err)
			assert.Len(t, fresh.Templates, n)
		}
	})
}
