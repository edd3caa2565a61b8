package activity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/matthewbaird/payoutrules/internal/database"
	"github.com/matthewbaird/payoutrules/internal/types"
)

func TestSQLStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		dsn := "file:" + filepath.Join(t.TempDir(), "activity.db") + "?_pragma=foreign_keys(1)"
		db, err := database.Open(ctx, dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		if err := database.Migrate(ctx, db, Table); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return NewSQLStore(db)
	})
}

func TestSQLStore_DuplicateEntriesIgnored(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, "file:"+filepath.Join(t.TempDir(), "dup.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, Table); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := NewSQLStore(db)

	e := testEntry("host-1", "rule", "r1", "rule", "rule_created", "created", 1)
	if err := store.WriteEntries(ctx, []types.ActivityEntry{e}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := store.WriteEntries(ctx, []types.ActivityEntry{e}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	_, _, total, err := store.QueryByEntity(ctx, "host-1", "rule", "r1", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}
