package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	"github.com/matthewbaird/payoutrules/internal/types"
)

// Store is the interface for reading and writing activity entries.
// ActivityEntry is not a rule-store entity; it lives in its own table and
// is written after the mutation it describes has committed.
type Store interface {
	// WriteEntries writes one or more activity entries (one event → many entries).
	WriteEntries(ctx context.Context, entries []types.ActivityEntry) error

	// QueryByEntity returns an owner's activity entries for one entity,
	// newest first.
	QueryByEntity(ctx context.Context, ownerID, entityType, entityID string, opts QueryOptions) (entries []types.ActivityEntry, nextCursor string, totalCount int, err error)
}

const tableName = "activity_entries"

var columns = []*schema.Column{
	{Name: "event_id", Type: field.TypeString},
	{Name: "event_type", Type: field.TypeString},
	{Name: "occurred_at", Type: field.TypeInt64},
	{Name: "owner_id", Type: field.TypeString},
	{Name: "indexed_entity_type", Type: field.TypeString},
	{Name: "indexed_entity_id", Type: field.TypeString},
	{Name: "entity_role", Type: field.TypeString},
	{Name: "source_refs", Type: field.TypeString, Default: "[]"},
	{Name: "summary", Type: field.TypeString, Size: 2048},
	{Name: "category", Type: field.TypeString},
	{Name: "payload", Type: field.TypeBytes, Nullable: true},
}

// Table is the migration schema of the activity_entries table.
var Table = &schema.Table{
	Name:       tableName,
	Columns:    columns,
	PrimaryKey: []*schema.Column{columns[4], columns[5], columns[0]},
	Indexes: []*schema.Index{
		{Name: "activity_owner_entity_time", Columns: []*schema.Column{columns[3], columns[4], columns[5], columns[2]}},
	},
}

func columnNames() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

// SQLStore implements Store on a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore. The activity_entries table must have
// been migrated.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func builder() *entsql.DialectBuilder { return entsql.Dialect(dialect.SQLite) }

// WriteEntries inserts activity entries; duplicates are ignored.
func (s *SQLStore) WriteEntries(ctx context.Context, entries []types.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ins := builder().Insert(tableName).Columns(columnNames()...)
	for _, e := range entries {
		refsJSON, err := json.Marshal(e.SourceRefs)
		if err != nil {
			return fmt.Errorf("encoding source refs: %w", err)
		}
		ins.Values(
			e.EventID, e.EventType, e.OccurredAt.UTC().UnixNano(), e.OwnerID, e.IndexedEntityType,
			e.IndexedEntityID, e.EntityRole, string(refsJSON), e.Summary, e.Category, []byte(e.Payload),
		)
	}
	ins.OnConflict(entsql.DoNothing())

	query, args := ins.Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing activity entries: %w", err)
	}
	return nil
}

func (s *SQLStore) QueryByEntity(ctx context.Context, ownerID, entityType, entityID string, opts QueryOptions) ([]types.ActivityEntry, string, int, error) {
	preds := []*entsql.Predicate{
		entsql.EQ("owner_id", ownerID),
		entsql.EQ("indexed_entity_type", entityType),
		entsql.EQ("indexed_entity_id", entityID),
	}
	if opts.Since != nil {
		preds = append(preds, entsql.GTE("occurred_at", opts.Since.UTC().UnixNano()))
	}
	if opts.Until != nil {
		preds = append(preds, entsql.LTE("occurred_at", opts.Until.UTC().UnixNano()))
	}
	if len(opts.Categories) > 0 {
		preds = append(preds, entsql.In("category", anySlice(opts.Categories)...))
	}
	if len(opts.EventTypes) > 0 {
		preds = append(preds, entsql.In("event_type", anySlice(opts.EventTypes)...))
	}

	countQuery, countArgs := builder().
		Select(entsql.Count("*")).
		From(entsql.Table(tableName)).
		Where(entsql.And(preds...)).
		Query()
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		return nil, "", 0, fmt.Errorf("counting activity: %w", err)
	}

	if cursor, ok := opts.cursor(); ok {
		preds = append(preds, entsql.LT("occurred_at", cursor.UTC().UnixNano()))
	}
	limit := opts.limit()
	query, args := builder().
		Select(columnNames()...).
		From(entsql.Table(tableName)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("occurred_at"), entsql.Asc("event_id")).
		Limit(limit + 1).
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", 0, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var entries []types.ActivityEntry
	for rows.Next() {
		var (
			e        types.ActivityEntry
			occurred int64
			refsJSON string
			payload  []byte
		)
		if err := rows.Scan(
			&e.EventID, &e.EventType, &occurred, &e.OwnerID, &e.IndexedEntityType,
			&e.IndexedEntityID, &e.EntityRole, &refsJSON, &e.Summary, &e.Category, &payload,
		); err != nil {
			return nil, "", 0, fmt.Errorf("scanning activity: %w", err)
		}
		e.OccurredAt = time.Unix(0, occurred).UTC()
		if err := json.Unmarshal([]byte(refsJSON), &e.SourceRefs); err != nil {
			return nil, "", 0, fmt.Errorf("decoding source refs: %w", err)
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", 0, err
	}

	var nextCursor string
	if len(entries) > limit {
		entries = entries[:limit]
		nextCursor = entries[len(entries)-1].OccurredAt.Format(time.RFC3339Nano)
	}
	return entries, nextCursor, totalCount, nil
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
