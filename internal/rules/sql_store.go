package rules

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	esql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	"github.com/matthewbaird/payoutrules/internal/types"
)

const (
	templatesTable = "templates"
	rulesTable     = "rules"
)

var templateColumns = []*schema.Column{
	{Name: "id", Type: field.TypeString, Unique: true},
	{Name: "owner_id", Type: field.TypeString},
	{Name: "name", Type: field.TypeString, Size: 200},
	{Name: "description", Type: field.TypeString, Size: 2000, Default: ""},
	{Name: "is_default", Type: field.TypeBool, Default: false},
	{Name: "created_at", Type: field.TypeInt64},
	{Name: "updated_at", Type: field.TypeInt64},
}

var ruleColumns = []*schema.Column{
	{Name: "id", Type: field.TypeString, Unique: true},
	{Name: "owner_id", Type: field.TypeString},
	{Name: "template_id", Type: field.TypeString, Nullable: true},
	{Name: "platform", Type: field.TypeString},
	{Name: "target_field", Type: field.TypeString},
	{Name: "formula", Type: field.TypeString, Size: 4096},
	{Name: "priority", Type: field.TypeInt, Nullable: true},
	{Name: "is_active", Type: field.TypeBool, Default: true},
	{Name: "notes", Type: field.TypeString, Size: 2000, Default: ""},
	{Name: "seq", Type: field.TypeInt64},
	{Name: "created_at", Type: field.TypeInt64},
	{Name: "updated_at", Type: field.TypeInt64},
}

var (
	// TemplatesTable holds an owner's templates. One default per owner is
	// enforced by a partial unique index.
	TemplatesTable = &schema.Table{
		Name:       templatesTable,
		Columns:    templateColumns,
		PrimaryKey: []*schema.Column{templateColumns[0]},
		Indexes: []*schema.Index{
			{Name: "templates_owner_name", Unique: true, Columns: []*schema.Column{templateColumns[1], templateColumns[2]}},
			{Name: "templates_owner_default", Unique: true, Columns: []*schema.Column{templateColumns[1]}, Annotation: entsql.IndexWhere("is_default")},
		},
	}

	// RulesTable holds an owner's rules; deleting a template cascades.
	RulesTable = &schema.Table{
		Name:       rulesTable,
		Columns:    ruleColumns,
		PrimaryKey: []*schema.Column{ruleColumns[0]},
		ForeignKeys: []*schema.ForeignKey{{
			Symbol:     "rules_templates_rules",
			Columns:    []*schema.Column{ruleColumns[2]},
			RefColumns: []*schema.Column{templateColumns[0]},
			OnDelete:   schema.Cascade,
		}},
		Indexes: []*schema.Index{
			{Name: "rules_owner_target", Columns: []*schema.Column{ruleColumns[1], ruleColumns[4]}},
			{Name: "rules_owner_seq", Unique: true, Columns: []*schema.Column{ruleColumns[1], ruleColumns[9]}},
		},
	}

	// Tables lists the tables SQLStore needs, in creation order.
	Tables = []*schema.Table{TemplatesTable, RulesTable}
)

func init() {
	RulesTable.ForeignKeys[0].RefTable = TemplatesTable
}

func names(cols []*schema.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func builder() *esql.DialectBuilder { return esql.Dialect(dialect.SQLite) }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLStore implements Store on SQLite through ent's SQL builder. Committed
// snapshots are cached per owner; every write goes through Update, which
// replaces the cached snapshot after commit. Updates for one owner are
// serialized so the cache always holds the last committed state.
type SQLStore struct {
	db     *sql.DB
	cache  sync.Map // owner ID → *Snapshot
	owners keyedMutex
}

// NewSQLStore creates a store over db. Tables must have been migrated.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Snapshot(ctx context.Context, ownerID string) (*Snapshot, error) {
	if v, ok := s.cache.Load(ownerID); ok {
		return v.(*Snapshot), nil
	}
	snap, err := load(ctx, s.db, ownerID)
	if err != nil {
		return nil, err
	}
	v, _ := s.cache.LoadOrStore(ownerID, snap)
	return v.(*Snapshot), nil
}

func (s *SQLStore) Update(ctx context.Context, ownerID string, fn func(tx Tx) error) (err error) {
	unlock := s.owners.Lock(ownerID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	snap, err := load(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	stx := &sqlTx{workingSet: newWorkingSet(snap), ctx: ctx, q: tx}
	if err = fn(stx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	s.cache.Store(ownerID, stx.snapshot())
	return nil
}

func load(ctx context.Context, q querier, ownerID string) (*Snapshot, error) {
	templates, err := loadTemplates(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	rules, err := loadRules(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	return newSnapshot(ownerID, templates, rules), nil
}

func loadTemplates(ctx context.Context, q querier, ownerID string) ([]types.Template, error) {
	query, args := builder().
		Select(names(templateColumns)...).
		From(esql.Table(templatesTable)).
		Where(esql.EQ("owner_id", ownerID)).
		Query()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var out []types.Template
	for rows.Next() {
		var (
			t                types.Template
			created, updated int64
		)
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Description, &t.IsDefault, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		t.CreatedAt, t.UpdatedAt = fromNanos(created), fromNanos(updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

func loadRules(ctx context.Context, q querier, ownerID string) ([]types.Rule, error) {
	query, args := builder().
		Select(names(ruleColumns)...).
		From(esql.Table(rulesTable)).
		Where(esql.EQ("owner_id", ownerID)).
		Query()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var out []types.Rule
	for rows.Next() {
		var (
			r                types.Rule
			templateID       sql.NullString
			platform         string
			priority         sql.NullInt64
			created, updated int64
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &templateID, &platform, &r.TargetField, &r.Formula,
			&priority, &r.IsActive, &r.Notes, &r.Seq, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		r.Platform = types.Platform(platform)
		if templateID.Valid {
			id := templateID.String
			r.TemplateID = &id
		}
		if priority.Valid {
			p := int(priority.Int64)
			r.Priority = &p
		}
		r.CreatedAt, r.UpdatedAt = fromNanos(created), fromNanos(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type sqlTx struct {
	*workingSet
	ctx context.Context
	q   querier
}

func (tx *sqlTx) exec(query string, args []any) error {
	if _, err := tx.q.ExecContext(tx.ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	return nil
}

func (tx *sqlTx) PutTemplate(t types.Template) error {
	query, args := builder().
		Insert(templatesTable).
		Columns(names(templateColumns)...).
		Values(t.ID, t.OwnerID, t.Name, t.Description, t.IsDefault, t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano()).
		OnConflict(esql.ConflictColumns("id"), esql.ResolveWithNewValues()).
		Query()
	if err := tx.exec(query, args); err != nil {
		return fmt.Errorf("writing template %s: %w", t.ID, err)
	}
	tx.putTemplate(t)
	return nil
}

func (tx *sqlTx) DeleteTemplate(id string) ([]string, error) {
	if _, ok := tx.Template(id); !ok {
		return nil, notFound("template", id)
	}
	query, args := builder().
		Delete(rulesTable).
		Where(esql.And(esql.EQ("owner_id", tx.ownerID), esql.EQ("template_id", id))).
		Query()
	if err := tx.exec(query, args); err != nil {
		return nil, fmt.Errorf("deleting rules of template %s: %w", id, err)
	}
	query, args = builder().
		Delete(templatesTable).
		Where(esql.And(esql.EQ("owner_id", tx.ownerID), esql.EQ("id", id))).
		Query()
	if err := tx.exec(query, args); err != nil {
		return nil, fmt.Errorf("deleting template %s: %w", id, err)
	}
	removed, _ := tx.deleteTemplate(id)
	return removed, nil
}

func (tx *sqlTx) PutRule(r types.Rule) error {
	var templateID, priority any
	if r.TemplateID != nil {
		templateID = *r.TemplateID
	}
	if r.Priority != nil {
		priority = *r.Priority
	}
	query, args := builder().
		Insert(rulesTable).
		Columns(names(ruleColumns)...).
		Values(r.ID, r.OwnerID, templateID, string(r.Platform), r.TargetField, r.Formula,
			priority, r.IsActive, r.Notes, r.Seq, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano()).
		OnConflict(esql.ConflictColumns("id"), esql.ResolveWithNewValues()).
		Query()
	if err := tx.exec(query, args); err != nil {
		return fmt.Errorf("writing rule %s: %w", r.ID, err)
	}
	tx.putRule(r)
	return nil
}

func (tx *sqlTx) DeleteRule(id string) error {
	if _, ok := tx.Rule(id); !ok {
		return notFound("rule", id)
	}
	query, args := builder().
		Delete(rulesTable).
		Where(esql.And(esql.EQ("owner_id", tx.ownerID), esql.EQ("id", id))).
		Query()
	if err := tx.exec(query, args); err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	tx.deleteRule(id)
	return nil
}
