// Package database opens the SQLite database backing the rule and activity
// stores and migrates their tables.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	_ "modernc.org/sqlite"
)

// DefaultDSN is used when no DSN is configured.
const DefaultDSN = "file:payoutrules.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Open opens a SQLite database with foreign keys enforced. SQLite allows a
// single writer, so the pool is capped at one connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates or alters the given tables. Existing tables and columns
// are never dropped.
func Migrate(ctx context.Context, db *sql.DB, tables ...*schema.Table) error {
	drv := entsql.OpenDB(dialect.SQLite, db)
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("preparing migration: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		return fmt.Errorf("running schema migration: %w", err)
	}
	return nil
}
