// Package postgres implements the store driver on PostgreSQL with
// pgvector for pattern similarity search.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Import the postgres driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/cardsense/internal/profile"
)

// DB is a postgres-backed store driver.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a postgres connection for the given profile.
func NewDB(profile *profile.Profile) (*DB, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required for postgres driver")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database with dsn: %s", profile.DSN)
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{db: db, profile: profile}, nil
}

// Migrate creates the schema if it does not exist. The pattern table
// needs the pgvector extension for the cosine-distance operator.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS query_pattern (
			id BIGSERIAL PRIMARY KEY,
			natural_query TEXT NOT NULL,
			decomposed_query TEXT NOT NULL,
			variations TEXT NOT NULL DEFAULT '',
			usage_count BIGINT NOT NULL DEFAULT 0,
			success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			embedding vector(1024),
			last_used_ts BIGINT NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL DEFAULT 0,
			version INT NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS query_event (
			id BIGSERIAL PRIMARY KEY,
			query_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			input TEXT NOT NULL,
			resolution_path TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			result_size INT NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			timestamp BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migration failed")
		}
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the positional parameter for index i (1-based).
func placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
