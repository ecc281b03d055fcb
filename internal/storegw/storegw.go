// Package storegw implements the Store Gateway: a semaphore-bounded
// pool of database workers fed from a single *sql.DB, exposing one
// typed function per operation. database/sql already pools physical
// connections; the semaphore is what gives the "every worker
// eventually returns to the pool" property — every operation acquires
// one slot and releases it via defer, on both the success and error
// path.
package storegw

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/asonix/eventbot/internal/eventerr"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Dialect selects the placeholder syntax and migration file for the
// underlying driver. Production runs postgres; tests may run sqlite.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Gateway is the Store Gateway.
type Gateway struct {
	db      *sql.DB
	dialect Dialect
	sem     *semaphore.Weighted
}

// Open creates a Gateway over db, bounding concurrent operations at
// workers. driverName selects the SQL placeholder dialect ("postgres"
// or "sqlite").
func Open(db *sql.DB, dialect Dialect, workers int64) *Gateway {
	if workers <= 0 {
		workers = 1
	}
	return &Gateway{db: db, dialect: dialect, sem: semaphore.NewWeighted(workers)}
}

// Close releases the underlying connection pool.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// Migrate applies the schema for the gateway's dialect. It is
// idempotent: every statement uses CREATE TABLE/INDEX IF NOT EXISTS.
func (g *Gateway) Migrate(ctx context.Context) error {
	name := fmt.Sprintf("migrations/0001_init.%s.sql", g.dialect)
	contents, err := migrationFS.ReadFile(name)
	if err != nil {
		return errors.Wrapf(err, "no migration for dialect %s", g.dialect)
	}

	for _, stmt := range splitStatements(string(contents)) {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return eventerr.Wrap(eventerr.CreateConnection, errors.Wrapf(err, "applying migration: %s", stmt))
		}
	}
	return nil
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, stmt := range strings.Split(sqlText, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// acquire blocks until a worker slot is free or ctx is canceled.
func (g *Gateway) acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, eventerr.Wrap(eventerr.Canceled, err)
	}
	return func() { g.sem.Release(1) }, nil
}

// placeholder returns the n-th (1-indexed) bound-parameter marker for
// the gateway's dialect.
func (g *Gateway) placeholder(n int) string {
	if g.dialect == DialectSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// placeholders returns a comma-joined list of n bound-parameter
// markers starting at offset 1.
func (g *Gateway) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = g.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}
