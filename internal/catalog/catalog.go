// Package catalog persists the pipeline's relational state: registered
// sources, raw file receipts, ingest audit lines and the aggregated
// feature sets. It is the only package that talks to Postgres.
package catalog

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is the pool-level surface the catalog needs: plain statements plus
// the ability to open a transaction for the replace-per-source commit.
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Catalog provides typed access to the pipeline's tables.
type Catalog struct {
	db DB
}

// New creates a Catalog on top of a pgx pool (or anything pool-shaped).
func New(db DB) *Catalog {
	return &Catalog{db: db}
}

// EnsureSchema creates the catalog tables if they do not exist yet.
// Safe to run at every startup.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, schemaSQL); err != nil {
		return &PersistenceError{Op: "ensure schema", Err: err}
	}
	return nil
}

// PersistenceError wraps a failed catalog operation with the operation
// name, so callers can report what was being attempted without parsing
// driver errors.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("catalog: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
