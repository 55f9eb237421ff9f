// Package repository implements the workflow engine's persistence contract on
// Postgres. All current statuses are derived from the status_history ledger;
// entity tables never carry a status column.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openprocure/be-marketplace/internal/database"
	"github.com/openprocure/be-marketplace/internal/service"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the repositories use, so
// the same methods serve both pooled and transactional scopes.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the Postgres implementation of the service persistence contract.
type Store struct {
	db *database.DB
	q  querier
}

// NewStore creates a Store backed by the connection pool.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, q: db.Pool}
}

// InTransaction runs fn against a transaction-scoped Store. Nested calls reuse
// the enclosing transaction rather than opening a second one.
func (s *Store) InTransaction(ctx context.Context, fn func(tx service.Store) error) error {
	if _, ok := s.q.(pgx.Tx); ok {
		return fn(s)
	}
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&Store{db: s.db, q: tx})
	})
}
