// Package store implements the pipeline's durable data-access layer on
// PostgreSQL: the event store, the batch registry, and the daily aggregate
// store. Uniqueness of (batch_id, event_id) and single-row atomic updates
// are enforced by the database.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/postgres"
	"github.com/lib/pq"
)

// schemaSQL is embedded so the services can self-bootstrap their schema.
//
//go:embed schema.sql
var schemaSQL string

// Store provides Postgres-backed access to events, batches, and aggregates.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Store on top of an established Postgres client.
func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Ping reports database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
