// Package retention implements the stale-data sweeper: unprocessed events
// and never-queued batches past their TTL are deleted on a fixed schedule.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/metrics"
)

// Store is the persistence surface the sweeper needs.
type Store interface {
	DeleteUnprocessedEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteStaleUploadedBatches(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes stale unprocessed events and stale
// `uploaded` batches. Processed events, aggregates, and batches that ever
// reached `queued` are never touched.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Sweeper. metrics may be nil.
func New(store Store, ttl, interval time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		metrics:  m,
		logger:   slog.Default().With("component", "retention-sweeper"),
	}
}

// Start runs one sweep immediately, then sweeps on the configured interval
// until ctx is cancelled. Sweep failures are logged and do not stop the
// schedule; the next tick retries.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("retention sweeper started", "ttl", s.ttl, "interval", s.interval)
	s.sweep(ctx, "startup")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx, "scheduled")
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped", "reason", ctx.Err())
			return
		}
	}
}

// sweep performs one best-effort deletion pass.
func (s *Sweeper) sweep(ctx context.Context, label string) {
	cutoff := time.Now().Add(-s.ttl)

	events, err := s.store.DeleteUnprocessedEventsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("event sweep failed", "run", label, "error", err)
	} else if s.metrics != nil {
		s.metrics.RetentionDeletedTotal.WithLabelValues("events").Add(float64(events))
	}

	batches, err := s.store.DeleteStaleUploadedBatches(ctx, cutoff)
	if err != nil {
		s.logger.Error("batch sweep failed", "run", label, "error", err)
	} else if s.metrics != nil {
		s.metrics.RetentionDeletedTotal.WithLabelValues("batches").Add(float64(batches))
	}

	s.logger.Info("sweep finished",
		"run", label,
		"events_deleted", events,
		"batches_deleted", batches,
		"cutoff", cutoff.UTC().Format(time.RFC3339),
	)
}
