// Package worker implements the batch-processing consumer: the idempotency
// guard, the incremental daily-metrics aggregation, and the batch state
// machine transitions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/internal/aggregate"
	"github.com/assessly-hq/assessment-event-pipeline/internal/dispatch"
	"github.com/assessly-hq/assessment-event-pipeline/internal/model"
	apperrors "github.com/assessly-hq/assessment-event-pipeline/pkg/errors"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/metrics"
)

// Store is the persistence surface the processor needs. *store.Store
// implements it.
type Store interface {
	Batch(ctx context.Context, batchID string) (*model.Batch, error)
	ClaimProcessing(ctx context.Context, batchID string) (bool, error)
	UnprocessedEvents(ctx context.Context, batchID string) ([]model.Event, error)
	CommitBatchAggregation(ctx context.Context, batchID string, acc *aggregate.Accumulator) error
	MarkCompleted(ctx context.Context, batchID string) error
	MarkFailed(ctx context.Context, batchID string) error
}

// Processor turns delivered batch jobs into aggregated daily metrics.
type Processor struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Processor. metrics may be nil.
func New(store Store, m *metrics.Metrics) *Processor {
	return &Processor{
		store:   store,
		metrics: m,
		logger:  slog.Default().With("component", "batch-worker"),
	}
}

// Process handles one job delivery. Deliveries are at-least-once, so the
// same batch may arrive more than once; a batch that already completed is
// acknowledged as a no-op with no side effects. Otherwise the batch is
// claimed with an atomic conditional status update, its unprocessed events
// are folded into daily aggregates, and the batch finishes `completed`.
// A batch with no unprocessed events still completes rather than stranding
// in `processing`.
func (p *Processor) Process(ctx context.Context, job dispatch.Job) error {
	start := time.Now()
	log := p.logger.With("batch_id", job.BatchID, "job_id", job.ID)
	log.Info("processing batch")

	batch, err := p.store.Batch(ctx, job.BatchID)
	if err != nil {
		if errors.Is(err, apperrors.ErrBatchNotFound) {
			// Nothing to retry against; acknowledge and move on.
			log.Warn("job references unknown batch, skipping")
			p.count("skipped")
			return nil
		}
		return fmt.Errorf("loading batch %s: %w", job.BatchID, err)
	}

	if batch.Status == model.StatusCompleted {
		log.Info("batch already processed, skipping")
		p.count("skipped")
		return nil
	}

	claimed, err := p.store.ClaimProcessing(ctx, job.BatchID)
	if err != nil {
		return fmt.Errorf("claiming batch %s: %w", job.BatchID, err)
	}
	if !claimed {
		// A concurrent delivery holds the batch, or it just completed.
		log.Info("batch claimed elsewhere, skipping")
		p.count("skipped")
		return nil
	}

	events, err := p.store.UnprocessedEvents(ctx, job.BatchID)
	if err != nil {
		return fmt.Errorf("loading events for batch %s: %w", job.BatchID, err)
	}

	if len(events) > 0 {
		acc := aggregate.NewAccumulator()
		for _, e := range events {
			acc.Observe(e.Day(), e.EventType)
		}
		if err := p.store.CommitBatchAggregation(ctx, job.BatchID, acc); err != nil {
			return fmt.Errorf("aggregating batch %s: %w", job.BatchID, err)
		}
		if p.metrics != nil {
			p.metrics.EventsAggregatedTotal.Add(float64(len(events)))
		}
		log.Info("batch aggregated", "events", len(events), "days", len(acc.Days()))
	} else {
		log.Info("no unprocessed events for batch")
	}

	if err := p.store.MarkCompleted(ctx, job.BatchID); err != nil {
		return fmt.Errorf("completing batch %s: %w", job.BatchID, err)
	}

	p.count("completed")
	if p.metrics != nil {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	}
	log.Info("batch processed", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Fail records a terminal job failure: the batch is marked `failed`. Called
// by the dispatch policy after the job's dead letter is recorded.
func (p *Processor) Fail(ctx context.Context, job dispatch.Job, cause error) {
	p.logger.Error("batch terminally failed",
		"batch_id", job.BatchID,
		"job_id", job.ID,
		"attempts", job.Attempt,
		"error", cause,
	)
	if err := p.store.MarkFailed(ctx, job.BatchID); err != nil {
		p.logger.Error("failed to mark batch failed", "batch_id", job.BatchID, "error", err)
	}
	p.count("failed")
	if p.metrics != nil {
		p.metrics.JobsDeadLetteredTotal.Inc()
	}
}

func (p *Processor) count(outcome string) {
	if p.metrics != nil {
		p.metrics.BatchesProcessedTotal.WithLabelValues(outcome).Inc()
	}
}
