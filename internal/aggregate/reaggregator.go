package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/metrics"
)

// Source streams authoritative per-day counts of processed events. The
// grouping happens in the store, ordered by day ascending, so a full rebuild
// never materializes the event set in memory.
type Source interface {
	ProcessedCountsByDay(ctx context.Context, fn func(day, eventType string, count int64) error) error
}

// Sink replaces the stored aggregate row for a single day with the given
// counts. Replace semantics, not merge: stale partial data for the day is
// overwritten.
type Sink interface {
	ReplaceDay(ctx context.Context, day string, counts map[string]int64) error
}

// Reaggregator rebuilds the full daily-aggregate store from all processed
// events. It is the authoritative reconciliation path: running it twice with
// no new events yields identical rows, and it is safe (eventually convergent)
// to run concurrently with the incremental batch worker.
type Reaggregator struct {
	source  Source
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewReaggregator creates a Reaggregator reading from source and writing to
// sink. metrics may be nil.
func NewReaggregator(source Source, sink Sink, m *metrics.Metrics) *Reaggregator {
	return &Reaggregator{
		source:  source,
		sink:    sink,
		metrics: m,
		logger:  slog.Default().With("component", "reaggregator"),
	}
}

// Run performs one full rebuild. Rows arrive grouped and ordered by day;
// each day's counts are flushed as soon as the next day begins, bounding
// memory by the number of event types per day.
func (r *Reaggregator) Run(ctx context.Context) error {
	start := time.Now()
	r.logger.Info("daily metrics reaggregation starting")

	var (
		currentDay string
		counts     map[string]int64
		days       int
		total      int64
	)

	flush := func() error {
		if currentDay == "" {
			return nil
		}
		if err := r.sink.ReplaceDay(ctx, currentDay, counts); err != nil {
			return fmt.Errorf("replacing aggregates for %s: %w", currentDay, err)
		}
		r.logger.Debug("day reaggregated", "date", currentDay, "event_types", len(counts))
		days++
		return nil
	}

	err := r.source.ProcessedCountsByDay(ctx, func(day, eventType string, count int64) error {
		if day != currentDay {
			if err := flush(); err != nil {
				return err
			}
			currentDay = day
			counts = make(map[string]int64)
		}
		counts[eventType] += count
		total += count
		return nil
	})
	if err == nil {
		err = flush()
	}

	if err != nil {
		if r.metrics != nil {
			r.metrics.ReaggregationRunsTotal.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("reaggregation run: %w", err)
	}

	if r.metrics != nil {
		r.metrics.ReaggregationRunsTotal.WithLabelValues("ok").Inc()
		r.metrics.ReaggregationDuration.Observe(time.Since(start).Seconds())
	}
	r.logger.Info("daily metrics reaggregation completed",
		"days", days,
		"events", total,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
