package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/assessly-hq/assessment-event-pipeline/internal/aggregate"
	"github.com/assessly-hq/assessment-event-pipeline/internal/model"
)

// CommitBatchAggregation folds a batch's counts into the daily aggregates and
// marks the batch's events processed, in one transaction. The upsert adds to
// existing counts for the (day, event_type) pairs present in the batch and
// leaves other pairs untouched, so concurrent batches for the same day
// commute. Flipping processed=true in the same transaction keeps the
// incremental path and the authoritative reaggregation path from ever
// double-counting an event.
func (s *Store) CommitBatchAggregation(ctx context.Context, batchID string, acc *aggregate.Accumulator) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, day := range acc.Days() {
			for eventType, count := range acc.Counts(day) {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO daily_metrics (day, event_type, count, updated_at)
					 VALUES ($1, $2, $3, NOW())
					 ON CONFLICT (day, event_type)
					 DO UPDATE SET count = daily_metrics.count + EXCLUDED.count, updated_at = NOW()`,
					day, eventType, count,
				)
				if err != nil {
					return fmt.Errorf("upserting daily metric %s/%s: %w", day, eventType, err)
				}
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE events SET processed = TRUE WHERE batch_id = $1 AND NOT processed`,
			batchID,
		)
		if err != nil {
			return fmt.Errorf("marking events processed: %w", err)
		}
		return nil
	})
}

// ReplaceDay overwrites the aggregate rows for a single day with the given
// counts. Used by the authoritative reaggregation path.
func (s *Store) ReplaceDay(ctx context.Context, day string, counts map[string]int64) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM daily_metrics WHERE day = $1`, day); err != nil {
			return fmt.Errorf("clearing daily metrics for %s: %w", day, err)
		}
		for eventType, count := range counts {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO daily_metrics (day, event_type, count, updated_at)
				 VALUES ($1, $2, $3, NOW())`,
				day, eventType, count,
			)
			if err != nil {
				return fmt.Errorf("inserting daily metric %s/%s: %w", day, eventType, err)
			}
		}
		return nil
	})
}

// ProcessedCountsByDay streams authoritative (day, event_type, count) rows
// from all processed events, grouped in the database and ordered by day so
// the caller can rebuild aggregates one day at a time.
func (s *Store) ProcessedCountsByDay(ctx context.Context, fn func(day, eventType string, count int64) error) error {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT to_char(ts AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, event_type, COUNT(*)
		 FROM events
		 WHERE processed
		 GROUP BY 1, 2
		 ORDER BY 1`,
	)
	if err != nil {
		return fmt.Errorf("querying processed counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day, eventType string
		var count int64
		if err := rows.Scan(&day, &eventType, &count); err != nil {
			return fmt.Errorf("scanning processed count row: %w", err)
		}
		if err := fn(day, eventType, count); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating processed count rows: %w", err)
	}
	return nil
}

// AggregateFilter narrows a daily-aggregate query. Date takes precedence
// over the range; From without To is an open-ended range; EventType filters
// the per-day metric sets.
type AggregateFilter struct {
	Date      string
	From      string
	To        string
	EventType string
}

// QueryDaily returns aggregate rows matching the filter, sorted by date
// ascending, with each day's metrics as an event_type → count map.
func (s *Store) QueryDaily(ctx context.Context, f AggregateFilter) ([]model.DailyAggregate, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch {
	case f.Date != "":
		conds = append(conds, "day = "+arg(f.Date))
	case f.From != "" && f.To != "":
		conds = append(conds, "day >= "+arg(f.From), "day <= "+arg(f.To))
	case f.From != "":
		conds = append(conds, "day >= "+arg(f.From))
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = "+arg(f.EventType))
	}

	query := `SELECT to_char(day, 'YYYY-MM-DD'), event_type, count FROM daily_metrics`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY day ASC, event_type ASC"

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying daily aggregates: %w", err)
	}
	defer rows.Close()

	var out []model.DailyAggregate
	for rows.Next() {
		var day, eventType string
		var count int64
		if err := rows.Scan(&day, &eventType, &count); err != nil {
			return nil, fmt.Errorf("scanning daily aggregate row: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Date != day {
			out = append(out, model.DailyAggregate{Date: day, Metrics: make(map[string]int64)})
		}
		out[len(out)-1].Metrics[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating daily aggregate rows: %w", err)
	}
	return out, nil
}
