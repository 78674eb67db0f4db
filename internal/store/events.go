package store

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/internal/model"
	apperrors "github.com/assessly-hq/assessment-event-pipeline/pkg/errors"
)

// InsertEvent persists a single event with processed=false. A duplicate
// (batch_id, event_id) pair yields ErrDuplicateEvent; the existing row is
// never overwritten.
func (s *Store) InsertEvent(ctx context.Context, e model.Event) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO events (event_id, batch_id, candidate_id, test_id, event_type, ts, processed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, NOW())`,
		e.EventID, e.BatchID, e.CandidateID, e.TestID, e.EventType, e.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.ErrDuplicateEvent, http.StatusConflict,
				fmt.Sprintf("event %s already exists in batch %s", e.EventID, e.BatchID))
		}
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// UnprocessedEvents returns every event in the batch still awaiting
// aggregation.
func (s *Store) UnprocessedEvents(ctx context.Context, batchID string) ([]model.Event, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT event_id, batch_id, candidate_id, test_id, event_type, ts, processed, created_at
		 FROM events
		 WHERE batch_id = $1 AND NOT processed`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.EventID, &e.BatchID, &e.CandidateID, &e.TestID, &e.EventType, &e.Timestamp, &e.Processed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

// DeleteUnprocessedEventsBefore removes unprocessed events older than cutoff
// and returns the number deleted. Processed events are never touched,
// regardless of age.
func (s *Store) DeleteUnprocessedEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM events WHERE NOT processed AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting stale events: %w", err)
	}
	return res.RowsAffected()
}
