package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/internal/model"
	apperrors "github.com/assessly-hq/assessment-event-pipeline/pkg/errors"
)

// CreateBatch records a newly uploaded batch at status `uploaded`.
func (s *Store) CreateBatch(ctx context.Context, b model.Batch) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO batches (batch_id, file_name, total_events, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())`,
		b.BatchID, b.FileName, b.TotalEvents, model.StatusUploaded,
	)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}
	return nil
}

// Batch loads a single batch by id, or ErrBatchNotFound.
func (s *Store) Batch(ctx context.Context, batchID string) (*model.Batch, error) {
	var b model.Batch
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT batch_id, file_name, total_events, status, created_at, updated_at
		 FROM batches WHERE batch_id = $1`,
		batchID,
	).Scan(&b.BatchID, &b.FileName, &b.TotalEvents, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrBatchNotFound, http.StatusNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying batch: %w", err)
	}
	return &b, nil
}

// MarkQueued flips an `uploaded` batch to `queued` once its processing job
// has been accepted. Any other current status yields ErrInvalidStatus.
func (s *Store) MarkQueued(ctx context.Context, batchID string) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE batches SET status = $2, updated_at = NOW()
		 WHERE batch_id = $1 AND status = $3`,
		batchID, model.StatusQueued, model.StatusUploaded,
	)
	if err != nil {
		return fmt.Errorf("marking batch queued: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking batch queued: %w", err)
	}
	if n == 0 {
		return apperrors.New(apperrors.ErrInvalidStatus, http.StatusBadRequest,
			"batch already processed or invalid status")
	}
	return nil
}

// ClaimProcessing atomically transitions the batch to `processing`, but only
// from a claimable status (uploaded, queued, or the failed retry path).
// The condition lives in the UPDATE itself, so two racing deliveries cannot
// both claim the batch: the loser sees claimed=false.
func (s *Store) ClaimProcessing(ctx context.Context, batchID string) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE batches SET status = $2, updated_at = NOW()
		 WHERE batch_id = $1 AND status IN ($3, $4, $5)`,
		batchID, model.StatusProcessing,
		model.StatusUploaded, model.StatusQueued, model.StatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("claiming batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming batch: %w", err)
	}
	return n > 0, nil
}

// MarkCompleted moves a batch to the terminal `completed` state.
func (s *Store) MarkCompleted(ctx context.Context, batchID string) error {
	return s.setStatus(ctx, batchID, model.StatusCompleted)
}

// MarkFailed moves a batch to the terminal `failed` state. It is a no-op for
// a batch that already completed, so a late failure report cannot regress a
// finished batch.
func (s *Store) MarkFailed(ctx context.Context, batchID string) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE batches SET status = $2, updated_at = NOW()
		 WHERE batch_id = $1 AND status <> $3`,
		batchID, model.StatusFailed, model.StatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("marking batch failed: %w", err)
	}
	_, err = res.RowsAffected()
	return err
}

func (s *Store) setStatus(ctx context.Context, batchID string, status model.BatchStatus) error {
	_, err := s.db.DB.ExecContext(ctx,
		`UPDATE batches SET status = $2, updated_at = NOW() WHERE batch_id = $1`,
		batchID, status,
	)
	if err != nil {
		return fmt.Errorf("setting batch status %s: %w", status, err)
	}
	return nil
}

// DeleteStaleUploadedBatches removes batches still at `uploaded` whose
// created_at is older than cutoff, returning the number deleted. A batch
// that ever reached `queued` is never auto-deleted.
func (s *Store) DeleteStaleUploadedBatches(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM batches WHERE status = $1 AND created_at < $2`,
		model.StatusUploaded, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting stale batches: %w", err)
	}
	return res.RowsAffected()
}
