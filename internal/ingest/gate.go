// Package ingest implements the ingestion gate: it validates already-parsed
// row records, persists them as events, and registers the owning batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/internal/model"
	apperrors "github.com/assessly-hq/assessment-event-pipeline/pkg/errors"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/metrics"
	"github.com/google/uuid"
)

// requiredFields must be present and non-empty on every row.
var requiredFields = []string{"candidate_id", "test_id", "event_type", "timestamp"}

// timestampLayouts are tried in order when parsing a row's timestamp.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Row is one parsed record from an uploaded file, field name → raw value.
type Row map[string]string

// RowError describes why a single row was rejected. Rows are numbered from 1.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"error_reason"`
}

// Result summarises one ingestion: the created batch and per-row outcomes.
type Result struct {
	BatchID       string     `json:"batch_id"`
	InsertedCount int        `json:"inserted_count"`
	FailedCount   int        `json:"failed_count"`
	Errors        []RowError `json:"errors"`
}

// Store is the persistence surface the gate needs.
type Store interface {
	InsertEvent(ctx context.Context, e model.Event) error
	CreateBatch(ctx context.Context, b model.Batch) error
}

// Gate validates and persists uploaded rows.
type Gate struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Gate. metrics may be nil.
func New(store Store, m *metrics.Metrics) *Gate {
	return &Gate{
		store:   store,
		metrics: m,
		logger:  slog.Default().With("component", "ingestion-gate"),
	}
}

// Ingest persists the given rows as events of a new batch. Row-level
// failures (missing required field, unparseable timestamp, duplicate) are
// recorded and skipped, never aborting the batch. Exactly one Batch row is
// created afterwards, with total_events equal to the number of rows actually
// inserted, at status `uploaded`. Enqueueing the batch for processing is a
// separate, explicit step.
func (g *Gate) Ingest(ctx context.Context, fileName string, rows []Row) (*Result, error) {
	batchID := uuid.NewString()
	result := &Result{BatchID: batchID}
	log := g.logger.With("batch_id", batchID, "file_name", fileName)

	for i, row := range rows {
		rowNum := i + 1

		if reason, ok := validate(row); !ok {
			log.Warn("row skipped", "row", rowNum, "reason", reason)
			result.Errors = append(result.Errors, RowError{Row: rowNum, Reason: reason})
			g.count("invalid")
			continue
		}

		ts, err := parseTimestamp(row["timestamp"])
		if err != nil {
			reason := fmt.Sprintf("invalid timestamp: %q", row["timestamp"])
			log.Warn("row skipped", "row", rowNum, "reason", reason)
			result.Errors = append(result.Errors, RowError{Row: rowNum, Reason: reason})
			g.count("invalid")
			continue
		}

		event := model.Event{
			EventID:     uuid.NewString(),
			BatchID:     batchID,
			CandidateID: row["candidate_id"],
			TestID:      row["test_id"],
			EventType:   row["event_type"],
			Timestamp:   ts,
		}
		if err := g.store.InsertEvent(ctx, event); err != nil {
			reason := "database insert error"
			outcome := "error"
			if errors.Is(err, apperrors.ErrDuplicateEvent) {
				reason = "duplicate entry skipped"
				outcome = "duplicate"
			}
			log.Warn("row skipped", "row", rowNum, "reason", reason, "error", err)
			result.Errors = append(result.Errors, RowError{Row: rowNum, Reason: reason})
			g.count(outcome)
			continue
		}

		result.InsertedCount++
		g.count("inserted")
	}
	result.FailedCount = len(result.Errors)

	batch := model.Batch{
		BatchID:     batchID,
		FileName:    fileName,
		TotalEvents: result.InsertedCount,
		Status:      model.StatusUploaded,
	}
	if err := g.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("creating batch record: %w", err)
	}

	log.Info("batch ingested",
		"inserted", result.InsertedCount,
		"failed", result.FailedCount,
	)
	return result, nil
}

// validate checks required-field presence and returns the failure reason for
// the first missing field.
func validate(row Row) (string, bool) {
	for _, field := range requiredFields {
		if row[field] == "" {
			return "missing field: " + field, false
		}
	}
	return "", true
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", raw)
}

func (g *Gate) count(result string) {
	if g.metrics != nil {
		g.metrics.EventsIngestedTotal.WithLabelValues(result).Inc()
	}
}
