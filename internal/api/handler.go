// Package api exposes the pipeline's boundary surfaces over HTTP: CSV batch
// upload, batch processing trigger and status readback, the daily-metrics
// query API, and the operator dead-letter listing.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/assessly-hq/assessment-event-pipeline/internal/dispatch"
	"github.com/assessly-hq/assessment-event-pipeline/internal/ingest"
	"github.com/assessly-hq/assessment-event-pipeline/internal/model"
	"github.com/assessly-hq/assessment-event-pipeline/internal/store"
	apperrors "github.com/assessly-hq/assessment-event-pipeline/pkg/errors"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/logger"
)

// maxUploadBytes caps the accepted multipart upload size.
const maxUploadBytes = 32 << 20

// dlqListLimit is how many dead letters the operator listing returns.
const dlqListLimit = 100

// Store is the read/write persistence surface the handlers need.
type Store interface {
	Batch(ctx context.Context, batchID string) (*model.Batch, error)
	MarkQueued(ctx context.Context, batchID string) error
	QueryDaily(ctx context.Context, f store.AggregateFilter) ([]model.DailyAggregate, error)
}

// Enqueuer pushes batch-processing jobs onto the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, batchID string) (string, error)
}

// Admitter is the upload rate guard.
type Admitter interface {
	Admit(ctx context.Context, origin string) bool
}

// Handler carries the boundary dependencies.
type Handler struct {
	gate  *ingest.Gate
	store Store
	queue Enqueuer
	dlq   dispatch.DeadLetterStore
	guard Admitter

	logger *slog.Logger
}

// New creates a Handler.
func New(gate *ingest.Gate, st Store, queue Enqueuer, dlq dispatch.DeadLetterStore, guard Admitter) *Handler {
	return &Handler{
		gate:   gate,
		store:  st,
		queue:  queue,
		dlq:    dlq,
		guard:  guard,
		logger: slog.Default().With("component", "api-handler"),
	}
}

// Upload accepts a multipart CSV file, decodes it into rows at the boundary,
// and hands them to the ingestion gate. Row-level failures come back in the
// response rather than rejecting the whole upload.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if !h.guard.Admit(ctx, clientOrigin(r)) {
		w.Header().Set("Retry-After", "60")
		h.writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "CSV file required")
		return
	}
	defer file.Close()

	rows, err := readRows(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed CSV")
		return
	}

	result, err := h.gate.Ingest(ctx, header.Filename, rows)
	if err != nil {
		log.Error("ingestion failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "ingestion failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ProcessBatch enqueues a processing job for an uploaded batch and flips its
// status to `queued`.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	batchID := r.PathValue("id")

	batch, err := h.store.Batch(ctx, batchID)
	if err != nil {
		if errors.Is(err, apperrors.ErrBatchNotFound) {
			h.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		log.Error("batch lookup failed", "batch_id", batchID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if batch.Status != model.StatusUploaded {
		h.writeError(w, http.StatusBadRequest, "batch already processed or invalid status")
		return
	}

	jobID, err := h.queue.Enqueue(ctx, batchID)
	if err != nil {
		log.Error("enqueue failed", "batch_id", batchID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.store.MarkQueued(ctx, batchID); err != nil {
		// Job already published; worker claims handle the race.
		log.Error("failed to mark batch queued", "batch_id", batchID, "error", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"message":  "batch queued for processing",
		"batch_id": batchID,
		"job_id":   jobID,
	})
}

// GetBatch returns one batch's lifecycle record.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := r.PathValue("id")

	batch, err := h.store.Batch(ctx, batchID)
	if err != nil {
		if errors.Is(err, apperrors.ErrBatchNotFound) {
			h.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		logger.FromContext(ctx).Error("batch lookup failed", "batch_id", batchID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

// DailyMetrics serves the aggregate query surface: exact date, inclusive
// date range (open-ended from supported), and event-type filter, sorted by
// date ascending.
func (h *Handler) DailyMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := store.AggregateFilter{
		Date:      q.Get("date"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		EventType: q.Get("event_type"),
	}

	aggregates, err := h.store.QueryDaily(ctx, filter)
	if err != nil {
		logger.FromContext(ctx).Error("metrics query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(aggregates) == 0 {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"message": "no metrics found"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(aggregates),
		"data":  aggregates,
	})
}

// DeadLetters serves the operator dead-letter listing for the batch-jobs
// queue.
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	if name != dispatch.QueueName {
		h.writeError(w, http.StatusNotFound, "queue not found")
		return
	}

	jobs, err := h.dlq.List(ctx, name, dlqListLimit)
	if err != nil {
		logger.FromContext(ctx).Error("dead-letter listing failed", "queue", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"queue":        name,
		"failed_count": len(jobs),
		"jobs":         jobs,
	})
}

// Health is a liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
