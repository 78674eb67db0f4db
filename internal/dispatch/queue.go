// Package dispatch implements the batch-processing job channel on Kafka:
// job enqueueing, the at-least-once consume loop, the bounded retry policy,
// and the Redis-backed dead-letter surface for jobs that exhaust their
// attempts.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/kafka"
	"github.com/google/uuid"
)

// QueueName identifies the batch-processing job queue on the operator
// surface.
const QueueName = "batch-jobs"

// Job is one "process this batch" unit of work. Attempt starts at 1 and is
// bumped on every requeue.
type Job struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue enqueues batch-processing jobs. Jobs are keyed by batch id so all
// deliveries for one batch land on the same partition: work on a single
// batch is never parallelized, while distinct batches fan out across
// consumers.
type Queue struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewQueue creates a Queue publishing through the given producer.
func NewQueue(producer *kafka.Producer) *Queue {
	return &Queue{
		producer: producer,
		logger:   slog.Default().With("component", "dispatch-queue"),
	}
}

// Enqueue publishes a first-attempt job for the batch and returns the job id.
func (q *Queue) Enqueue(ctx context.Context, batchID string) (string, error) {
	job := Job{
		ID:         uuid.NewString(),
		BatchID:    batchID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.publish(ctx, job); err != nil {
		return "", err
	}
	q.logger.Info("batch job enqueued", "job_id", job.ID, "batch_id", batchID)
	return job.ID, nil
}

// Requeue republishes a failed job with its attempt counter bumped.
func (q *Queue) Requeue(ctx context.Context, job Job) error {
	job.Attempt++
	if err := q.publish(ctx, job); err != nil {
		return err
	}
	q.logger.Warn("batch job requeued",
		"job_id", job.ID,
		"batch_id", job.BatchID,
		"attempt", job.Attempt,
	)
	return nil
}

func (q *Queue) publish(ctx context.Context, job Job) error {
	err := q.producer.Publish(ctx, kafka.Event{Key: job.BatchID, Value: job})
	if err != nil {
		return fmt.Errorf("publishing job %s: %w", job.ID, err)
	}
	return nil
}
