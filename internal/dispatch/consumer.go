package dispatch

import (
	"context"
	"log/slog"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/config"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/kafka"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/resilience"
)

// JobHandler processes one delivered job. A non-nil error triggers the
// retry policy.
type JobHandler func(ctx context.Context, job Job) error

// TerminalHandler is invoked when a job exhausts its attempts, after the
// dead letter is recorded.
type TerminalHandler func(ctx context.Context, job Job, cause error)

// Requeuer republishes a failed job for another attempt. *Queue implements
// it.
type Requeuer interface {
	Requeue(ctx context.Context, job Job) error
}

// Policy decides what happens to a delivered job: hand it to the handler,
// requeue on failure while attempts remain, dead-letter and report
// terminally otherwise. Delivery is at-least-once end to end; the handler
// owns idempotency.
type Policy struct {
	Queue       Requeuer
	DeadLetters DeadLetterStore
	MaxAttempts int
	Handler     JobHandler
	OnTerminal  TerminalHandler

	logger *slog.Logger
}

// Process applies the policy to one delivered job. It always returns nil so
// the underlying message is committed: failed work travels forward as a
// requeued job or a dead letter, never by replaying the same offset.
func (p *Policy) Process(ctx context.Context, job Job) error {
	log := p.log().With("job_id", job.ID, "batch_id", job.BatchID, "attempt", job.Attempt)

	err := p.Handler(ctx, job)
	if err == nil {
		return nil
	}

	if job.Attempt < p.MaxAttempts {
		log.Warn("job failed, requeueing", "error", err)
		if rqErr := p.Queue.Requeue(ctx, job); rqErr != nil {
			// Can't move the job forward; leave the message uncommitted so
			// the group redelivers it.
			log.Error("requeue failed", "error", rqErr)
			return rqErr
		}
		return nil
	}

	log.Error("job exhausted retries, dead-lettering", "error", err)
	dl := DeadLetter{
		JobID:     job.ID,
		BatchID:   job.BatchID,
		Attempts:  job.Attempt,
		Reason:    err.Error(),
		Timestamp: job.EnqueuedAt,
	}
	dlErr := resilience.Retry(ctx, "dead-letter-push", resilience.RetryConfig{}, func() error {
		return p.DeadLetters.Push(ctx, QueueName, dl)
	})
	if dlErr != nil {
		log.Error("dead-letter push failed", "error", dlErr)
	}
	if p.OnTerminal != nil {
		p.OnTerminal(ctx, job, err)
	}
	return nil
}

func (p *Policy) log() *slog.Logger {
	if p.logger == nil {
		p.logger = slog.Default().With("component", "dispatch-policy")
	}
	return p.logger
}

// Consumer runs the Kafka consume loop for batch jobs, decoding each message
// into a Job and applying the retry policy.
type Consumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewConsumer creates a Consumer for the batch-jobs topic with the given
// policy.
func NewConsumer(cfg config.KafkaConfig, topic string, policy *Policy) *Consumer {
	logger := slog.Default().With("component", "dispatch-consumer", "topic", topic)
	handler := func(ctx context.Context, key []byte, value []byte) error {
		job, err := kafka.DecodeJSON[Job](value)
		if err != nil {
			// Malformed payloads cannot be retried into shape; drop them.
			logger.Error("failed to decode job, dropping", "key", string(key), "error", err)
			return nil
		}
		return policy.Process(ctx, job)
	}
	return &Consumer{
		consumer: kafka.NewConsumer(cfg, topic, handler),
		logger:   logger,
	}
}

// Start blocks consuming jobs until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close closes the underlying Kafka consumer.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}
