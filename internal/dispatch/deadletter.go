package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pkgredis "github.com/assessly-hq/assessment-event-pipeline/pkg/redis"
)

// maxDeadLetters caps the retained dead-letter history per queue.
const maxDeadLetters = 1000

// DeadLetter records a job that terminally failed, for the read-only
// operator surface.
type DeadLetter struct {
	JobID     string    `json:"id"`
	BatchID   string    `json:"batch_id"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"failure_reason"`
	Timestamp time.Time `json:"timestamp"`
}

// DeadLetterStore persists and lists terminally failed jobs.
type DeadLetterStore interface {
	Push(ctx context.Context, queue string, dl DeadLetter) error
	List(ctx context.Context, queue string, limit int64) ([]DeadLetter, error)
}

// RedisDeadLetters keeps dead letters in a capped Redis list per queue,
// newest first.
type RedisDeadLetters struct {
	client *pkgredis.Client
}

// NewRedisDeadLetters creates a DeadLetterStore backed by the given Redis
// client.
func NewRedisDeadLetters(client *pkgredis.Client) *RedisDeadLetters {
	return &RedisDeadLetters{client: client}
}

func deadLetterKey(queue string) string {
	return "dlq:" + queue
}

// Push appends a dead letter and trims the list to its cap.
func (r *RedisDeadLetters) Push(ctx context.Context, queue string, dl DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshaling dead letter: %w", err)
	}
	key := deadLetterKey(queue)
	if err := r.client.LPush(ctx, key, data); err != nil {
		return fmt.Errorf("pushing dead letter: %w", err)
	}
	if err := r.client.LTrim(ctx, key, 0, maxDeadLetters-1); err != nil {
		return fmt.Errorf("trimming dead letters: %w", err)
	}
	return nil
}

// List returns up to limit dead letters for the queue, newest first.
func (r *RedisDeadLetters) List(ctx context.Context, queue string, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = maxDeadLetters
	}
	raw, err := r.client.LRange(ctx, deadLetterKey(queue), 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, item := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("unmarshaling dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}
