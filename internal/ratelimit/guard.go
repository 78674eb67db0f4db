// Package ratelimit implements the per-origin upload rate guard: a fixed
// expiring-counter window over a shared counter store.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/metrics"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/resilience"
)

const keyPrefix = "upload_rate:"

// Counter is the shared counter store primitive the guard needs. The Redis
// client implements it.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Guard admits or denies uploads per origin. Each call increments the
// origin's counter; the first increment in a window arms the expiry. The
// guard fails closed: if the counter store is unreachable (or its circuit
// breaker is open), uploads are denied rather than admitted unmetered.
type Guard struct {
	counter Counter
	limit   int
	window  time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Guard allowing limit admissions per origin per window.
// metrics may be nil.
func New(counter Counter, limit int, window time.Duration, m *metrics.Metrics) *Guard {
	return &Guard{
		counter: counter,
		limit:   limit,
		window:  window,
		breaker: resilience.NewCircuitBreaker("rate-counter", resilience.CircuitBreakerConfig{}),
		metrics: m,
		logger:  slog.Default().With("component", "rate-guard"),
	}
}

// Admit reports whether the origin may upload now.
func (g *Guard) Admit(ctx context.Context, origin string) bool {
	key := keyPrefix + origin

	var current int64
	err := g.breaker.Execute(func() error {
		n, incrErr := g.counter.Incr(ctx, key)
		if incrErr != nil {
			return incrErr
		}
		current = n
		if n == 1 {
			if expErr := g.counter.Expire(ctx, key, g.window); expErr != nil {
				return expErr
			}
		}
		return nil
	})
	if err != nil {
		g.logger.Error("counter store unavailable, denying upload", "origin", origin, "error", err)
		g.count("error")
		return false
	}

	if current > int64(g.limit) {
		g.logger.Warn("upload rate limit exceeded", "origin", origin, "count", current, "limit", g.limit)
		g.count("deny")
		return false
	}
	g.count("allow")
	return true
}

func (g *Guard) count(decision string) {
	if g.metrics != nil {
		g.metrics.RateLimitDecisions.WithLabelValues(decision).Inc()
	}
}
