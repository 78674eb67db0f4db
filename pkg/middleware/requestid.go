package middleware

import (
	"net/http"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/logger"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID returns middleware that attaches a request ID to the context and
// response. An incoming X-Request-ID header is honoured so callers can
// correlate retries.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logger.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
