package api

import (
	"net/http"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/health"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/metrics"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/middleware"
)

// RouterConfig carries the cross-cutting dependencies the router wires in
// front of the handlers.
type RouterConfig struct {
	AdminToken     string
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Health         *health.Checker
}

// NewRouter assembles the HTTP surface: upload and batch lifecycle routes,
// token-guarded operator routes, health probes and the Prometheus endpoint.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /uploads", h.Upload)
	mux.HandleFunc("POST /batches/{id}/process", h.ProcessBatch)
	mux.HandleFunc("GET /batches/{id}", h.GetBatch)

	mux.Handle("GET /metrics/daily", AdminAuth(cfg.AdminToken, http.HandlerFunc(h.DailyMetrics)))
	mux.Handle("GET /admin/queues/{name}/dlq", AdminAuth(cfg.AdminToken, http.HandlerFunc(h.DeadLetters)))

	mux.HandleFunc("GET /health", h.Health)
	if cfg.Health != nil {
		mux.HandleFunc("GET /health/live", cfg.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", cfg.Health.ReadyHandler())
	}
	mux.Handle("GET /metrics", metrics.Handler())

	var handler http.Handler = mux
	if cfg.RequestTimeout > 0 {
		handler = middleware.Timeout(cfg.RequestTimeout)(handler)
	}
	if cfg.Metrics != nil {
		handler = middleware.Metrics(cfg.Metrics)(handler)
	}
	handler = middleware.RequestID(handler)
	return handler
}
