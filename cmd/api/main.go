// Command api starts the ingestion and query HTTP service.
//
// It accepts CSV batch uploads, enqueues batch-processing jobs onto Kafka,
// serves batch status and daily-metrics queries, and exposes the operator
// dead-letter listing backed by Redis.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/assessly-hq/assessment-event-pipeline/internal/api"
	"github.com/assessly-hq/assessment-event-pipeline/internal/dispatch"
	"github.com/assessly-hq/assessment-event-pipeline/internal/ingest"
	"github.com/assessly-hq/assessment-event-pipeline/internal/ratelimit"
	"github.com/assessly-hq/assessment-event-pipeline/internal/store"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/config"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/health"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/kafka"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/logger"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/metrics"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/postgres"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting api service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	st := store.New(pg)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.BatchJobs)
	defer producer.Close()

	m := metrics.New()

	queue := dispatch.NewQueue(producer)
	deadLetters := dispatch.NewRedisDeadLetters(rdb)
	guard := ratelimit.New(rdb, cfg.RateLimit.UploadLimit, cfg.RateLimit.UploadWindow, m)
	gate := ingest.New(st, m)

	handler := api.New(gate, st, queue, deadLetters, guard)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(st.Ping))
	checker.Register("redis", health.PingCheck(rdb.Ping))

	router := api.NewRouter(handler, api.RouterConfig{
		AdminToken:     cfg.Auth.AdminToken,
		RequestTimeout: cfg.Server.WriteTimeout,
		Metrics:        m,
		Health:         checker,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("api service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("api service stopped")
}
