// Command worker starts the batch-processing worker.
//
// It runs a pool of Kafka consumers that claim uploaded batches, aggregate
// their events into daily metrics, and complete or fail them with bounded
// retries. Alongside the pool it runs the nightly reaggregation schedule and
// the retention sweeper, and serves health probes plus Prometheus metrics.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
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

	"golang.org/x/sync/errgroup"

	"github.com/assessly-hq/assessment-event-pipeline/internal/aggregate"
	"github.com/assessly-hq/assessment-event-pipeline/internal/dispatch"
	"github.com/assessly-hq/assessment-event-pipeline/internal/retention"
	"github.com/assessly-hq/assessment-event-pipeline/internal/store"
	"github.com/assessly-hq/assessment-event-pipeline/internal/worker"
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
	slog.Info("starting worker service",
		"concurrency", cfg.Pipeline.WorkerConcurrency,
		"max_attempts", cfg.Pipeline.MaxAttempts,
	)

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
	processor := worker.New(st, m)

	policy := &dispatch.Policy{
		Queue:       queue,
		DeadLetters: deadLetters,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Handler:     processor.Process,
		OnTerminal:  processor.Fail,
	}

	reaggregator := aggregate.NewReaggregator(st, st, m)
	scheduler := aggregate.NewScheduler(reaggregator, cfg.Pipeline.ReaggregationSchedule, cfg.Pipeline.ReaggregationTimeout)
	sweeper := retention.New(st, cfg.Retention.TTL, cfg.Retention.SweepInterval, m)

	g, gctx := errgroup.WithContext(ctx)

	// Consumer pool. All consumers share one group, so batches spread across
	// partitions while a single batch stays on one consumer.
	for i := 0; i < cfg.Pipeline.WorkerConcurrency; i++ {
		consumer := dispatch.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.BatchJobs, policy)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Start(gctx)
		})
	}

	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})

	// Health and metrics endpoint for probes and scraping.
	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(st.Ping))
	checker.Register("redis", health.PingCheck(rdb.Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("worker admin endpoint listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker service stopped")
}
