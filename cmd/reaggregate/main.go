// Command reaggregate runs one authoritative daily-metrics rebuild and exits.
//
// It streams processed events grouped by day out of Postgres and overwrites
// each day's stored aggregate, the same run the worker's nightly schedule
// performs. Useful for backfills and for repairing drift on demand.
//
// Usage:
//
//	go run ./cmd/reaggregate [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/assessly-hq/assessment-event-pipeline/internal/aggregate"
	"github.com/assessly-hq/assessment-event-pipeline/internal/store"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/config"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/logger"
	"github.com/assessly-hq/assessment-event-pipeline/pkg/postgres"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Pipeline.ReaggregationTimeout)
	defer cancel()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	st := store.New(pg)
	reaggregator := aggregate.NewReaggregator(st, st, nil)

	slog.Info("starting daily metrics rebuild")
	if err := reaggregator.Run(ctx); err != nil {
		slog.Error("rebuild failed", "error", err)
		os.Exit(1)
	}
	slog.Info("daily metrics rebuild complete")
}
