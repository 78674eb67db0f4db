package aggregate

import (
	"context"
	"log/slog"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/pkg/resilience"
	"github.com/robfig/cron/v3"
)

// Scheduler triggers the Reaggregator on a cron schedule (default midnight).
// Errors are logged per run; the next scheduled run is unaffected.
type Scheduler struct {
	cron   *cron.Cron
	re     *Reaggregator
	spec   string
	runCap time.Duration
	logger *slog.Logger
}

// NewScheduler creates a Scheduler firing the given cron spec. runTimeout
// bounds a single rebuild; zero disables the bound.
func NewScheduler(re *Reaggregator, spec string, runTimeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		re:     re,
		spec:   spec,
		runCap: runTimeout,
		logger: slog.Default().With("component", "reaggregation-scheduler"),
	}
}

// Start registers the cron entry and begins firing. It blocks until ctx is
// cancelled, then stops the cron and waits for an in-flight run.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		runErr := resilience.WithTimeout(ctx, s.runCap, "reaggregation", func(runCtx context.Context) error {
			return s.re.Run(runCtx)
		})
		if runErr != nil {
			s.logger.Error("scheduled reaggregation failed", "error", runErr)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("reaggregation scheduled", "spec", s.spec)

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("reaggregation scheduler stopped")
	return nil
}
