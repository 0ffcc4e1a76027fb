package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronRunner runs jobs on six-field cron specs (seconds first). Jobs receive
// the runner's base context.
type CronRunner struct {
	cron    *cron.Cron
	baseCtx context.Context
	logger  *slog.Logger
}

// NewCronRunner creates a CronRunner whose jobs run with baseCtx.
func NewCronRunner(baseCtx context.Context, logger *slog.Logger) *CronRunner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &CronRunner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		baseCtx: baseCtx,
		logger:  logger.With(slog.String("component", "cron")),
	}
}

// Add registers job under name on spec.
func (r *CronRunner) Add(name, spec string, job func(context.Context)) error {
	_, err := r.cron.AddFunc(spec, func() {
		r.logger.Debug("cron job firing", slog.String("job", name))
		job(r.baseCtx)
	})
	if err != nil {
		return fmt.Errorf("pipeline: cron %s %q: %w", name, spec, err)
	}
	r.logger.Info("cron job registered", slog.String("job", name), slog.String("spec", spec))
	return nil
}

// Len returns the number of registered jobs.
func (r *CronRunner) Len() int {
	return len(r.cron.Entries())
}

// Start begins scheduling in the background.
func (r *CronRunner) Start() {
	r.cron.Start()
	r.logger.Info("cron started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (r *CronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
