// Package pipeline runs the scheduled background jobs: odds collection,
// snapshot pruning and settled-prediction cleanup.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig holds the job schedules. An empty cron spec disables the
// job.
type OrchestratorConfig struct {
	CollectCron    string
	PruneCron      string
	RetentionHours int
	InitialDelay   time.Duration

	CleanupCron   string
	RetentionDays int
}

// Orchestrator owns the cron runner and the jobs registered on it.
type Orchestrator struct {
	collector *OddsCollector
	retention *Retention
	cfg       OrchestratorConfig
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. collector or retention may be nil
// to leave their jobs out.
func NewOrchestrator(collector *OddsCollector, retention *Retention, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		collector: collector,
		retention: retention,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run registers the jobs, runs an initial collection after InitialDelay and
// blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.String("collect_cron", o.cfg.CollectCron),
		slog.String("prune_cron", o.cfg.PruneCron),
		slog.String("cleanup_cron", o.cfg.CleanupCron),
	)

	runner := NewCronRunner(ctx, o.logger)
	if err := o.register(runner); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if o.collector != nil && o.cfg.CollectCron != "" {
		g.Go(func() error {
			timer := time.NewTimer(o.cfg.InitialDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
			o.collect(ctx)
			return nil
		})
	}

	g.Go(func() error {
		runner.Start()
		<-ctx.Done()
		runner.Stop()
		return nil
	})

	err := g.Wait()
	o.logger.Info("pipeline orchestrator stopped")
	return err
}

func (o *Orchestrator) register(runner *CronRunner) error {
	if o.collector != nil {
		if o.cfg.CollectCron != "" {
			if err := runner.Add("odds_collect", o.cfg.CollectCron, o.collect); err != nil {
				return err
			}
		}
		if o.cfg.PruneCron != "" && o.cfg.RetentionHours > 0 {
			if err := runner.Add("odds_prune", o.cfg.PruneCron, o.prune); err != nil {
				return err
			}
		}
	}
	if o.retention != nil && o.cfg.CleanupCron != "" && o.cfg.RetentionDays > 0 {
		if err := runner.Add("prediction_cleanup", o.cfg.CleanupCron, o.cleanup); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) collect(ctx context.Context) {
	if _, err := o.collector.CollectAllActive(ctx); err != nil && !errors.Is(err, ErrBusy) {
		o.logger.ErrorContext(ctx, "odds collection failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) prune(ctx context.Context) {
	if _, err := o.collector.PruneOlderThan(ctx, o.cfg.RetentionHours); err != nil {
		o.logger.ErrorContext(ctx, "odds prune failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) cleanup(ctx context.Context) {
	if _, err := o.retention.CleanupSettled(ctx, o.cfg.RetentionDays); err != nil {
		o.logger.ErrorContext(ctx, "prediction cleanup failed", slog.String("error", err.Error()))
	}
}
