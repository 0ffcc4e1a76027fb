package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/metrics"
)

// lockName is the distributed lock taken around a pass when a LockManager is
// configured.
const lockName = "settlement"

// PassRunner runs one resolution pass. *Resolver implements it.
type PassRunner interface {
	ResolvePass(ctx context.Context) (Report, error)
}

// Alerter delivers operator notifications. *notify.Notifier implements it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SchedulerOptions holds the optional collaborators of a Scheduler. Nil fields
// are skipped.
type SchedulerOptions struct {
	Lock    domain.LockManager
	LockTTL time.Duration
	Bus     domain.SignalBus
	Metrics *metrics.Metrics
	Alerter Alerter
}

// Scheduler runs settlement passes on an interval. Passes never overlap: a
// pass requested while another is running is dropped, not queued.
type Scheduler struct {
	runner PassRunner
	opts   SchedulerOptions
	logger *slog.Logger

	running atomic.Bool
	started atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	baseCtx context.Context
	last    *Report
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler around runner.
func NewScheduler(runner PassRunner, opts SchedulerOptions, logger *slog.Logger) *Scheduler {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Scheduler{
		runner:  runner,
		opts:    opts,
		logger:  logger.With(slog.String("component", "settlement_scheduler")),
		baseCtx: context.Background(),
	}
}

// Start runs a pass immediately and then every interval until ctx is done or
// Stop is called. A second Start is ignored.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "scheduler already started")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "settlement scheduler started", slog.Duration("interval", interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Passes are detached from Stop; only the ticker loop is canceled.
		passCtx := context.WithoutCancel(loopCtx)

		s.RunSettlement(passCtx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				s.logger.Info("settlement scheduler stopped")
				return
			case <-ticker.C:
				s.RunSettlement(passCtx)
			}
		}
	}()
}

// Stop cancels future ticks. A pass already running completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the loop has exited and no pass is running.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Running reports whether a pass is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastReport returns the report of the most recent completed pass.
func (s *Scheduler) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// TriggerNow starts a pass in the background. It returns false without doing
// anything when a pass is already running.
func (s *Scheduler) TriggerNow() bool {
	if s.running.Load() {
		return false
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunSettlement(ctx)
	}()
	return true
}

// RunSettlement runs one pass. The bool is false when the pass was dropped
// because another one was running or another instance holds the lock. Errors
// are logged and recorded in the report, never returned.
func (s *Scheduler) RunSettlement(ctx context.Context) (Report, bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.InfoContext(ctx, "settlement already running, pass dropped")
		s.opts.Metrics.RecordSettlementSkipped("overlap")
		return Report{}, false
	}
	defer s.running.Store(false)

	if s.opts.Lock != nil {
		unlock, err := s.opts.Lock.Acquire(ctx, lockName, s.opts.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.InfoContext(ctx, "settlement lock held elsewhere, pass skipped")
				s.opts.Metrics.RecordSettlementSkipped("locked")
			} else {
				s.logger.WarnContext(ctx, "settlement lock unavailable, pass skipped",
					slog.String("error", err.Error()))
				s.opts.Metrics.RecordSettlementSkipped("lock_error")
			}
			return Report{}, false
		}
		defer unlock()
	}

	start := time.Now()
	rep, err := s.runner.ResolvePass(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		if rep.Error == "" {
			rep.Error = err.Error()
		}
		s.logger.ErrorContext(ctx, "settlement pass failed", slog.String("error", err.Error()))
		s.alert(ctx, "settlement_failed", "Settlement pass failed", err.Error())
	} else if rep.Failed > 0 {
		result = "partial"
	}

	s.opts.Metrics.RecordSettlement(result, time.Since(start), metrics.SettlementCounts{
		Resolved: rep.Resolved,
		Canceled: rep.Canceled,
		Pending:  rep.Pending,
		Failed:   rep.Failed,
		Scored:   rep.Scored,
		Voided:   rep.Voided,
	})

	s.mu.Lock()
	last := rep
	s.last = &last
	s.mu.Unlock()

	s.publish(ctx, rep)
	return rep, true
}

type settlementEvent struct {
	Type   string `json:"type"`
	Report Report `json:"report"`
}

// publish broadcasts the report on the signal bus and appends it to the
// settlement log stream.
func (s *Scheduler) publish(ctx context.Context, rep Report) {
	if s.opts.Bus == nil {
		return
	}
	payload, err := json.Marshal(settlementEvent{Type: "settlement_pass", Report: rep})
	if err != nil {
		return
	}
	if err := s.opts.Bus.Publish(ctx, domain.ChannelSettlement, payload); err != nil {
		s.logger.WarnContext(ctx, "publish settlement event failed", slog.String("error", err.Error()))
	}
	if err := s.opts.Bus.StreamAppend(ctx, domain.StreamSettlement, payload); err != nil {
		s.logger.WarnContext(ctx, "append settlement log failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) alert(ctx context.Context, event, title, msg string) {
	if s.opts.Alerter == nil {
		return
	}
	if err := s.opts.Alerter.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
	}
}
