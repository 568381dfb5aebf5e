package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/pipewatch/pkg/log"
	"github.com/cuemby/pipewatch/pkg/metrics"
	"github.com/cuemby/pipewatch/pkg/reconciler"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// DefaultInterval is the time between reconciliation cycles
const DefaultInterval = 30 * time.Second

// ErrStopped is returned by Start once Stop has been called. A stopped
// scheduler cannot be restarted; create a new one instead.
var ErrStopped = errors.New("scheduler stopped")

// Runner runs one reconciliation cycle
type Runner interface {
	RunCycle(ctx context.Context) (*reconciler.CycleReport, error)
}

// Scheduler drives a Runner periodically: once immediately on Start, then
// every interval. A slow cycle delays the next tick instead of overlapping it.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   zerolog.Logger

	cron     gocron.Scheduler
	ctx      context.Context
	cancel   context.CancelFunc
	startErr error

	startOnce sync.Once
	stopOnce  sync.Once

	mu         sync.RWMutex
	running    bool
	lastReport *reconciler.CycleReport
	lastErr    error
}

// New creates a scheduler for runner. A non-positive interval selects DefaultInterval.
func New(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   log.WithComponent("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Interval returns the time between cycles
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins periodic execution. Only the first call has an effect; later
// calls return the result of the first. Start after Stop returns ErrStopped.
func (s *Scheduler) Start() error {
	s.startOnce.Do(func() {
		s.startErr = s.start()
	})
	return s.startErr
}

func (s *Scheduler) start() error {
	cron, err := gocron.NewScheduler(gocron.WithLogger(cronLogger{s.logger}))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.runOnce),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = cron.Shutdown()
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = cron.Shutdown()
		return ErrStopped
	}
	s.cron = cron
	s.running = true
	cron.Start()
	s.mu.Unlock()

	metrics.RegisterComponent(metrics.ComponentScheduler, true, "")
	s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started")
	return nil
}

// Stop halts periodic execution and cancels a running cycle. It is safe to
// call more than once, and before Start.
func (s *Scheduler) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		cron := s.cron
		wasRunning := s.running
		s.running = false
		s.mu.Unlock()

		if cron != nil {
			if shutdownErr := cron.Shutdown(); shutdownErr != nil {
				err = fmt.Errorf("failed to stop scheduler: %w", shutdownErr)
			}
		}
		if wasRunning {
			metrics.UpdateComponent(metrics.ComponentScheduler, false, "stopped")
			s.logger.Info().Msg("Scheduler stopped")
		}
	})
	return err
}

// Running reports whether periodic execution is active
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastReport returns the outcome of the most recent cycle, if any
func (s *Scheduler) LastReport() (*reconciler.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport, s.lastErr
}

// TriggerNow runs one cycle out of band and waits for it. It returns
// reconciler.ErrCycleInProgress when a cycle is already running.
func (s *Scheduler) TriggerNow(ctx context.Context) (*reconciler.CycleReport, error) {
	report, err := s.runner.RunCycle(ctx)
	if !errors.Is(err, reconciler.ErrCycleInProgress) {
		s.record(report, err)
	}
	return report, err
}

func (s *Scheduler) runOnce() {
	report, err := s.runner.RunCycle(s.ctx)
	switch {
	case errors.Is(err, reconciler.ErrCycleInProgress):
		s.logger.Warn().Msg("Previous reconciliation cycle still running, skipping tick")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("Reconciliation cycle failed")
	case report != nil && report.Err != nil:
		s.logger.Warn().Err(report.Err).Str("cycle_id", report.ID).Msg("Reconciliation cycle completed with errors")
	}
	s.record(report, err)
}

func (s *Scheduler) record(report *reconciler.CycleReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReport = report
	s.lastErr = err
}

// cronLogger routes gocron's logs through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Debug(msg string, args ...any) { l.logger.Debug().Fields(args).Msg(msg) }
func (l cronLogger) Info(msg string, args ...any)  { l.logger.Info().Fields(args).Msg(msg) }
func (l cronLogger) Warn(msg string, args ...any)  { l.logger.Warn().Fields(args).Msg(msg) }
func (l cronLogger) Error(msg string, args ...any) { l.logger.Error().Fields(args).Msg(msg) }
