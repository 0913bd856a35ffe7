package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrSchedulerStarted is returned by Start on a running scheduler
var ErrSchedulerStarted = errors.New("escalation scheduler already started")

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, fields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, zap.Any(key, keysAndValues[i+1]))
	}
	return out
}

// Scheduler runs the engine sweep on a fixed interval. Sweeps never overlap: a tick
// that fires while the previous sweep is still running is skipped.
type Scheduler struct {
	logger   *zap.Logger
	engine   *Engine
	interval time.Duration
	timeout  time.Duration
	cron     *cron.Cron

	mu      sync.Mutex
	started bool
	initial sync.WaitGroup
}

// NewScheduler creates a scheduler. A zero timeout means sweeps are bounded only by
// the context passed to Start.
func NewScheduler(engine *Engine, interval, timeout time.Duration, logger *zap.Logger) *Scheduler {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	}

	return &Scheduler{
		logger:   logger.Named("escalation-scheduler"),
		engine:   engine,
		interval: interval,
		timeout:  timeout,
		cron:     cron.New(cronOptions...),
	}
}

// Start registers the sweep and starts the cron loop. The first sweep runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerStarted
	}
	if s.interval <= 0 {
		return fmt.Errorf("invalid sweep interval: %s", s.interval)
	}

	id, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	s.cron.Start()
	s.started = true

	// run through the wrapped job so the first sweep is also serialized
	job := s.cron.Entry(id).WrappedJob
	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		job.Run()
	}()

	s.logger.Info("Escalation scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("sweep_timeout", s.timeout),
		zap.String("mode", string(s.engine.policy.Mode())))
	return nil
}

// Stop stops the cron loop and waits for an in-flight sweep
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.initial.Wait()
	s.started = false
	s.logger.Info("Escalation scheduler stopped")
}

// RunOnce performs one sweep bounded by the configured timeout
func (s *Scheduler) RunOnce(ctx context.Context) SweepResult {
	if ctx.Err() != nil {
		return SweepResult{Err: ctx.Err()}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.engine.Sweep(ctx)
}
