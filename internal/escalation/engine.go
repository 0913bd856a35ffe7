package escalation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/events"
	"github.com/t77yq/alert-escalation/internal/metrics"
	"github.com/t77yq/alert-escalation/internal/model"
	"github.com/t77yq/alert-escalation/internal/storage"
)

// SweepResult summarizes one pass over the alert store
type SweepResult struct {
	Scanned   int
	Escalated int
	Closed    int
	Conflicts int
	Failed    int
	Duration  time.Duration
	Err       error
}

// Engine advances OPEN alerts through the escalation state machine
type Engine struct {
	logger    *zap.Logger
	store     storage.AlertStore
	policy    *Policy
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine over store
func NewEngine(store storage.AlertStore, policy *Policy, logger *zap.Logger, opts ...Option) *Engine {
	if policy == nil {
		policy = NewPolicy(ModeFixed, DefaultThresholds(), nil, logger)
	}
	e := &Engine{
		logger:    logger.Named("escalation"),
		store:     store,
		policy:    policy,
		publisher: events.NopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sweep evaluates every OPEN alert once and persists the resulting transitions
func (e *Engine) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	result := e.sweep(ctx)
	result.Duration = time.Since(start)

	e.metrics.Sweep(result.Duration, result.Conflicts, result.Failed, result.Err)
	if result.Err != nil {
		e.logger.Error("Escalation sweep failed", zap.Error(result.Err))
		return result
	}

	if result.Escalated > 0 || result.Closed > 0 || result.Failed > 0 {
		e.logger.Info("Escalation sweep completed",
			zap.Int("scanned", result.Scanned),
			zap.Int("escalated", result.Escalated),
			zap.Int("closed", result.Closed),
			zap.Int("conflicts", result.Conflicts),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration))
	} else {
		e.logger.Debug("Escalation sweep completed",
			zap.Int("scanned", result.Scanned),
			zap.Duration("duration", result.Duration))
	}
	return result
}

func (e *Engine) sweep(ctx context.Context) SweepResult {
	var result SweepResult

	alerts, err := e.store.FindAll(ctx)
	if err != nil {
		result.Err = fmt.Errorf("failed to load alerts: %w", err)
		return result
	}

	now := e.now().UTC()
	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("sweep interrupted: %w", err)
			return result
		}
		if !alert.IsOpen() {
			continue
		}
		result.Scanned++

		transition, ok := Evaluate(alert, e.policy.For(alert.Category), now)
		if !ok {
			continue
		}

		next := alert.Clone()
		Apply(next, transition, now)

		applied, err := e.store.Transition(ctx, next, alert.Status, alert.EscalationLevel)
		if err != nil {
			result.Failed++
			e.logger.Error("Failed to persist alert transition",
				zap.String("alert_id", alert.ID),
				zap.String("transition", string(transition.Kind)),
				zap.Error(err))
			continue
		}
		if !applied {
			result.Conflicts++
			e.logger.Debug("Alert changed during sweep, skipping",
				zap.String("alert_id", alert.ID))
			continue
		}

		switch transition.Kind {
		case TransitionEscalate:
			result.Escalated++
			e.logger.Info("Alert escalated",
				zap.String("alert_id", alert.ID),
				zap.String("driver_id", alert.DriverID),
				zap.String("severity", string(alert.Severity)),
				zap.Int("level", transition.ToLevel))
		case TransitionAutoClose:
			result.Closed++
			e.logger.Info("Alert auto-closed",
				zap.String("alert_id", alert.ID),
				zap.String("driver_id", alert.DriverID),
				zap.String("severity", string(alert.Severity)))
		}

		e.metrics.Transition(transition.Event())
		e.publish(ctx, transition.Event(), next, now)
	}
	return result
}

func (e *Engine) publish(ctx context.Context, eventType model.AlertEventType, alert *model.Alert, at time.Time) {
	event := model.AlertEvent{Type: eventType, Alert: *alert, At: at}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish alert event",
			zap.String("alert_id", alert.ID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}
