package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/events"
	"github.com/t77yq/alert-escalation/internal/metrics"
	"github.com/t77yq/alert-escalation/internal/model"
	"github.com/t77yq/alert-escalation/internal/storage"
)

const (
	// DefaultBurstWindow is the trailing window prior alerts are counted in
	DefaultBurstWindow = 60 * time.Minute
	// DefaultBurstThreshold is the number of prior alerts that triggers burst escalation
	DefaultBurstThreshold = 2

	msgResolved = "Alert resolved successfully"
	msgNotFound = "Alert not found"
)

// Input carries the caller supplied fields of a new alert
type Input struct {
	DriverID   string `json:"driverId"`
	SourceType string `json:"sourceType"`
	Severity   string `json:"severity"`
	Metadata   string `json:"metadata"`
}

// ResolveResult reports the outcome of Resolve
type ResolveResult struct {
	Found   bool         `json:"found"`
	Message string       `json:"message"`
	Alert   *model.Alert `json:"alert,omitempty"`
}

// Service implements the alert lifecycle operations
type Service struct {
	logger         *zap.Logger
	store          storage.AlertStore
	publisher      events.Publisher
	metrics        *metrics.Metrics
	now            func() time.Time
	burstWindow    time.Duration
	burstThreshold int
}

// Option configures a Service
type Option func(*Service)

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBurst overrides the burst window and threshold. Non-positive values keep the defaults.
func WithBurst(window time.Duration, threshold int) Option {
	return func(s *Service) {
		if window > 0 {
			s.burstWindow = window
		}
		if threshold > 0 {
			s.burstThreshold = threshold
		}
	}
}

// NewService creates a lifecycle service over store
func NewService(store storage.AlertStore, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("alerts: nil store")
	}
	s := &Service{
		logger:         logger.Named("alerts"),
		store:          store,
		publisher:      events.NopPublisher{},
		now:            time.Now,
		burstWindow:    DefaultBurstWindow,
		burstThreshold: DefaultBurstThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create validates input, applies burst escalation and persists a new OPEN alert
func (s *Service) Create(ctx context.Context, in Input) (*model.Alert, error) {
	driverID := strings.TrimSpace(in.DriverID)
	if driverID == "" {
		return nil, &ValidationError{Field: "driverId", Reason: "must not be empty"}
	}
	severity, err := model.ParseSeverity(in.Severity)
	if err != nil {
		return nil, &ValidationError{Field: "severity", Reason: err.Error()}
	}

	now := s.now().UTC()
	alert := &model.Alert{
		ID:              uuid.New().String(),
		DriverID:        driverID,
		Category:        strings.TrimSpace(in.SourceType),
		Severity:        severity,
		Status:          model.AlertStatusOpen,
		EscalationLevel: 0,
		Metadata:        in.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	burst, err := s.isBurst(ctx, alert.DriverID, alert.Category, now)
	if err != nil {
		return nil, err
	}
	if burst {
		alert.Severity = model.AlertSeverityCritical
		alert.EscalationLevel = 1
	}

	saved, err := s.store.Save(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}

	s.logger.Info("Alert created",
		zap.String("alert_id", saved.ID),
		zap.String("driver_id", saved.DriverID),
		zap.String("source_type", saved.Category),
		zap.String("severity", string(saved.Severity)),
		zap.Bool("burst", burst))

	s.metrics.AlertCreated(saved.Severity, burst)
	s.metrics.Transition(model.AlertEventCreated)
	s.publish(ctx, model.AlertEventCreated, saved, now)
	return saved, nil
}

// isBurst reports whether enough alerts for the same driver and category were raised
// within the trailing window
func (s *Service) isBurst(ctx context.Context, driverID, category string, now time.Time) (bool, error) {
	recent, err := s.store.FindByDriverAndCategory(ctx, driverID, category)
	if err != nil {
		return false, fmt.Errorf("failed to load recent alerts: %w", err)
	}

	since := now.Add(-s.burstWindow)
	count := 0
	for _, alert := range recent {
		if alert.CreatedAt.After(since) {
			count++
		}
	}
	return count >= s.burstThreshold, nil
}

// Resolve forces an alert into RESOLVED. An unknown id is reported through the result,
// not as an error.
func (s *Service) Resolve(ctx context.Context, id string) (ResolveResult, error) {
	now := s.now().UTC()
	saved, err := s.store.MarkResolved(ctx, id, now)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("failed to resolve alert: %w", err)
	}
	if saved == nil {
		s.metrics.Resolve(false)
		s.logger.Debug("Resolve requested for unknown alert", zap.String("alert_id", id))
		return ResolveResult{Found: false, Message: msgNotFound}, nil
	}

	s.logger.Info("Alert resolved",
		zap.String("alert_id", saved.ID),
		zap.String("driver_id", saved.DriverID),
		zap.Int("level", saved.EscalationLevel))

	s.metrics.Resolve(true)
	s.metrics.Transition(model.AlertEventResolved)
	s.publish(ctx, model.AlertEventResolved, saved, now)
	return ResolveResult{Found: true, Message: msgResolved, Alert: saved}, nil
}

// Get returns one alert or ErrNotFound
func (s *Service) Get(ctx context.Context, id string) (*model.Alert, error) {
	alert, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	if alert == nil {
		return nil, ErrNotFound
	}
	return alert, nil
}

// ListAll returns every alert
func (s *Service) ListAll(ctx context.Context) ([]*model.Alert, error) {
	alerts, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// ListByDriver returns the alerts of one driver
func (s *Service) ListByDriver(ctx context.Context, driverID string) ([]*model.Alert, error) {
	alerts, err := s.store.FindByDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts by driver: %w", err)
	}
	return alerts, nil
}

// TopDrivers ranks drivers by alert count, highest first
func (s *Service) TopDrivers(ctx context.Context) ([]model.DriverCount, error) {
	counts, err := s.store.TopDriverCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rank drivers: %w", err)
	}
	return counts, nil
}

// Stats counts alerts by status. All counts come from one store read, so
// open+resolved+autoClosed never exceeds total.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to count alerts: %w", err)
	}

	var stats model.Stats
	for _, count := range counts {
		stats.Total += count
	}
	stats.Open = counts[model.AlertStatusOpen]
	stats.Resolved = counts[model.AlertStatusResolved]
	stats.AutoClosed = counts[model.AlertStatusAutoClosed]
	return stats, nil
}

func (s *Service) publish(ctx context.Context, eventType model.AlertEventType, alert *model.Alert, at time.Time) {
	event := model.AlertEvent{Type: eventType, Alert: *alert, At: at}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish alert event",
			zap.String("alert_id", alert.ID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}
