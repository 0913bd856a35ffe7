package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/model"
)

const (
	// DefaultStream is the JetStream stream alert events are written to
	DefaultStream = "ALERTS"

	subjectPrefix = "alert."

	// StatsSubject carries periodic alert statistics snapshots
	StatsSubject = subjectPrefix + "stats"
)

// Publisher publishes alert lifecycle events
type Publisher interface {
	// Publish sends one lifecycle event
	Publish(ctx context.Context, event model.AlertEvent) error

	// PublishJSON sends an arbitrary JSON document on subject
	PublishJSON(ctx context.Context, subject string, v interface{}) error
}

// Subject returns the subject an event type is published on
func Subject(eventType model.AlertEventType) string {
	return subjectPrefix + string(eventType)
}

// NATSPublisher publishes events to NATS JetStream
type NATSPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	stream string
}

// NewNATSPublisher creates a publisher and makes sure the stream exists
func NewNATSPublisher(js nats.JetStreamContext, stream string, logger *zap.Logger) (*NATSPublisher, error) {
	if js == nil {
		return nil, errors.New("events: nil jetstream context")
	}
	if stream == "" {
		stream = DefaultStream
	}

	p := &NATSPublisher{
		js:     js,
		logger: logger.Named("events"),
		stream: stream,
	}
	if err := p.setupStream(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *NATSPublisher) setupStream() error {
	info, err := p.js.StreamInfo(p.stream)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if info != nil {
		p.logger.Info("Using existing alert stream", zap.String("name", p.stream))
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     p.stream,
		Subjects: []string{subjectPrefix + "*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  -1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	p.logger.Info("Created alert stream", zap.String("name", p.stream))
	return nil
}

// Publish implements Publisher.Publish
func (p *NATSPublisher) Publish(ctx context.Context, event model.AlertEvent) error {
	if err := p.PublishJSON(ctx, Subject(event.Type), event); err != nil {
		return err
	}

	p.logger.Debug("Alert event published",
		zap.String("type", string(event.Type)),
		zap.String("alert_id", event.Alert.ID))
	return nil
}

// PublishJSON implements Publisher.PublishJSON
func (p *NATSPublisher) PublishJSON(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NopPublisher discards everything. Used when no broker is configured.
type NopPublisher struct{}

// Publish implements Publisher.Publish
func (NopPublisher) Publish(context.Context, model.AlertEvent) error { return nil }

// PublishJSON implements Publisher.PublishJSON
func (NopPublisher) PublishJSON(context.Context, string, interface{}) error { return nil }
