package storage

import (
	"context"
	"errors"
	"time"

	"github.com/t77yq/alert-escalation/internal/model"
)

var (
	// ErrInvalidAlert is returned when an alert is missing required fields
	ErrInvalidAlert = errors.New("invalid alert")

	// ErrUnknownDriver is returned when the storage driver name is not supported
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// AlertStore defines the interface for durable alert storage
type AlertStore interface {
	// Save inserts or replaces an alert. CreatedAt of an existing record is kept.
	Save(ctx context.Context, alert *model.Alert) (*model.Alert, error)

	// FindByID returns the alert with id, or nil when it does not exist
	FindByID(ctx context.Context, id string) (*model.Alert, error)

	// FindAll returns every alert ordered by creation time
	FindAll(ctx context.Context) ([]*model.Alert, error)

	// FindByDriver returns the alerts of a driver
	FindByDriver(ctx context.Context, driverID string) ([]*model.Alert, error)

	// FindByDriverAndCategory returns the alerts of a driver for one category
	FindByDriverAndCategory(ctx context.Context, driverID, category string) ([]*model.Alert, error)

	// FindByStatus returns the alerts currently in status
	FindByStatus(ctx context.Context, status model.AlertStatus) ([]*model.Alert, error)

	// Count returns the total number of alerts
	Count(ctx context.Context) (int64, error)

	// CountByStatus returns the number of alerts per status, taken from a single read
	CountByStatus(ctx context.Context) (map[model.AlertStatus]int64, error)

	// TopDriverCounts returns alert counts per driver, highest first
	TopDriverCounts(ctx context.Context) ([]model.DriverCount, error)

	// Transition writes the status, level and timestamps of alert only if the stored
	// record still has fromStatus and fromLevel. It reports whether the write happened.
	Transition(ctx context.Context, alert *model.Alert, fromStatus model.AlertStatus, fromLevel int) (bool, error)

	// MarkResolved moves the alert to RESOLVED at the given time. Only status, resolved_at
	// and updated_at are written. It returns nil when the alert does not exist.
	MarkResolved(ctx context.Context, id string, at time.Time) (*model.Alert, error)

	// Close releases the underlying resources
	Close() error
}

func validate(alert *model.Alert) error {
	if alert == nil || alert.ID == "" || alert.DriverID == "" {
		return ErrInvalidAlert
	}
	if !alert.Status.Valid() || !alert.Severity.Valid() {
		return ErrInvalidAlert
	}
	return nil
}
