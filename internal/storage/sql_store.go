package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/model"
)

const alertColumns = `id, driver_id, category, severity, status, escalation_level, metadata,
	created_at, updated_at, resolved_at, closed_at`

// SQLStore implements AlertStore on top of database/sql
type SQLStore struct {
	logger  *zap.Logger
	db      *sql.DB
	dialect Dialect
}

// Open creates a store for the named driver: "sqlite", "postgres" or "memory"
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (AlertStore, error) {
	switch driver {
	case SQLite.Name:
		return NewSQLStore(ctx, SQLite, dsn, logger)
	case Postgres.Name:
		return NewSQLStore(ctx, Postgres, dsn, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

// NewSQLStore opens the database and makes sure the schema exists
func NewSQLStore(ctx context.Context, dialect Dialect, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect.Name == SQLite.Name {
		// a single connection serializes writers and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}

	store := &SQLStore{
		logger:  logger.Named("alert-store"),
		db:      db,
		dialect: dialect,
	}

	if err := store.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store.logger.Info("Alert store ready", zap.String("dialect", dialect.Name))
	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLStore) initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, stmt := range strings.Split(s.dialect.Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}
	return nil
}

// Save implements AlertStore.Save
func (s *SQLStore) Save(ctx context.Context, alert *model.Alert) (*model.Alert, error) {
	if err := validate(alert); err != nil {
		return nil, err
	}
	stored := alert.Clone()
	stored.CreatedAt = stored.CreatedAt.UTC()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	stored.UpdatedAt = stored.UpdatedAt.UTC()

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			driver_id = excluded.driver_id,
			category = excluded.category,
			severity = excluded.severity,
			status = excluded.status,
			escalation_level = excluded.escalation_level,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at,
			resolved_at = excluded.resolved_at,
			closed_at = excluded.closed_at`),
		stored.ID,
		stored.DriverID,
		stored.Category,
		string(stored.Severity),
		string(stored.Status),
		stored.EscalationLevel,
		sql.NullString{String: stored.Metadata, Valid: stored.Metadata != ""},
		stored.CreatedAt,
		stored.UpdatedAt,
		nullableTime(stored.ResolvedAt),
		nullableTime(stored.ClosedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}

	// re-read so the caller sees the persisted created_at of an existing record
	saved, err := s.FindByID(ctx, stored.ID)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, fmt.Errorf("failed to save alert: %s vanished", stored.ID)
	}
	return saved, nil
}

// Transition implements AlertStore.Transition
func (s *SQLStore) Transition(ctx context.Context, alert *model.Alert, fromStatus model.AlertStatus, fromLevel int) (bool, error) {
	if err := validate(alert); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE alerts SET
			status = ?,
			escalation_level = ?,
			updated_at = ?,
			closed_at = ?
		WHERE id = ? AND status = ? AND escalation_level = ?`),
		string(alert.Status),
		alert.EscalationLevel,
		alert.UpdatedAt.UTC(),
		nullableTime(alert.ClosedAt),
		alert.ID,
		string(fromStatus),
		fromLevel,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// MarkResolved implements AlertStore.MarkResolved
func (s *SQLStore) MarkResolved(ctx context.Context, id string, at time.Time) (*model.Alert, error) {
	at = at.UTC()
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE alerts SET
			status = ?,
			resolved_at = ?,
			updated_at = ?
		WHERE id = ?`),
		string(model.AlertStatusResolved),
		at,
		at,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.FindByID(ctx, id)
}

// FindByID implements AlertStore.FindByID
func (s *SQLStore) FindByID(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT `+alertColumns+`
		FROM alerts
		WHERE id = ?`), id)

	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return alert, nil
}

// FindAll implements AlertStore.FindAll
func (s *SQLStore) FindAll(ctx context.Context) ([]*model.Alert, error) {
	return s.list(ctx, "")
}

// FindByDriver implements AlertStore.FindByDriver
func (s *SQLStore) FindByDriver(ctx context.Context, driverID string) ([]*model.Alert, error) {
	return s.list(ctx, "WHERE driver_id = ?", driverID)
}

// FindByDriverAndCategory implements AlertStore.FindByDriverAndCategory
func (s *SQLStore) FindByDriverAndCategory(ctx context.Context, driverID, category string) ([]*model.Alert, error) {
	return s.list(ctx, "WHERE driver_id = ? AND category = ?", driverID, category)
}

// FindByStatus implements AlertStore.FindByStatus
func (s *SQLStore) FindByStatus(ctx context.Context, status model.AlertStatus) ([]*model.Alert, error) {
	return s.list(ctx, "WHERE status = ?", string(status))
}

// Count implements AlertStore.Count
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// CountByStatus implements AlertStore.CountByStatus
func (s *SQLStore) CountByStatus(ctx context.Context) (map[model.AlertStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM alerts
		GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.AlertStatus]int64)
	for rows.Next() {
		var raw string
		var count int64
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		status, err := model.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[status] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return counts, nil
}

// TopDriverCounts implements AlertStore.TopDriverCounts
func (s *SQLStore) TopDriverCounts(ctx context.Context) ([]model.DriverCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT driver_id, COUNT(*) AS total
		FROM alerts
		GROUP BY driver_id
		ORDER BY total DESC, driver_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by driver: %w", err)
	}
	defer rows.Close()

	var counts []model.DriverCount
	for rows.Next() {
		var row model.DriverCount
		if err := rows.Scan(&row.DriverID, &row.Count); err != nil {
			return nil, fmt.Errorf("failed to scan driver count: %w", err)
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return counts, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) list(ctx context.Context, where string, args ...interface{}) ([]*model.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts " + where + " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

type alertScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row alertScanner) (*model.Alert, error) {
	var alert model.Alert
	var severity, status string
	var metadata sql.NullString
	var resolvedAt, closedAt sql.NullTime

	if err := row.Scan(
		&alert.ID,
		&alert.DriverID,
		&alert.Category,
		&severity,
		&status,
		&alert.EscalationLevel,
		&metadata,
		&alert.CreatedAt,
		&alert.UpdatedAt,
		&resolvedAt,
		&closedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	alert.Severity = model.AlertSeverity(severity)
	alert.Status = parsed
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if metadata.Valid {
		alert.Metadata = metadata.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		alert.ResolvedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		alert.ClosedAt = &t
	}
	return &alert, nil
}

func nullableTime(value *time.Time) sql.NullTime {
	if value == nil || value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
