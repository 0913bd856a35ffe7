package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/t77yq/alert-escalation/internal/model"
)

// MemoryStore implements AlertStore in process memory. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*model.Alert
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]*model.Alert),
	}
}

// Save implements AlertStore.Save
func (s *MemoryStore) Save(ctx context.Context, alert *model.Alert) (*model.Alert, error) {
	if err := validate(alert); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := alert.Clone()
	if existing, ok := s.alerts[stored.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.alerts[stored.ID] = stored
	return stored.Clone(), nil
}

// Transition implements AlertStore.Transition
func (s *MemoryStore) Transition(ctx context.Context, alert *model.Alert, fromStatus model.AlertStatus, fromLevel int) (bool, error) {
	if err := validate(alert); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.alerts[alert.ID]
	if !ok || existing.Status != fromStatus || existing.EscalationLevel != fromLevel {
		return false, nil
	}
	existing.Status = alert.Status
	existing.EscalationLevel = alert.EscalationLevel
	existing.UpdatedAt = alert.UpdatedAt
	if alert.ClosedAt != nil {
		t := *alert.ClosedAt
		existing.ClosedAt = &t
	}
	return true, nil
}

// MarkResolved implements AlertStore.MarkResolved
func (s *MemoryStore) MarkResolved(ctx context.Context, id string, at time.Time) (*model.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.alerts[id]
	if !ok {
		return nil, nil
	}
	resolvedAt := at
	existing.Status = model.AlertStatusResolved
	existing.ResolvedAt = &resolvedAt
	existing.UpdatedAt = at
	return existing.Clone(), nil
}

// FindByID implements AlertStore.FindByID
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*model.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return nil, nil
	}
	return alert.Clone(), nil
}

// FindAll implements AlertStore.FindAll
func (s *MemoryStore) FindAll(ctx context.Context) ([]*model.Alert, error) {
	return s.filter(ctx, func(*model.Alert) bool { return true })
}

// FindByDriver implements AlertStore.FindByDriver
func (s *MemoryStore) FindByDriver(ctx context.Context, driverID string) ([]*model.Alert, error) {
	return s.filter(ctx, func(a *model.Alert) bool { return a.DriverID == driverID })
}

// FindByDriverAndCategory implements AlertStore.FindByDriverAndCategory
func (s *MemoryStore) FindByDriverAndCategory(ctx context.Context, driverID, category string) ([]*model.Alert, error) {
	return s.filter(ctx, func(a *model.Alert) bool {
		return a.DriverID == driverID && a.Category == category
	})
}

// FindByStatus implements AlertStore.FindByStatus
func (s *MemoryStore) FindByStatus(ctx context.Context, status model.AlertStatus) ([]*model.Alert, error) {
	return s.filter(ctx, func(a *model.Alert) bool { return a.Status == status })
}

// Count implements AlertStore.Count
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.alerts)), nil
}

// CountByStatus implements AlertStore.CountByStatus
func (s *MemoryStore) CountByStatus(ctx context.Context) (map[model.AlertStatus]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.AlertStatus]int64)
	for _, alert := range s.alerts {
		counts[alert.Status]++
	}
	return counts, nil
}

// TopDriverCounts implements AlertStore.TopDriverCounts
func (s *MemoryStore) TopDriverCounts(ctx context.Context) ([]model.DriverCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	totals := make(map[string]int64)
	for _, alert := range s.alerts {
		totals[alert.DriverID]++
	}
	s.mu.RUnlock()

	counts := make([]model.DriverCount, 0, len(totals))
	for driverID, count := range totals {
		counts = append(counts, model.DriverCount{DriverID: driverID, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].DriverID < counts[j].DriverID
	})
	return counts, nil
}

// Close implements AlertStore.Close
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) filter(ctx context.Context, keep func(*model.Alert) bool) ([]*model.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var alerts []*model.Alert
	for _, alert := range s.alerts {
		if keep(alert) {
			alerts = append(alerts, alert.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
		}
		return alerts[i].ID < alerts[j].ID
	})
	return alerts, nil
}
