package escalation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alert-escalation/internal/metrics"
	"github.com/t77yq/alert-escalation/internal/model"
	"github.com/t77yq/alert-escalation/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.AlertEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event model.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) PublishJSON(context.Context, string, interface{}) error {
	return p.err
}

func (p *recordingPublisher) types() []model.AlertEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.AlertEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// hookStore runs beforeTransition ahead of every conditional write and can fail writes
// for selected ids.
type hookStore struct {
	storage.AlertStore
	beforeTransition func(alert *model.Alert)
	failIDs          map[string]bool
	failFindAll      error
}

func (s *hookStore) FindAll(ctx context.Context) ([]*model.Alert, error) {
	if s.failFindAll != nil {
		return nil, s.failFindAll
	}
	return s.AlertStore.FindAll(ctx)
}

func (s *hookStore) Transition(ctx context.Context, alert *model.Alert, fromStatus model.AlertStatus, fromLevel int) (bool, error) {
	if s.failIDs[alert.ID] {
		return false, errors.New("disk full")
	}
	if s.beforeTransition != nil {
		s.beforeTransition(alert)
	}
	return s.AlertStore.Transition(ctx, alert, fromStatus, fromLevel)
}

func seed(t *testing.T, store storage.AlertStore, alerts ...*model.Alert) {
	t.Helper()
	for _, alert := range alerts {
		_, err := store.Save(context.Background(), alert)
		require.NoError(t, err)
	}
}

func alertWith(id string, severity model.AlertSeverity, level int, createdAt time.Time) *model.Alert {
	return &model.Alert{
		ID:              id,
		DriverID:        "D1",
		Category:        "overspeed",
		Severity:        severity,
		Status:          model.AlertStatusOpen,
		EscalationLevel: level,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func find(t *testing.T, store storage.AlertStore, id string) *model.Alert {
	t.Helper()
	alert, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, alert)
	return alert
}

func newTestEngine(t *testing.T, store storage.AlertStore, clock *fakeClock, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewEngine(store, NewPolicy(ModeFixed, DefaultThresholds(), nil, zaptest.NewLogger(t)), zaptest.NewLogger(t), opts...)
}

func TestEngine_SweepLifecycle(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: base}
	publisher := &recordingPublisher{}
	engine := newTestEngine(t, store, clock, WithPublisher(publisher))

	seed(t, store,
		alertWith("crit", model.AlertSeverityCritical, 0, base),
		alertWith("warn", model.AlertSeverityWarning, 0, base),
		alertWith("info", model.AlertSeverityInfo, 0, base),
	)
	ctx := context.Background()

	clock.Set(base.Add(10 * time.Second))
	result := engine.Sweep(ctx)
	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 0, result.Closed)
	assert.Equal(t, 1, find(t, store, "crit").EscalationLevel)

	clock.Set(base.Add(20 * time.Second))
	result = engine.Sweep(ctx)
	assert.Equal(t, 2, result.Escalated)
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, 2, find(t, store, "crit").EscalationLevel)
	assert.Equal(t, 1, find(t, store, "warn").EscalationLevel)
	info := find(t, store, "info")
	assert.Equal(t, model.AlertStatusAutoClosed, info.Status)
	require.NotNil(t, info.ClosedAt)

	clock.Set(base.Add(30 * time.Second))
	result = engine.Sweep(ctx)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, model.AlertStatusAutoClosed, find(t, store, "crit").Status)

	clock.Set(base.Add(40 * time.Second))
	result = engine.Sweep(ctx)
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, model.AlertStatusAutoClosed, find(t, store, "warn").Status)

	// terminal alerts are left alone
	clock.Set(base.Add(time.Hour))
	result = engine.Sweep(ctx)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 2, find(t, store, "crit").EscalationLevel)
	assert.Equal(t, 1, find(t, store, "warn").EscalationLevel)

	assert.ElementsMatch(t, []model.AlertEventType{
		model.AlertEventEscalated,
		model.AlertEventEscalated, model.AlertEventEscalated, model.AlertEventAutoClosed,
		model.AlertEventAutoClosed,
		model.AlertEventAutoClosed,
	}, publisher.types())
}

// A driver alert raised as CRITICAL and swept once after ten seconds moves 0 -> 1 only.
func TestEngine_SingleStepPerTick(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: base}
	engine := newTestEngine(t, store, clock)

	seed(t, store, alertWith("a-1", model.AlertSeverityCritical, 0, base))

	clock.Set(base.Add(10 * time.Second))
	engine.Sweep(context.Background())

	alert := find(t, store, "a-1")
	assert.Equal(t, 1, alert.EscalationLevel)
	assert.Equal(t, model.AlertStatusOpen, alert.Status)

	// even far past every threshold, one sweep moves one step
	clock.Set(base.Add(time.Hour))
	engine.Sweep(context.Background())
	alert = find(t, store, "a-1")
	assert.Equal(t, 2, alert.EscalationLevel)
	assert.Equal(t, model.AlertStatusOpen, alert.Status)
}

func TestEngine_ResolveWinsRace(t *testing.T) {
	memory := storage.NewMemoryStore()
	store := &hookStore{AlertStore: memory}
	store.beforeTransition = func(alert *model.Alert) {
		resolved := find(t, memory, alert.ID)
		resolved.Status = model.AlertStatusResolved
		_, err := memory.Save(context.Background(), resolved)
		require.NoError(t, err)
	}

	clock := &fakeClock{now: base.Add(time.Minute)}
	publisher := &recordingPublisher{}
	engine := newTestEngine(t, store, clock, WithPublisher(publisher))
	seed(t, memory, alertWith("a-1", model.AlertSeverityInfo, 0, base))

	result := engine.Sweep(context.Background())
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.Closed)
	assert.Equal(t, model.AlertStatusResolved, find(t, memory, "a-1").Status)
	assert.Empty(t, publisher.types())
}

func TestEngine_FailureIsolatedPerAlert(t *testing.T) {
	memory := storage.NewMemoryStore()
	store := &hookStore{AlertStore: memory, failIDs: map[string]bool{"bad": true}}
	clock := &fakeClock{now: base.Add(time.Minute)}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	engine := newTestEngine(t, store, clock, WithMetrics(m))

	seed(t, memory,
		alertWith("bad", model.AlertSeverityInfo, 0, base),
		alertWith("good", model.AlertSeverityInfo, 0, base.Add(time.Second)),
	)

	result := engine.Sweep(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, model.AlertStatusOpen, find(t, memory, "bad").Status)
	assert.Equal(t, model.AlertStatusAutoClosed, find(t, memory, "good").Status)
}

func TestEngine_LoadFailure(t *testing.T) {
	store := &hookStore{AlertStore: storage.NewMemoryStore(), failFindAll: errors.New("connection refused")}
	engine := newTestEngine(t, store, &fakeClock{now: base})

	result := engine.Sweep(context.Background())
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "connection refused")
}

func TestEngine_PublishFailureDoesNotBlockTransition(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: base.Add(time.Minute)}
	publisher := &recordingPublisher{err: errors.New("nats down")}
	engine := newTestEngine(t, store, clock, WithPublisher(publisher))

	seed(t, store, alertWith("a-1", model.AlertSeverityInfo, 0, base))

	result := engine.Sweep(context.Background())
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, model.AlertStatusAutoClosed, find(t, store, "a-1").Status)
}

func TestEngine_HonorsRules(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: base}
	lookup := ruleMap{"overspeed": {EscalateAfter: time.Minute, AutoCloseAfter: 10 * time.Minute}}
	engine := NewEngine(store, NewPolicy(ModeRules, DefaultThresholds(), lookup, zaptest.NewLogger(t)), zaptest.NewLogger(t), WithClock(clock.Now))

	seed(t, store, alertWith("a-1", model.AlertSeverityCritical, 0, base))

	clock.Set(base.Add(30 * time.Second))
	engine.Sweep(context.Background())
	assert.Equal(t, 0, find(t, store, "a-1").EscalationLevel)

	clock.Set(base.Add(time.Minute))
	engine.Sweep(context.Background())
	assert.Equal(t, 1, find(t, store, "a-1").EscalationLevel)
}

type ruleMap map[string]model.RuleEntry

func (r ruleMap) Lookup(category string) (model.RuleEntry, bool) {
	entry, ok := r[category]
	return entry, ok
}

func (r ruleMap) Categories() []string {
	categories := make([]string, 0, len(r))
	for category := range r {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}
