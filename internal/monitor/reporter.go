package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/events"
	"github.com/t77yq/alert-escalation/internal/metrics"
	"github.com/t77yq/alert-escalation/internal/model"
)

// StatsSource provides the current alert counts
type StatsSource interface {
	Stats(ctx context.Context) (model.Stats, error)
}

// HostSampler returns host CPU and memory usage in percent
type HostSampler func(ctx context.Context) (cpuPercent, memoryPercent float64, err error)

// Snapshot is the periodic status report
type Snapshot struct {
	Timestamp   time.Time   `json:"timestamp"`
	Alerts      model.Stats `json:"alerts"`
	CPUUsage    float64     `json:"cpu_usage"`
	MemoryUsage float64     `json:"memory_usage"`
}

// Reporter periodically snapshots alert statistics and host usage
type Reporter struct {
	logger    *zap.Logger
	stats     StatsSource
	publisher events.Publisher
	metrics   *metrics.Metrics
	sample    HostSampler
	interval  time.Duration

	mu   sync.RWMutex
	last *Snapshot

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewReporter creates a reporter. publisher and m may be nil.
func NewReporter(stats StatsSource, publisher events.Publisher, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) *Reporter {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Reporter{
		logger:    logger.Named("reporter"),
		stats:     stats,
		publisher: publisher,
		metrics:   m,
		sample:    SampleHost,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SampleHost reads CPU and memory usage through gopsutil
func SampleHost(ctx context.Context) (float64, float64, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get memory usage: %w", err)
	}

	var usage float64
	if len(cpuPercent) > 0 {
		usage = cpuPercent[0]
	}
	return usage, memInfo.UsedPercent, nil
}

// Start runs the report loop until ctx is done or Stop is called
func (r *Reporter) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("invalid report interval: %s", r.interval)
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("status reporter already started")
	}
	r.started = true
	r.mu.Unlock()

	r.logger.Info("Starting status reporter", zap.Duration("interval", r.interval))
	go r.loop(ctx)
	return nil
}

// Stop stops the report loop and waits for it to exit
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping status reporter")
		close(r.stop)
	})

	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()
	if started {
		<-r.done
	}
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if _, err := r.Collect(ctx); err != nil {
				r.logger.Error("Failed to collect status snapshot", zap.Error(err))
			}
		}
	}
}

// Collect takes one snapshot, updates the gauges and publishes it
func (r *Reporter) Collect(ctx context.Context) (*Snapshot, error) {
	stats, err := r.stats.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert stats: %w", err)
	}

	snapshot := &Snapshot{
		Timestamp: time.Now().UTC(),
		Alerts:    stats,
	}
	cpuUsage, memUsage, err := r.sample(ctx)
	if err != nil {
		// alert counts are still worth reporting
		r.logger.Warn("Failed to sample host usage", zap.Error(err))
	} else {
		snapshot.CPUUsage = cpuUsage
		snapshot.MemoryUsage = memUsage
		r.metrics.SetHost(cpuUsage, memUsage)
	}
	r.metrics.SetStats(stats)

	r.mu.Lock()
	r.last = snapshot
	r.mu.Unlock()

	if err := r.publisher.PublishJSON(ctx, events.StatsSubject, snapshot); err != nil {
		r.logger.Warn("Failed to publish status snapshot", zap.Error(err))
	}

	r.logger.Debug("Status snapshot collected",
		zap.Int64("total", stats.Total),
		zap.Int64("open", stats.Open),
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage))
	return snapshot, nil
}

// Last returns the most recent snapshot, or nil before the first collection
func (r *Reporter) Last() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}
