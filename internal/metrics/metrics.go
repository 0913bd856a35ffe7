package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/t77yq/alert-escalation/internal/model"
)

const (
	metricPrefix = "alertsvc_"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	alertsCreated    *prometheus.CounterVec
	burstEscalations prometheus.Counter
	transitions      *prometheus.CounterVec
	resolves         *prometheus.CounterVec

	sweepTotal     *prometheus.CounterVec
	sweepLatency   prometheus.Histogram
	sweepConflicts prometheus.Counter
	sweepErrors    prometheus.Counter

	alertsByStatus *prometheus.GaugeVec
	hostCPU        prometheus.Gauge
	hostMemory     prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		alertsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_created_total",
				Help: "Total alerts created by severity",
			},
			[]string{"severity"},
		),
		burstEscalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "burst_escalations_total",
				Help: "Total alerts raised to CRITICAL at creation by burst detection",
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_transitions_total",
				Help: "Total alert lifecycle transitions by type",
			},
			[]string{"event"},
		),
		resolves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "resolve_requests_total",
				Help: "Total resolve requests by outcome",
			},
			[]string{"result"},
		),
		sweepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_total",
				Help: "Total escalation sweeps by result",
			},
			[]string{"result"},
		),
		sweepLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sweep_latency_seconds",
				Help:    "Escalation sweep latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		sweepConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_conflicts_total",
				Help: "Total sweep transitions skipped because the alert changed concurrently",
			},
		),
		sweepErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_errors_total",
				Help: "Total per-alert sweep persistence failures",
			},
		),
		alertsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alerts",
				Help: "Current number of alerts by status",
			},
			[]string{"status"},
		),
		hostCPU: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "host_cpu_percent",
				Help: "Host CPU usage percent at the last snapshot",
			},
		),
		hostMemory: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "host_memory_percent",
				Help: "Host memory usage percent at the last snapshot",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.alertsCreated,
		m.burstEscalations,
		m.transitions,
		m.resolves,
		m.sweepTotal,
		m.sweepLatency,
		m.sweepConflicts,
		m.sweepErrors,
		m.alertsByStatus,
		m.hostCPU,
		m.hostMemory,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AlertCreated counts a created alert
func (m *Metrics) AlertCreated(severity model.AlertSeverity, burst bool) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(string(severity)).Inc()
	if burst {
		m.burstEscalations.Inc()
	}
}

// Transition counts a lifecycle event
func (m *Metrics) Transition(event model.AlertEventType) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(event)).Inc()
}

// Resolve counts a resolve request; found is false for unknown ids
func (m *Metrics) Resolve(found bool) {
	if m == nil {
		return
	}
	result := "resolved"
	if !found {
		result = "not_found"
	}
	m.resolves.WithLabelValues(result).Inc()
}

// Sweep records one escalation sweep
func (m *Metrics) Sweep(duration time.Duration, conflicts, failed int, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	m.sweepTotal.WithLabelValues(result).Inc()
	m.sweepLatency.Observe(duration.Seconds())
	m.sweepConflicts.Add(float64(conflicts))
	m.sweepErrors.Add(float64(failed))
}

// SetStats publishes the latest alert counts
func (m *Metrics) SetStats(stats model.Stats) {
	if m == nil {
		return
	}
	m.alertsByStatus.WithLabelValues("total").Set(float64(stats.Total))
	m.alertsByStatus.WithLabelValues(string(model.AlertStatusOpen)).Set(float64(stats.Open))
	m.alertsByStatus.WithLabelValues(string(model.AlertStatusResolved)).Set(float64(stats.Resolved))
	m.alertsByStatus.WithLabelValues(string(model.AlertStatusAutoClosed)).Set(float64(stats.AutoClosed))
}

// SetHost publishes the latest host usage figures
func (m *Metrics) SetHost(cpuPercent, memoryPercent float64) {
	if m == nil {
		return
	}
	m.hostCPU.Set(cpuPercent)
	m.hostMemory.Set(memoryPercent)
}
