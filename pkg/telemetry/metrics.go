package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for the controller. A nil *Metrics
// is a valid no-op receiver, so callers never have to branch on whether
// metrics are enabled.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	changesApplied *prometheus.CounterVec

	driverCalls    *prometheus.CounterVec
	driverDuration *prometheus.HistogramVec

	errorsByClass *prometheus.CounterVec

	rollbacks *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. Returns nil when metrics are
// disabled; every record method tolerates a nil receiver.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of reconciliation runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of reconciliation runs completed",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		changesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "Total number of per-resource apply results",
		}, []string{"kind", "status"}),
		driverCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_calls_total",
			Help:      "Total number of driver collaborator calls",
		}, []string{"driver", "operation", "status"}),
		driverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "driver_call_duration_seconds",
			Help:      "Duration of driver collaborator calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"driver", "operation"}),
		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of classified errors",
		}, []string{"class"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Total number of checkpoint rollbacks attempted",
		}, []string{"result"}),
	}

	collectors := []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.changesApplied, m.driverCalls, m.driverDuration,
		m.errorsByClass, m.rollbacks,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry exposes the underlying registry for scraping or pushing.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RunStarted records the start of a reconciliation run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

// RunCompleted records a finished run with its outcome and duration.
func (m *Metrics) RunCompleted(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ChangeApplied records one per-resource apply result.
func (m *Metrics) ChangeApplied(kind, status string) {
	if m == nil {
		return
	}
	m.changesApplied.WithLabelValues(kind, status).Inc()
}

// DriverCall records one driver collaborator call.
func (m *Metrics) DriverCall(driver, operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.driverCalls.WithLabelValues(driver, operation, status).Inc()
	m.driverDuration.WithLabelValues(driver, operation).Observe(d.Seconds())
}

// ErrorRecorded counts a classified error.
func (m *Metrics) ErrorRecorded(class string) {
	if m == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// RollbackAttempted counts a rollback attempt by result.
func (m *Metrics) RollbackAttempted(result string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(result).Inc()
}
