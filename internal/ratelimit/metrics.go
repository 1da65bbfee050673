package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector receives limiter housekeeping signals.
type MetricsCollector interface {
	// SetTrackedMonitors sets the number of monitors with live counters.
	SetTrackedMonitors(int)
	// AddCleanupRemoved adds the number of counter sets dropped by Cleanup.
	AddCleanupRemoved(int)
}

type disabledMetrics struct{}

func (disabledMetrics) SetTrackedMonitors(int) {}
func (disabledMetrics) AddCleanupRemoved(int)  {}

// PrometheusMetrics implements MetricsCollector with Prometheus collectors.
type PrometheusMetrics struct {
	TrackedMonitors prometheus.Gauge
	CleanupRemoved  prometheus.Counter
}

// NewPrometheusMetrics creates limiter collectors under namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		TrackedMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_tracked_monitors",
			Help:      "Number of monitors with live rate limit counters.",
		}),
		CleanupRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_cleanup_removed_total",
			Help:      "Number of stale per-monitor counter sets removed by cleanup.",
		}),
	}
}

// MustRegister registers the collectors in reg.
func (pm *PrometheusMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(pm.TrackedMonitors, pm.CleanupRemoved)
}

func (pm *PrometheusMetrics) SetTrackedMonitors(n int) { pm.TrackedMonitors.Set(float64(n)) }

func (pm *PrometheusMetrics) AddCleanupRemoved(n int) {
	if n > 0 {
		pm.CleanupRemoved.Add(float64(n))
	}
}
