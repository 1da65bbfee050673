package checkqueue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives queue counters. Implementations must be safe for
// concurrent use.
type MetricsCollector interface {
	Enqueued()
	Admitted()
	Rejected()
	// Finished records a completed check; err is nil on success.
	Finished(d time.Duration, err error)
	SetLength(n int)
}

type disabledMetrics struct{}

func (disabledMetrics) Enqueued()                     {}
func (disabledMetrics) Admitted()                     {}
func (disabledMetrics) Rejected()                     {}
func (disabledMetrics) Finished(time.Duration, error) {}
func (disabledMetrics) SetLength(int)                 {}

// PrometheusMetrics implements MetricsCollector.
type PrometheusMetrics struct {
	EnqueuedTotal prometheus.Counter
	AdmittedTotal prometheus.Counter
	RejectedTotal prometheus.Counter
	FailedTotal   prometheus.Counter
	Duration      prometheus.Histogram
	Length        prometheus.Gauge
}

func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		EnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_enqueued_total",
			Help:      "Checks accepted by the queue.",
		}),
		AdmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_admitted_total",
			Help:      "Checks admitted by the rate limiter.",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_rejected_total",
			Help:      "Rate limiter rejections. A check rejected twice counts twice.",
		}),
		FailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_failed_total",
			Help:      "Checks that returned an error or panicked.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall time of executed checks.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		Length: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Checks waiting in the queue.",
		}),
	}
}

func (pm *PrometheusMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(pm.EnqueuedTotal, pm.AdmittedTotal, pm.RejectedTotal, pm.FailedTotal, pm.Duration, pm.Length)
}

func (pm *PrometheusMetrics) Enqueued() { pm.EnqueuedTotal.Inc() }
func (pm *PrometheusMetrics) Admitted() { pm.AdmittedTotal.Inc() }
func (pm *PrometheusMetrics) Rejected() { pm.RejectedTotal.Inc() }

func (pm *PrometheusMetrics) Finished(d time.Duration, err error) {
	pm.Duration.Observe(d.Seconds())
	if err != nil {
		pm.FailedTotal.Inc()
	}
}

func (pm *PrometheusMetrics) SetLength(n int) { pm.Length.Set(float64(n)) }
