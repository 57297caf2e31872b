package keyguard

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for guard checks.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	registry      *prometheus.Registry
}

var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

// GetSharedMetrics returns the singleton Metrics instance.
func GetSharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = NewMetrics("keyguard")
	})
	return sharedMetrics
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keyguard"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "checks_total",
			Help:      "Total number of guard checks",
		},
		[]string{"status", "reason"},
	)

	m.checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "check_duration_seconds",
			Help:      "Guard check duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status", "reason"},
	)

	m.registry.MustRegister(
		m.checksTotal,
		m.checkDuration,
	)

	return m
}

// Init pre-initializes common label combinations with zero values so
// that metrics appear in /metrics output immediately after startup.
// Prometheus *Vec types only emit metric lines after WithLabelValues()
// is called at least once. This method is idempotent and safe to call
// multiple times.
func (m *Metrics) Init() {
	reasons := []string{
		"authenticated", "anonymous", "missing_key", "invalid_key",
		"insufficient_scopes", "validator_error", "hook_error",
	}
	for _, status := range []string{"success", "error"} {
		for _, reason := range reasons {
			m.checksTotal.WithLabelValues(status, reason)
			m.checkDuration.WithLabelValues(status, reason)
		}
	}
}

// RecordCheck records one guard check.
func (m *Metrics) RecordCheck(status, reason string, duration time.Duration) {
	m.checksTotal.WithLabelValues(status, reason).Inc()
	m.checkDuration.WithLabelValues(status, reason).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry.
// It uses Register (not MustRegister) to gracefully handle duplicate
// registration that can occur when authenticators are recreated on
// config reload. AlreadyRegisteredError is silently ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{
		m.checksTotal,
		m.checkDuration,
	} {
		if err := registry.Register(c); err != nil {
			if !isAlreadyRegistered(err) {
				panic(err)
			}
		}
	}
}

// isAlreadyRegistered returns true if the error indicates the
// collector was already registered with the registry.
func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
