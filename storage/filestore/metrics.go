package filestore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/windowcache/metric"
)

// storeMetrics holds Prometheus metrics for file store operations.
type storeMetrics struct {
	operations *prometheus.CounterVec   // By operation
	latency    *prometheus.HistogramVec // By operation
	errors     *prometheus.CounterVec   // By operation
}

// newStoreMetrics creates and registers file store metrics with the provided registry.
func newStoreMetrics(registry *metric.MetricsRegistry) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &storeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "filestore",
			Name:      "operations_total",
			Help:      "Total number of file store operations",
		}, []string{"operation"}), // operation: put, get, list, delete

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "windowcache",
			Subsystem: "filestore",
			Name:      "operation_duration_seconds",
			Help:      "File store operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "filestore",
			Name:      "errors_total",
			Help:      "Total number of failed file store operations",
		}, []string{"operation"}),
	}

	const prefix = "filestore"
	if err := registry.RegisterCounterVec(prefix, "operations", m.operations); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(prefix, "latency", m.latency); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(prefix, "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

// observe records one operation. Safe to call on a nil receiver.
func (m *storeMetrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}
