package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/windowcache/metric"
	"github.com/c360/windowcache/types"
)

// orchestratorMetrics holds Prometheus metrics for cache orchestration.
type orchestratorMetrics struct {
	// Lookups
	lookups  *prometheus.CounterVec // By artifact_type and result (hit/miss)
	selfHeal *prometheus.CounterVec // By artifact_type

	// Generation
	generations        *prometheus.CounterVec   // By artifact_type and status (completed/failed/timeout)
	generationDuration *prometheus.HistogramVec // By artifact_type

	// Triggering
	triggers  prometheus.Counter
	queued    prometheus.Counter
	rejected  prometheus.Counter
	cacheSize *prometheus.GaugeVec // By dir

	// Cleanup
	cleanupDeleted prometheus.Counter
	cleanupFailed  prometheus.Counter
}

// newOrchestratorMetrics creates and registers orchestrator metrics with the provided registry.
func newOrchestratorMetrics(registry *metric.MetricsRegistry) (*orchestratorMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &orchestratorMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "lookups_total",
			Help:      "Cached artifact lookups by result",
		}, []string{"artifact_type", "result"}),

		selfHeal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "self_heal_total",
			Help:      "Completed ledger records invalidated because the artifact was missing or corrupt",
		}, []string{"artifact_type"}),

		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "generations_total",
			Help:      "Artifact generations by outcome",
		}, []string{"artifact_type", "status"}),

		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "generation_duration_seconds",
			Help:      "Artifact generation wall time in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"artifact_type"}),

		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "triggers_total",
			Help:      "Generation triggers",
		}),

		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "tasks_queued_total",
			Help:      "Generation tasks accepted by the worker pool",
		}),

		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "tasks_rejected_total",
			Help:      "Generation tasks rejected by the worker pool and released",
		}),

		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "cache_bytes",
			Help:      "Bytes stored per artifact directory",
		}, []string{"dir"}),

		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "cleanup_deleted_total",
			Help:      "Artifact files deleted by cleanup",
		}),

		cleanupFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "windowcache",
			Subsystem: "orchestrator",
			Name:      "cleanup_failed_total",
			Help:      "Artifact files cleanup could not delete",
		}),
	}

	if err := registry.RegisterCounterVec("orchestrator", "lookups", m.lookups); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("orchestrator", "self_heal", m.selfHeal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("orchestrator", "generations", m.generations); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("orchestrator", "generation_duration", m.generationDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("orchestrator", "triggers", m.triggers); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("orchestrator", "tasks_queued", m.queued); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("orchestrator", "tasks_rejected", m.rejected); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("orchestrator", "cache_bytes", m.cacheSize); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("orchestrator", "cleanup_deleted", m.cleanupDeleted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("orchestrator", "cleanup_failed", m.cleanupFailed); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *orchestratorMetrics) recordLookup(t types.ArtifactType, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(string(t), result).Inc()
}

func (m *orchestratorMetrics) recordSelfHeal(t types.ArtifactType) {
	if m == nil {
		return
	}
	m.selfHeal.WithLabelValues(string(t)).Inc()
}

func (m *orchestratorMetrics) recordGeneration(t types.ArtifactType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(string(t), status).Inc()
	m.generationDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

func (m *orchestratorMetrics) recordTrigger(queued, rejected int) {
	if m == nil {
		return
	}
	m.triggers.Inc()
	m.queued.Add(float64(queued))
	m.rejected.Add(float64(rejected))
}

func (m *orchestratorMetrics) recordCleanup(deleted, failed int) {
	if m == nil {
		return
	}
	m.cleanupDeleted.Add(float64(deleted))
	m.cleanupFailed.Add(float64(failed))
}

func (m *orchestratorMetrics) setCacheBytes(dir string, bytes int64) {
	if m == nil {
		return
	}
	m.cacheSize.WithLabelValues(dir).Set(float64(bytes))
}
