package engine

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Insight stage labels for the insights counter.
const (
	stageGenerated    = "generated"
	stageDeduplicated = "deduplicated"
	stageRejected     = "rejected"
	stageStored       = "stored"
)

// Metrics holds the orchestrator's Prometheus collectors on a private registry
// plus in-process counters for GetHealth.
type Metrics struct {
	registry *prometheus.Registry

	memoriesProcessed  prometheus.Counter
	memoriesFailed     prometheus.Counter
	insights           *prometheus.CounterVec
	processorErrors    *prometheus.CounterVec
	processingDuration prometheus.Histogram
	queueDepth         prometheus.Gauge

	processed  atomic.Int64
	failed     atomic.Int64
	generated  atomic.Int64
	stored     atomic.Int64
	rejected   atomic.Int64
	totalNanos atomic.Int64
	timedRuns  atomic.Int64
}

// MetricsSnapshot is the in-process view of the counters.
type MetricsSnapshot struct {
	Processed           int64   `json:"processed"`
	Errors              int64   `json:"errors"`
	InsightsGenerated   int64   `json:"insights_generated"`
	InsightsStored      int64   `json:"insights_stored"`
	InsightsRejected    int64   `json:"insights_rejected"`
	AverageProcessingMs float64 `json:"average_processing_ms"`
}

// NewMetrics creates a collector set under namespace (default "memento_insights").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "memento_insights"
	}
	registry := prometheus.NewRegistry()

	memoriesProcessed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_processed_total",
			Help:      "Total number of memories processed successfully",
		},
	)

	memoriesFailed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_failed_total",
			Help:      "Total number of memories whose processing failed",
		},
	)

	insights := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_total",
			Help:      "Insights by pipeline stage",
		},
		[]string{"stage"},
	)

	processorErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_errors_total",
			Help:      "Processor failures by processor",
		},
		[]string{"processor"},
	)

	processingDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_processing_duration_seconds",
			Help:      "Time to run the full pipeline for one memory",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending and processing tasks in the processing queue",
		},
	)

	registry.MustRegister(
		memoriesProcessed,
		memoriesFailed,
		insights,
		processorErrors,
		processingDuration,
		queueDepth,
	)

	return &Metrics{
		registry:           registry,
		memoriesProcessed:  memoriesProcessed,
		memoriesFailed:     memoriesFailed,
		insights:           insights,
		processorErrors:    processorErrors,
		processingDuration: processingDuration,
		queueDepth:         queueDepth,
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordMemory(d time.Duration, err error) {
	m.processingDuration.Observe(d.Seconds())
	m.totalNanos.Add(int64(d))
	m.timedRuns.Add(1)
	if err != nil {
		m.memoriesFailed.Inc()
		m.failed.Add(1)
		return
	}
	m.memoriesProcessed.Inc()
	m.processed.Add(1)
}

func (m *Metrics) recordInsights(stage string, n int) {
	if n <= 0 {
		return
	}
	m.insights.WithLabelValues(stage).Add(float64(n))
	switch stage {
	case stageGenerated:
		m.generated.Add(int64(n))
	case stageStored:
		m.stored.Add(int64(n))
	case stageRejected:
		m.rejected.Add(int64(n))
	}
}

func (m *Metrics) recordProcessorError(name string) {
	m.processorErrors.WithLabelValues(name).Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// Snapshot returns the in-process counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Processed:         m.processed.Load(),
		Errors:            m.failed.Load(),
		InsightsGenerated: m.generated.Load(),
		InsightsStored:    m.stored.Load(),
		InsightsRejected:  m.rejected.Load(),
	}
	if n := m.timedRuns.Load(); n > 0 {
		s.AverageProcessingMs = float64(m.totalNanos.Load()) / float64(n) / float64(time.Millisecond)
	}
	return s
}
