package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds the Prometheus metrics for the analyzer. Each server
// owns its registry, so tests can build as many as they need.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Pipeline step timing, labeled by step and outcome.
	StepDuration *prometheus.HistogramVec

	// Session outcomes by terminal status.
	SessionsProcessed *prometheus.CounterVec

	// Analytics cache effectiveness.
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Webhook rejections by validation gate.
	WebhookRejections *prometheus.CounterVec

	// Worker queue backlog.
	QueueDepth prometheus.Gauge
}

// NewMetricsRegistry builds and registers the metric set.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emg_step_duration_seconds",
				Help:    "Duration of each processing step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"step", "result"},
		),

		SessionsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emg_sessions_processed_total",
				Help: "Sessions reaching a terminal status",
			},
			[]string{"status"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "emg_cache_hit_ratio",
				Help: "Analytics cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emg_cache_hits_total",
				Help: "Analytics cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emg_cache_misses_total",
				Help: "Analytics cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		WebhookRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emg_webhook_rejections_total",
				Help: "Webhook payloads rejected by validation gate",
			},
			[]string{"reason"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "emg_worker_queue_depth",
				Help: "Queued processing requests not yet started",
			},
		),
	}

	m.registry.MustRegister(
		m.StepDuration,
		m.SessionsProcessed,
		m.CacheHitRatio,
		m.CacheHits,
		m.CacheMisses,
		m.WebhookRejections,
		m.QueueDepth,
	)
	return m
}

// StepTimer tracks one pipeline step.
type StepTimer struct {
	metrics *MetricsRegistry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a processing step.
func (m *MetricsRegistry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop records the step duration under the given result label.
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	log.Debug().Str("step", st.step).Str("result", result).Dur("duration", duration).Msg("step completed")
}

// RecordSessionOutcome counts a terminal transition.
func (m *MetricsRegistry) RecordSessionOutcome(status string) {
	m.SessionsProcessed.WithLabelValues(status).Inc()
}

// RecordCacheHit counts a hit and refreshes the ratio gauge.
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss counts a miss and refreshes the ratio gauge.
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordWebhookRejection counts a payload rejected before session creation.
func (m *MetricsRegistry) RecordWebhookRejection(reason string) {
	m.WebhookRejections.WithLabelValues(reason).Inc()
}

// SetQueueDepth publishes the current worker backlog.
func (m *MetricsRegistry) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// updateCacheHitRatio reads the counters back through the client model and
// recomputes the gauge.
func (m *MetricsRegistry) updateCacheHitRatio() {
	var totalHits, totalMisses float64
	var metric io_prometheus_client.Metric

	for _, cacheType := range []string{"analytics"} {
		if hit, err := m.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := hit.Write(&metric); err == nil {
				totalHits += metric.GetCounter().GetValue()
			}
		}
		if miss, err := m.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := miss.Write(&metric); err == nil {
				totalMisses += metric.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
