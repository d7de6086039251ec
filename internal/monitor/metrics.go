package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the query pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	PipelineErrors    *prometheus.CounterVec
	ActiveRequests    prometheus.Gauge
	TranslationsTotal *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	ValidatorVerdicts *prometheus.CounterVec
	SearchDuration    prometheus.Histogram
	SearchResultCount prometheus.Histogram
	RequestsInFlight  prometheus.Gauge
	HistorySize       prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splpilot",
				Name:      "requests_total",
				Help:      "Total pipeline requests by mode and status.",
			},
			[]string{"mode", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "splpilot",
				Name:      "request_duration_seconds",
				Help:      "End-to-end pipeline duration in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),

		PipelineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splpilot",
				Name:      "pipeline_errors_total",
				Help:      "Total pipeline failures by error kind.",
			},
			[]string{"kind"},
		),

		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "splpilot",
				Name:      "active_requests",
				Help:      "Number of pipeline requests currently being processed.",
			},
		),

		TranslationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splpilot",
				Name:      "translations_total",
				Help:      "Total query translations by confidence bucket.",
			},
			[]string{"confidence"},
		),

		GenerationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "splpilot",
				Name:      "generation_latency_seconds",
				Help:      "Latency of generation-service calls by operation.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		ValidatorVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splpilot",
				Name:      "validator_verdicts_total",
				Help:      "Safety validator verdicts by outcome.",
			},
			[]string{"verdict"},
		),

		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "splpilot",
				Name:      "search_duration_seconds",
				Help:      "Backend search job duration in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		SearchResultCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "splpilot",
				Name:      "search_result_count",
				Help:      "Number of records returned per search.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "splpilot",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		HistorySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "splpilot",
				Name:      "history_size",
				Help:      "Number of outcomes currently held in the history store.",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.PipelineErrors,
		m.ActiveRequests,
		m.TranslationsTotal,
		m.GenerationLatency,
		m.ValidatorVerdicts,
		m.SearchDuration,
		m.SearchResultCount,
		m.RequestsInFlight,
		m.HistorySize,
	)

	return m
}

// RecordRequest records metrics for a completed pipeline request.
func (m *Metrics) RecordRequest(mode, status string, durationSec float64) {
	m.RequestsTotal.WithLabelValues(mode, status).Inc()
	m.RequestDuration.WithLabelValues(mode).Observe(durationSec)
}

// RecordTranslation records a completed translation with its confidence bucket.
func (m *Metrics) RecordTranslation(confidence string, latencySec float64) {
	m.TranslationsTotal.WithLabelValues(confidence).Inc()
	m.GenerationLatency.WithLabelValues("translate").Observe(latencySec)
}

// RecordGeneration records a generation-service call latency by operation.
func (m *Metrics) RecordGeneration(operation string, latencySec float64) {
	m.GenerationLatency.WithLabelValues(operation).Observe(latencySec)
}

// RecordVerdict records a validator decision.
func (m *Metrics) RecordVerdict(allowed bool) {
	v := "allowed"
	if !allowed {
		v = "rejected"
	}
	m.ValidatorVerdicts.WithLabelValues(v).Inc()
}

// RecordError records a pipeline failure by kind.
func (m *Metrics) RecordError(kind string) {
	m.PipelineErrors.WithLabelValues(kind).Inc()
}

// RecordSearch records backend search statistics.
func (m *Metrics) RecordSearch(durationSec float64, resultCount int) {
	m.SearchDuration.Observe(durationSec)
	m.SearchResultCount.Observe(float64(resultCount))
}
