// Package metrics provides Prometheus metrics collection for the stacking service.
// It defines the inference, attribution, cache and model lifecycle metrics exposed via
// the Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Inference metrics
	Predictions        prometheus.Counter     // Total number of successful predictions
	PredictionFailures *prometheus.CounterVec // Failed predictions by reason
	ValidationErrors   *prometheus.CounterVec // Rejected inputs by feature
	PredictionLatency  prometheus.Histogram   // End-to-end prediction latency
	FinalScores        prometheus.Histogram   // Distribution of final stack scores
	FallbackUse        *prometheus.CounterVec // Fallback substitutions by base learner

	// Attribution metrics
	AttributionLatency   *prometheus.HistogramVec // Attribution latency by level
	AttributionSamples   *prometheus.HistogramVec // Permutations or coalitions evaluated by level
	AttributionTruncated *prometheus.CounterVec   // Budget-truncated attributions by level

	// Cache metrics
	CacheHits   *prometheus.CounterVec // Attribution cache hits by level
	CacheMisses *prometheus.CounterVec // Attribution cache misses by level

	// Model lifecycle metrics
	ModelReloads *prometheus.CounterVec // Model activations by result
	ModelInfo    *prometheus.GaugeVec   // Always 1, labelled with the active version

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route and status code
	HTTPDuration *prometheus.HistogramVec // Request duration by route

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "stack_predictions_total",
			Help: "Total number of successful stack predictions",
		}),
		PredictionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_prediction_failures_total",
			Help: "Total number of failed predictions by reason",
		}, []string{"reason"}),
		ValidationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_validation_errors_total",
			Help: "Total number of rejected feature values by feature",
		}, []string{"feature"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stack_prediction_latency_seconds",
			Help:    "Stack prediction latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		FinalScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stack_final_scores",
			Help:    "Distribution of final stack scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		FallbackUse: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_fallback_use_total",
			Help: "Total number of fallback score substitutions by base learner",
		}, []string{"learner"}),
		AttributionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stack_attribution_latency_seconds",
			Help:    "Attribution latency in seconds by level",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"level"}),
		AttributionSamples: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stack_attribution_samples",
			Help:    "Permutations or coalitions evaluated per attribution by level",
			Buckets: prometheus.ExponentialBuckets(2, 4, 10),
		}, []string{"level"}),
		AttributionTruncated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_attribution_truncated_total",
			Help: "Total number of attributions truncated by their time budget",
		}, []string{"level"}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_cache_hits_total",
			Help: "Total number of attribution cache hits by level",
		}, []string{"level"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_cache_misses_total",
			Help: "Total number of attribution cache misses by level",
		}, []string{"level"}),
		ModelReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_model_reloads_total",
			Help: "Total number of model activations by result",
		}, []string{"result"}),
		ModelInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_model_info",
			Help: "Active model version and base learner count",
		}, []string{"version", "learners"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stack_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Gatherer returns the registry the metrics were registered with, falling back to the
// default gatherer.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return m.gatherer
}

// GetErrorRate returns failed predictions over all prediction attempts, or 0 if no
// attempts have been recorded or the registry cannot be gathered.
func (m *Metrics) GetErrorRate() float64 {
	if m.gatherer == nil {
		return 0
	}
	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	var ok, failed float64
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "stack_predictions_total":
			for _, metric := range mf.GetMetric() {
				ok += metric.GetCounter().GetValue()
			}
		case "stack_prediction_failures_total":
			for _, metric := range mf.GetMetric() {
				failed += metric.GetCounter().GetValue()
			}
		}
	}

	if ok+failed == 0 {
		return 0
	}
	return failed / (ok + failed)
}
