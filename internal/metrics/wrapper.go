package metrics

import (
	"strconv"
	"sync"
	"time"
)

// MetricsWrapper adapts Metrics to the small metrics interfaces declared by the ml,
// attribution, cache and api packages.
type MetricsWrapper struct {
	m *Metrics

	mu          sync.Mutex
	infoVersion string
	infoCount   string
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) FallbackUseInc(learner string) {
	w.m.FallbackUse.WithLabelValues(learner).Inc()
}

func (w *MetricsWrapper) ModelReloadInc(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	w.m.ModelReloads.WithLabelValues(result).Inc()
}

// ModelInfoSet moves the info gauge to the new version; the previous series is removed.
func (w *MetricsWrapper) ModelInfoSet(version string, learners int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.infoVersion != "" || w.infoCount != "" {
		w.m.ModelInfo.DeleteLabelValues(w.infoVersion, w.infoCount)
	}
	w.infoVersion, w.infoCount = version, strconv.Itoa(learners)
	w.m.ModelInfo.WithLabelValues(w.infoVersion, w.infoCount).Set(1)
}

func (w *MetricsWrapper) AttributionLatencyObserve(level string, seconds float64) {
	w.m.AttributionLatency.WithLabelValues(level).Observe(seconds)
}

func (w *MetricsWrapper) AttributionSamplesObserve(level string, samples int) {
	w.m.AttributionSamples.WithLabelValues(level).Observe(float64(samples))
}

func (w *MetricsWrapper) AttributionTruncatedInc(level string) {
	w.m.AttributionTruncated.WithLabelValues(level).Inc()
}

func (w *MetricsWrapper) CacheHitInc(level string) {
	w.m.CacheHits.WithLabelValues(level).Inc()
}

func (w *MetricsWrapper) CacheMissInc(level string) {
	w.m.CacheMisses.WithLabelValues(level).Inc()
}

func (w *MetricsWrapper) PredictionObserve(final float64, elapsed time.Duration) {
	w.m.Predictions.Inc()
	w.m.FinalScores.Observe(final)
	w.m.PredictionLatency.Observe(elapsed.Seconds())
}

func (w *MetricsWrapper) PredictionFailureInc(reason string) {
	w.m.PredictionFailures.WithLabelValues(reason).Inc()
}

func (w *MetricsWrapper) ValidationErrorInc(feature string) {
	w.m.ValidationErrors.WithLabelValues(feature).Inc()
}

func (w *MetricsWrapper) HTTPRequestObserve(route string, code int, elapsed time.Duration) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	w.m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ErrorRate exposes Metrics.GetErrorRate to the health endpoint.
func (w *MetricsWrapper) ErrorRate() float64 {
	return w.m.GetErrorRate()
}
