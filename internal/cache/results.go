package cache

import (
	"context"
	"encoding/json"

	"stacking-explainer/internal/attribution"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines the metrics the result cache reports.
type MetricsInterface interface {
	CacheHitInc(level string)
	CacheMissInc(level string)
}

type noopMetrics struct{}

func (noopMetrics) CacheHitInc(string)  {}
func (noopMetrics) CacheMissInc(string) {}

// ScopeExplain is the cache scope of full three-level explanations.
const ScopeExplain = "explain"

// Results stores attribution results in a Cache. Backend errors never fail a request:
// they are logged and treated as misses.
type Results struct {
	backend Cache
	metrics MetricsInterface
}

// NewResults wraps backend. A nil backend caches nothing.
func NewResults(backend Cache, metrics MetricsInterface) *Results {
	if backend == nil {
		backend = Nop{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Results{backend: backend, metrics: metrics}
}

// Backend returns the underlying cache.
func (r *Results) Backend() Cache { return r.backend }

// Attribution returns a cached level result.
func (r *Results) Attribution(ctx context.Context, key string, level attribution.Level) (*attribution.Attribution, bool) {
	var a attribution.Attribution
	if !r.get(ctx, key, level.String(), &a) {
		return nil, false
	}
	return &a, true
}

// StoreAttribution caches a level result. Truncated results are not cached since a later
// request with more time could complete them.
func (r *Results) StoreAttribution(ctx context.Context, key string, a *attribution.Attribution) {
	if a == nil || a.Truncated {
		return
	}
	r.set(ctx, key, a)
}

// Explanation returns a cached three-level explanation.
func (r *Results) Explanation(ctx context.Context, key string) (*attribution.Explanation, bool) {
	var e attribution.Explanation
	if !r.get(ctx, key, ScopeExplain, &e) {
		return nil, false
	}
	return &e, true
}

// StoreExplanation caches a complete explanation.
func (r *Results) StoreExplanation(ctx context.Context, key string, e *attribution.Explanation) {
	if e == nil || e.Truncated {
		return
	}
	r.set(ctx, key, e)
}

func (r *Results) get(ctx context.Context, key, scope string, out any) bool {
	data, ok, err := r.backend.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("backend", r.backend.Name()).Msg("cache read failed")
	}
	if !ok || err != nil {
		r.metrics.CacheMissInc(scope)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		r.metrics.CacheMissInc(scope)
		return false
	}
	r.metrics.CacheHitInc(scope)
	return true
}

func (r *Results) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("cache encode failed")
		return
	}
	if err := r.backend.Set(ctx, key, data); err != nil {
		log.Warn().Err(err).Str("backend", r.backend.Name()).Msg("cache write failed")
	}
}
