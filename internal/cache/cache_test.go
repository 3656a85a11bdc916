package cache

import (
	"context"
	"testing"
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/cfg"
	"stacking-explainer/internal/common"
	"stacking-explainer/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMetrics struct {
	hits   map[string]int
	misses map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{hits: map[string]int{}, misses: map[string]int{}}
}

func (m *mockMetrics) CacheHitInc(level string)  { m.hits[level]++ }
func (m *mockMetrics) CacheMissInc(level string) { m.misses[level]++ }

func testVector(t *testing.T, a, b float64) features.Vector {
	t.Helper()
	schema, err := features.NewSchema([]features.Spec{
		{Name: "a", Kind: features.KindContinuous, Min: 0, Max: 10},
		{Name: "b", Kind: features.KindContinuous, Min: 0, Max: 10},
	})
	require.NoError(t, err)
	v, err := schema.Build(map[string]float64{"a": a, "b": b})
	require.NoError(t, err)
	return v
}

func TestMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Minute)

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v")))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, m.Set(ctx, "k", []byte("v2")))
	got, _, _ = m.Get(ctx, "k")
	assert.Equal(t, []byte("v2"), got)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v")))
	now = now.Add(59 * time.Second)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, 0)

	require.NoError(t, m.Set(ctx, "a", []byte("1")))
	require.NoError(t, m.Set(ctx, "b", []byte("2")))
	require.NoError(t, m.Set(ctx, "c", []byte("3")))

	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted")
	for _, k := range []string{"b", "c"} {
		_, ok, _ := m.Get(ctx, k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())
}

func TestKey(t *testing.T) {
	budget := attribution.Budget{Samples: 64, Seed: 7, ExactMaxInputs: 10, Workers: 2, Timeout: time.Second}
	base := Key("v1", testVector(t, 1, 2), "pipeline", budget)

	assert.Equal(t, base, Key("v1", testVector(t, 1, 2), "pipeline", budget))

	other := budget
	other.Workers, other.Timeout = 8, time.Minute
	assert.Equal(t, base, Key("v1", testVector(t, 1, 2), "pipeline", other), "workers and timeout do not change results")

	seeded := budget
	seeded.Seed = 8
	for name, k := range map[string]string{
		"model":  Key("v2", testVector(t, 1, 2), "pipeline", budget),
		"vector": Key("v1", testVector(t, 2, 1), "pipeline", budget),
		"scope":  Key("v1", testVector(t, 1, 2), "meta", budget),
		"seed":   Key("v1", testVector(t, 1, 2), "pipeline", seeded),
	} {
		assert.NotEqual(t, base, k, name)
	}
}

func TestResults_RoundTrip(t *testing.T) {
	ctx := context.Background()
	metrics := newMockMetrics()
	r := NewResults(NewMemory(10, time.Minute), metrics)

	_, ok := r.Attribution(ctx, "k", attribution.LevelMeta)
	assert.False(t, ok)

	want := &attribution.Attribution{
		Level:        attribution.LevelMeta,
		ModelVersion: "v1",
		Contributions: []attribution.Contribution{{
			Model:    "meta",
			Names:    []string{"rf", "xgb"},
			Values:   []float64{0.1, -0.2},
			Baseline: 0.5,
			Output:   0.4,
			Method:   attribution.MethodExact,
		}},
	}
	r.StoreAttribution(ctx, "k", want)

	got, ok := r.Attribution(ctx, "k", attribution.LevelMeta)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, metrics.hits["meta"])
	assert.Equal(t, 1, metrics.misses["meta"])
}

func TestResults_SkipsTruncated(t *testing.T) {
	ctx := context.Background()
	r := NewResults(NewMemory(10, time.Minute), nil)

	r.StoreExplanation(ctx, "k", &attribution.Explanation{ModelVersion: "v1", Truncated: true})
	_, ok := r.Explanation(ctx, "k")
	assert.False(t, ok)

	r.StoreExplanation(ctx, "k", &attribution.Explanation{ModelVersion: "v1"})
	got, ok := r.Explanation(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v1", got.ModelVersion)
}

func TestResults_UndecodableEntry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory(10, 0)
	require.NoError(t, backend.Set(ctx, "k", []byte("{not json")))
	metrics := newMockMetrics()

	_, ok := NewResults(backend, metrics).Explanation(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 1, metrics.misses[ScopeExplain])
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, cfg.CacheSettings{Backend: common.CacheBackendNone})
	require.NoError(t, err)
	assert.Equal(t, common.CacheBackendNone, c.Name())

	c, err = New(ctx, cfg.CacheSettings{Backend: common.CacheBackendMemory, Size: 5, TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, common.CacheBackendMemory, c.Name())

	_, err = New(ctx, cfg.CacheSettings{Backend: "memcached"})
	assert.Error(t, err)
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, RedisOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
