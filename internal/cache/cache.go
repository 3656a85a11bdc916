// Package cache stores serialized attribution results. Attribution is deterministic for a
// given model version, feature vector, level and budget (seed included), so a cached result
// is exactly what a fresh computation would return.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/cfg"
	"stacking-explainer/internal/common"
	"stacking-explainer/internal/features"
)

// Cache is a byte-oriented result store.
type Cache interface {
	Name() string
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// New builds the backend selected by settings.
func New(ctx context.Context, settings cfg.CacheSettings) (Cache, error) {
	switch settings.Backend {
	case common.CacheBackendNone, "":
		return Nop{}, nil
	case common.CacheBackendMemory:
		return NewMemory(settings.Size, settings.TTL), nil
	case common.CacheBackendRedis:
		return NewRedis(ctx, RedisOptions{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
			TTL:      settings.TTL,
		})
	}
	return nil, fmt.Errorf("unknown cache backend %q", settings.Backend)
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Name() string                                      { return common.CacheBackendNone }
func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error         { return nil }
func (Nop) Close() error                                      { return nil }

// Key derives the cache key of one attribution request. model must identify the exact
// artifact (its digest, not its declared version) so a reloaded model never sees results
// of its predecessor. The budget must already be resolved against the engine defaults;
// Timeout and Workers are left out because they never change a completed result.
func Key(model string, v features.Vector, scope string, b attribution.Budget) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	h.Write([]byte{0})

	var buf [8]byte
	for _, x := range v.Values() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		h.Write(buf[:])
	}
	for _, n := range []uint64{uint64(b.Samples), b.Seed, uint64(b.ExactMaxInputs)} {
		binary.LittleEndian.PutUint64(buf[:], n)
		h.Write(buf[:])
	}
	return "attr:" + hex.EncodeToString(h.Sum(nil))
}
