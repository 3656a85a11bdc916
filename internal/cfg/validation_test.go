package cfg

import (
	"strings"
	"testing"
	"time"

	"stacking-explainer/internal/common"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		ArtifactPath: "models/stacking_model.json",
		ListenPort:   8080,
		LogLevel:     "info",
		Attribution: AttributionSettings{
			Samples:        512,
			Timeout:        5 * time.Second,
			Seed:           42,
			ExactMaxInputs: 10,
		},
		Cache: CacheSettings{
			Backend: common.CacheBackendMemory,
			TTL:     10 * time.Minute,
			Size:    1000,
		},
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ServerURL:       "http://localhost:8080",
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	err := validateSettings(settings)
	if err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Ranges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"no model source", func(s *Settings) { s.ArtifactPath = "" }, "artifact path or a models directory"},
		{"models dir only", func(s *Settings) { s.ArtifactPath, s.ModelsDir = "", "models" }, ""},
		{"policy case-insensitive", func(s *Settings) { s.FailurePolicy = "Fallback" }, ""},
		{"bad policy", func(s *Settings) { s.FailurePolicy = "ignore" }, "failure policy"},
		{"privileged port", func(s *Settings) { s.ListenPort = 80 }, "listen port"},
		{"port too high", func(s *Settings) { s.ListenPort = 70000 }, "listen port"},
		{"request timeout too short", func(s *Settings) { s.RequestTimeout = 100 * time.Millisecond }, "request timeout"},
		{"shutdown timeout too long", func(s *Settings) { s.ShutdownTimeout = time.Hour }, "shutdown timeout"},
		{"bad log level", func(s *Settings) { s.LogLevel = "verbose" }, "log level"},
		{"empty server url", func(s *Settings) { s.ServerURL = "" }, "server URL"},
		{"one sample", func(s *Settings) { s.Attribution.Samples = 1 }, "attribution samples"},
		{"tiny timeout", func(s *Settings) { s.Attribution.Timeout = time.Millisecond }, "attribution timeout"},
		{"negative workers", func(s *Settings) { s.Attribution.Workers = -1 }, "attribution workers"},
		{"exact max zero", func(s *Settings) { s.Attribution.ExactMaxInputs = 0 }, "exact max inputs"},
		{"exact max too large", func(s *Settings) { s.Attribution.ExactMaxInputs = 21 }, "exact max inputs"},
		{"cache none ignores ttl", func(s *Settings) { s.Cache = CacheSettings{Backend: common.CacheBackendNone} }, ""},
		{"zero ttl", func(s *Settings) { s.Cache.TTL = 0 }, "cache TTL"},
		{"zero size", func(s *Settings) { s.Cache.Size = 0 }, "cache size"},
		{"redis without addr", func(s *Settings) { s.Cache.Backend, s.Cache.RedisAddr = common.CacheBackendRedis, "" }, "redis address"},
		{"redis db out of range", func(s *Settings) {
			s.Cache.Backend, s.Cache.RedisAddr, s.Cache.RedisDB = common.CacheBackendRedis, "localhost:6379", 16
		}, "redis db"},
		{"unknown backend", func(s *Settings) { s.Cache.Backend = "memcached" }, "cache backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got none", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
