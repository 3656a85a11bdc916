package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"stacking-explainer/internal/common"

	"github.com/rs/zerolog"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ArtifactPath != common.DefaultArtifactPath {
					t.Errorf("expected default artifact path, got %s", settings.ArtifactPath)
				}
				if settings.ListenPort != 8080 {
					t.Errorf("expected default port 8080, got %d", settings.ListenPort)
				}
				if settings.Attribution.Samples != 512 {
					t.Errorf("expected 512 samples, got %d", settings.Attribution.Samples)
				}
				if settings.Attribution.Timeout != 5*time.Second {
					t.Errorf("expected 5s attribution timeout, got %v", settings.Attribution.Timeout)
				}
				if settings.Attribution.Seed != 42 {
					t.Errorf("expected seed 42, got %d", settings.Attribution.Seed)
				}
				if settings.Attribution.ExactMaxInputs != 10 {
					t.Errorf("expected exact max 10, got %d", settings.Attribution.ExactMaxInputs)
				}
				if settings.Cache.Backend != common.CacheBackendMemory {
					t.Errorf("expected memory cache, got %s", settings.Cache.Backend)
				}
				if settings.FailurePolicy != "" {
					t.Errorf("expected empty failure policy, got %s", settings.FailurePolicy)
				}
			},
		},
		{
			name: "custom settings",
			envVars: map[string]string{
				"ARTIFACT_PATH":                "/models/v2.yaml",
				"LISTEN_PORT":                  "9090",
				"ATTRIBUTION_SAMPLES":          "2048",
				"ATTRIBUTION_TIMEOUT":          "2s",
				"ATTRIBUTION_WORKERS":          "4",
				"ATTRIBUTION_SEED":             "7",
				"ATTRIBUTION_EXACT_MAX_INPUTS": "12",
				"FAILURE_POLICY":               "fallback",
				"CACHE_BACKEND":                "redis",
				"REDIS_ADDR":                   "redis:6379",
				"REDIS_DB":                     "2",
				"LOG_LEVEL":                    "debug",
				"ENABLE_MODEL_ADMIN":           "true",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ArtifactPath != "/models/v2.yaml" {
					t.Errorf("expected artifact path override, got %s", settings.ArtifactPath)
				}
				if settings.ListenPort != 9090 {
					t.Errorf("expected port 9090, got %d", settings.ListenPort)
				}
				if settings.Attribution.Samples != 2048 || settings.Attribution.Workers != 4 || settings.Attribution.Seed != 7 {
					t.Errorf("unexpected attribution settings %+v", settings.Attribution)
				}
				if settings.Attribution.ExactMaxInputs != 12 {
					t.Errorf("expected exact max 12, got %d", settings.Attribution.ExactMaxInputs)
				}
				if settings.Cache.Backend != common.CacheBackendRedis || settings.Cache.RedisAddr != "redis:6379" || settings.Cache.RedisDB != 2 {
					t.Errorf("unexpected cache settings %+v", settings.Cache)
				}
				if settings.ZerologLevel() != zerolog.DebugLevel {
					t.Errorf("expected debug level, got %v", settings.ZerologLevel())
				}
				if !settings.EnableModelAdmin {
					t.Error("expected model admin to be enabled")
				}
			},
		},
		{
			name:    "invalid failure policy",
			envVars: map[string]string{"FAILURE_POLICY": "retry"},
			wantErr: true,
		},
		{
			name:    "invalid cache backend",
			envVars: map[string]string{"CACHE_BACKEND": "memcached"},
			wantErr: true,
		},
		{
			name:    "attribution timeout longer than request timeout",
			envVars: map[string]string{"ATTRIBUTION_TIMEOUT": "1m", "REQUEST_TIMEOUT": "10s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear all environment variables first
			clearTestEnv(t)

			// Set test environment variables
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "valid YAML config",
			yamlContent: `
model:
  artifactPath: "models/stacking_model.yaml"
  modelsDir: "models"
  failurePolicy: "fallback"

server:
  listenPort: 9000
  panelsDir: "panels"
  requestTimeout: "20s"
  enableModelAdmin: true

attribution:
  samples: 1024
  timeout: "3s"
  workers: 2
  seed: 99
  exactMaxInputs: 8
  summaryPath: "data/summary.json"

cache:
  backend: "memory"
  ttl: "1m"
  size: 50

storage:
  dataPath: "data/audit"

logging:
  level: "warn"
  pretty: true
`,
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ArtifactPath != "models/stacking_model.yaml" {
					t.Errorf("expected YAML artifact path, got %s", settings.ArtifactPath)
				}
				if settings.FailurePolicy != "fallback" {
					t.Errorf("expected fallback policy, got %s", settings.FailurePolicy)
				}
				if settings.ListenPort != 9000 {
					t.Errorf("expected port 9000, got %d", settings.ListenPort)
				}
				if settings.RequestTimeout != 20*time.Second {
					t.Errorf("expected 20s request timeout, got %v", settings.RequestTimeout)
				}
				if settings.Attribution.Samples != 1024 || settings.Attribution.Timeout != 3*time.Second {
					t.Errorf("unexpected attribution settings %+v", settings.Attribution)
				}
				if settings.Attribution.Seed != 99 || settings.Attribution.ExactMaxInputs != 8 {
					t.Errorf("unexpected attribution settings %+v", settings.Attribution)
				}
				if settings.Cache.TTL != time.Minute || settings.Cache.Size != 50 {
					t.Errorf("unexpected cache settings %+v", settings.Cache)
				}
				if settings.DataPath != "data/audit" {
					t.Errorf("expected data path, got %s", settings.DataPath)
				}
				if !settings.LogPretty || settings.ZerologLevel() != zerolog.WarnLevel {
					t.Errorf("unexpected logging settings %s pretty=%v", settings.LogLevel, settings.LogPretty)
				}
			},
		},
		{
			name: "env overrides YAML",
			yamlContent: `
attribution:
  samples: 1024
cache:
  backend: "none"
`,
			envOverrides: map[string]string{
				"ATTRIBUTION_SAMPLES": "64",
				"CACHE_BACKEND":       "memory",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.Attribution.Samples != 64 {
					t.Errorf("expected env samples 64, got %d", settings.Attribution.Samples)
				}
				if settings.Cache.Backend != common.CacheBackendMemory {
					t.Errorf("expected env cache backend, got %s", settings.Cache.Backend)
				}
				if settings.ArtifactPath != common.DefaultArtifactPath {
					t.Errorf("expected default artifact path, got %s", settings.ArtifactPath)
				}
			},
		},
		{
			name:        "invalid YAML",
			yamlContent: "model: [unterminated",
			wantErr:     true,
		},
		{
			name: "out of range samples",
			yamlContent: `
attribution:
  samples: 1
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o600); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			settings, err := loadFromYAML(configPath)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoad_UsesConfigFile(t *testing.T) {
	clearTestEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  listenPort: 9100\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(common.EnvConfigFile, configPath)

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.ListenPort != 9100 {
		t.Errorf("expected port 9100 from config file, got %d", settings.ListenPort)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearTestEnv(t)
	t.Setenv(common.EnvConfigFile, filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func clearTestEnv(t *testing.T) {
	envVars := []string{
		common.EnvConfigFile, common.EnvArtifactPath, common.EnvModelsDir, common.EnvListenPort,
		common.EnvDataPath, common.EnvPanelsDir, common.EnvLogLevel, common.EnvLogPretty,
		common.EnvFailurePolicy, common.EnvAttrSamples, common.EnvAttrTimeout, common.EnvAttrWorkers,
		common.EnvAttrSeed, common.EnvAttrExactMax, common.EnvSummaryPath, common.EnvCacheBackend,
		common.EnvCacheTTL, common.EnvCacheSize, common.EnvRedisAddr, common.EnvRedisPassword,
		common.EnvRedisDB, common.EnvRequestTimeout, common.EnvServerURL, common.EnvShutdownTimeout,
		common.EnvEnableModelAdmin,
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}

func TestSettings_Budget(t *testing.T) {
	s := Settings{Attribution: AttributionSettings{Samples: 128, Timeout: 2 * time.Second, Seed: 9}}
	b := s.Budget()

	if b.Samples != 128 || b.Timeout != 2*time.Second || b.Seed != 9 {
		t.Errorf("explicit settings not carried over: %+v", b)
	}
	if b.ExactMaxInputs != common.DefaultAttrExactMax {
		t.Errorf("expected default exact max %d, got %d", common.DefaultAttrExactMax, b.ExactMaxInputs)
	}
	if b.Workers < 1 {
		t.Errorf("expected workers to default to GOMAXPROCS, got %d", b.Workers)
	}
}
