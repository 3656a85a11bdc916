package common

import "time"

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvArtifactPath     = "ARTIFACT_PATH"
	EnvModelsDir        = "MODELS_DIR"
	EnvListenPort       = "LISTEN_PORT"
	EnvDataPath         = "DATA_PATH"
	EnvPanelsDir        = "PANELS_DIR"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogPretty        = "LOG_PRETTY"
	EnvFailurePolicy    = "FAILURE_POLICY"
	EnvAttrSamples      = "ATTRIBUTION_SAMPLES"
	EnvAttrTimeout      = "ATTRIBUTION_TIMEOUT"
	EnvAttrWorkers      = "ATTRIBUTION_WORKERS"
	EnvAttrSeed         = "ATTRIBUTION_SEED"
	EnvAttrExactMax     = "ATTRIBUTION_EXACT_MAX_INPUTS"
	EnvSummaryPath      = "SUMMARY_PATH"
	EnvCacheBackend     = "CACHE_BACKEND"
	EnvCacheTTL         = "CACHE_TTL"
	EnvCacheSize        = "CACHE_SIZE"
	EnvRedisAddr        = "REDIS_ADDR"
	EnvRedisPassword    = "REDIS_PASSWORD"
	EnvRedisDB          = "REDIS_DB"
	EnvRequestTimeout   = "REQUEST_TIMEOUT"
	EnvServerURL        = "STACK_SERVER_URL"
	EnvShutdownTimeout  = "SHUTDOWN_TIMEOUT"
	EnvEnableModelAdmin = "ENABLE_MODEL_ADMIN"
)

// Configuration defaults
const (
	DefaultArtifactPath    = "models/stacking_model.json"
	DefaultListenPort      = 8080
	DefaultLogLevel        = "info"
	DefaultFailurePolicy   = "" // empty keeps the artifact's own policy
	DefaultAttrSamples     = 512
	DefaultAttrTimeout     = 5 * time.Second
	DefaultAttrSeed        = 42
	DefaultAttrExactMax    = 10
	DefaultCacheBackend    = "memory"
	DefaultCacheTTL        = 10 * time.Minute
	DefaultCacheSize       = 1000
	DefaultRedisAddr       = "localhost:6379"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultServerURL       = "http://localhost:8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// Cache backends
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// HTTP header names
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderModelVersion = "X-Model-Version"
)
