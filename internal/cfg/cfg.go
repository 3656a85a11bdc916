package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ArtifactPath     string
	ModelsDir        string
	FailurePolicy    string
	ListenPort       int
	PanelsDir        string
	DataPath         string
	LogLevel         string
	LogPretty        bool
	Attribution      AttributionSettings
	Cache            CacheSettings
	RequestTimeout   time.Duration
	ShutdownTimeout  time.Duration
	EnableModelAdmin bool
	ServerURL        string
}

type AttributionSettings struct {
	Samples        int
	Timeout        time.Duration
	Workers        int // 0 means GOMAXPROCS
	Seed           uint64
	ExactMaxInputs int
	SummaryPath    string
}

type CacheSettings struct {
	Backend       string
	TTL           time.Duration
	Size          int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type ConfigFile struct {
	Model struct {
		ArtifactPath  string `yaml:"artifactPath"`
		ModelsDir     string `yaml:"modelsDir"`
		FailurePolicy string `yaml:"failurePolicy"`
	} `yaml:"model"`

	Server struct {
		ListenPort       int    `yaml:"listenPort"`
		PanelsDir        string `yaml:"panelsDir"`
		RequestTimeout   string `yaml:"requestTimeout"`
		ShutdownTimeout  string `yaml:"shutdownTimeout"`
		EnableModelAdmin bool   `yaml:"enableModelAdmin"`
	} `yaml:"server"`

	Attribution struct {
		Samples        int    `yaml:"samples"`
		Timeout        string `yaml:"timeout"`
		Workers        int    `yaml:"workers"`
		Seed           uint64 `yaml:"seed"`
		ExactMaxInputs int    `yaml:"exactMaxInputs"`
		SummaryPath    string `yaml:"summaryPath"`
	} `yaml:"attribution"`

	Cache struct {
		Backend string `yaml:"backend"`
		TTL     string `yaml:"ttl"`
		Size    int    `yaml:"size"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Storage struct {
		DataPath string `yaml:"dataPath"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	Client struct {
		ServerURL string `yaml:"serverURL"`
	} `yaml:"client"`
}

// Load reads an optional .env file, then the YAML file named by CONFIG_FILE or, without
// one, the environment alone. Environment variables override YAML values.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		ArtifactPath:  getEnvOrDefault(common.EnvArtifactPath, orDefault(config.Model.ArtifactPath, common.DefaultArtifactPath)),
		ModelsDir:     getEnvOrDefault(common.EnvModelsDir, config.Model.ModelsDir),
		FailurePolicy: getEnvOrDefault(common.EnvFailurePolicy, config.Model.FailurePolicy),
		ListenPort:    getIntFromEnvOrConfig(common.EnvListenPort, config.Server.ListenPort, common.DefaultListenPort),
		PanelsDir:     getEnvOrDefault(common.EnvPanelsDir, config.Server.PanelsDir),
		DataPath:      getEnvOrDefault(common.EnvDataPath, config.Storage.DataPath),
		LogLevel:      getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel)),
		LogPretty:     getBoolFromEnvOrConfig(common.EnvLogPretty, config.Logging.Pretty),
		Attribution: AttributionSettings{
			Samples:        getIntFromEnvOrConfig(common.EnvAttrSamples, config.Attribution.Samples, common.DefaultAttrSamples),
			Timeout:        getDurationFromEnvOrConfig(common.EnvAttrTimeout, config.Attribution.Timeout, common.DefaultAttrTimeout),
			Workers:        getIntFromEnvOrConfig(common.EnvAttrWorkers, config.Attribution.Workers, 0),
			Seed:           getUintFromEnvOrConfig(common.EnvAttrSeed, config.Attribution.Seed, common.DefaultAttrSeed),
			ExactMaxInputs: getIntFromEnvOrConfig(common.EnvAttrExactMax, config.Attribution.ExactMaxInputs, common.DefaultAttrExactMax),
			SummaryPath:    getEnvOrDefault(common.EnvSummaryPath, config.Attribution.SummaryPath),
		},
		Cache: CacheSettings{
			Backend:       getEnvOrDefault(common.EnvCacheBackend, orDefault(config.Cache.Backend, common.DefaultCacheBackend)),
			TTL:           getDurationFromEnvOrConfig(common.EnvCacheTTL, config.Cache.TTL, common.DefaultCacheTTL),
			Size:          getIntFromEnvOrConfig(common.EnvCacheSize, config.Cache.Size, common.DefaultCacheSize),
			RedisAddr:     getEnvOrDefault(common.EnvRedisAddr, orDefault(config.Cache.Redis.Addr, common.DefaultRedisAddr)),
			RedisPassword: getEnvOrDefault(common.EnvRedisPassword, config.Cache.Redis.Password),
			RedisDB:       getIntFromEnvOrConfig(common.EnvRedisDB, config.Cache.Redis.DB, 0),
		},
		RequestTimeout:   getDurationFromEnvOrConfig(common.EnvRequestTimeout, config.Server.RequestTimeout, common.DefaultRequestTimeout),
		ShutdownTimeout:  getDurationFromEnvOrConfig(common.EnvShutdownTimeout, config.Server.ShutdownTimeout, common.DefaultShutdownTimeout),
		EnableModelAdmin: getBoolFromEnvOrConfig(common.EnvEnableModelAdmin, config.Server.EnableModelAdmin),
		ServerURL:        getEnvOrDefault(common.EnvServerURL, orDefault(config.Client.ServerURL, common.DefaultServerURL)),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ArtifactPath:  getEnvOrDefault(common.EnvArtifactPath, common.DefaultArtifactPath),
		ModelsDir:     os.Getenv(common.EnvModelsDir), // optional
		FailurePolicy: getEnvOrDefault(common.EnvFailurePolicy, common.DefaultFailurePolicy),
		ListenPort:    getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		PanelsDir:     os.Getenv(common.EnvPanelsDir), // optional
		DataPath:      os.Getenv(common.EnvDataPath),  // optional
		LogLevel:      getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogPretty:     getBoolOrDefault(common.EnvLogPretty, false),
		Attribution: AttributionSettings{
			Samples:        getIntOrDefault(common.EnvAttrSamples, common.DefaultAttrSamples),
			Timeout:        getDurationOrDefault(common.EnvAttrTimeout, common.DefaultAttrTimeout),
			Workers:        getIntOrDefault(common.EnvAttrWorkers, 0),
			Seed:           getUintOrDefault(common.EnvAttrSeed, common.DefaultAttrSeed),
			ExactMaxInputs: getIntOrDefault(common.EnvAttrExactMax, common.DefaultAttrExactMax),
			SummaryPath:    os.Getenv(common.EnvSummaryPath),
		},
		Cache: CacheSettings{
			Backend:       getEnvOrDefault(common.EnvCacheBackend, common.DefaultCacheBackend),
			TTL:           getDurationOrDefault(common.EnvCacheTTL, common.DefaultCacheTTL),
			Size:          getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),
			RedisAddr:     getEnvOrDefault(common.EnvRedisAddr, common.DefaultRedisAddr),
			RedisPassword: os.Getenv(common.EnvRedisPassword),
			RedisDB:       getIntOrDefault(common.EnvRedisDB, 0),
		},
		RequestTimeout:   getDurationOrDefault(common.EnvRequestTimeout, common.DefaultRequestTimeout),
		ShutdownTimeout:  getDurationOrDefault(common.EnvShutdownTimeout, common.DefaultShutdownTimeout),
		EnableModelAdmin: getBoolOrDefault(common.EnvEnableModelAdmin, false),
		ServerURL:        getEnvOrDefault(common.EnvServerURL, common.DefaultServerURL),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// ZerologLevel returns the parsed log level. Settings from Load are already validated.
func (s *Settings) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Budget converts the attribution settings into the engine's default budget.
func (s *Settings) Budget() attribution.Budget {
	return attribution.Budget{
		Samples:        s.Attribution.Samples,
		Timeout:        s.Attribution.Timeout,
		Workers:        s.Attribution.Workers,
		Seed:           s.Attribution.Seed,
		ExactMaxInputs: s.Attribution.ExactMaxInputs,
	}.Merge(attribution.DefaultBudget())
}

func orDefault(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getUintOrDefault(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getIntOrDefault(key, defaultValue)
}

func getUintFromEnvOrConfig(key string, configValue, defaultValue uint64) uint64 {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getUintOrDefault(key, defaultValue)
}

func getDurationFromEnvOrConfig(key, configValue string, defaultValue time.Duration) time.Duration {
	if configValue != "" {
		if d, err := time.ParseDuration(configValue); err == nil {
			defaultValue = d
		}
	}
	return getDurationOrDefault(key, defaultValue)
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	return getBoolOrDefault(key, configValue)
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate model source
	if settings.ArtifactPath == "" && settings.ModelsDir == "" {
		return fmt.Errorf("an artifact path or a models directory is required")
	}
	switch strings.ToLower(settings.FailurePolicy) {
	case "", "abort", "fallback":
	default:
		return fmt.Errorf("failure policy must be abort or fallback, got %q", settings.FailurePolicy)
	}

	// Validate server
	if settings.ListenPort < 1024 || settings.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1024 and 65535, got %d", settings.ListenPort)
	}
	if settings.RequestTimeout < time.Second || settings.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request timeout must be between 1s and 5m, got %v", settings.RequestTimeout)
	}
	if settings.ShutdownTimeout < time.Second || settings.ShutdownTimeout > time.Minute {
		return fmt.Errorf("shutdown timeout must be between 1s and 1m, got %v", settings.ShutdownTimeout)
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}
	if settings.ServerURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}

	// Validate attribution budget
	a := settings.Attribution
	if a.Samples < 2 || a.Samples > attribution.MaxSamples {
		return fmt.Errorf("attribution samples must be between 2 and %d, got %d", attribution.MaxSamples, a.Samples)
	}
	if a.Timeout < 10*time.Millisecond || a.Timeout > 5*time.Minute {
		return fmt.Errorf("attribution timeout must be between 10ms and 5m, got %v", a.Timeout)
	}
	if a.Workers < 0 || a.Workers > attribution.MaxWorkers {
		return fmt.Errorf("attribution workers must be between 0 and %d, got %d", attribution.MaxWorkers, a.Workers)
	}
	if a.ExactMaxInputs < 1 || a.ExactMaxInputs > 20 {
		return fmt.Errorf("attribution exact max inputs must be between 1 and 20, got %d", a.ExactMaxInputs)
	}
	if a.Timeout > settings.RequestTimeout {
		return fmt.Errorf("attribution timeout %v exceeds request timeout %v", a.Timeout, settings.RequestTimeout)
	}

	// Validate cache
	c := settings.Cache
	switch c.Backend {
	case common.CacheBackendNone:
	case common.CacheBackendMemory, common.CacheBackendRedis:
		if c.TTL <= 0 || c.TTL > 24*time.Hour {
			return fmt.Errorf("cache TTL must be between 0 and 24h, got %v", c.TTL)
		}
		if c.Backend == common.CacheBackendMemory && (c.Size < 1 || c.Size > 1_000_000) {
			return fmt.Errorf("cache size must be between 1 and 1000000, got %d", c.Size)
		}
		if c.Backend == common.CacheBackendRedis && c.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("redis db must be between 0 and 15, got %d", c.RedisDB)
		}
	default:
		return fmt.Errorf("cache backend must be one of none, memory, redis, got %q", c.Backend)
	}

	return nil
}
