package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/lathe/pkg/observability"
)

// Config holds all process configuration
type Config struct {
	// Workspace configuration
	Workspace WorkspaceConfig

	// Server configuration
	Server ServerConfig

	// Cache configuration
	Cache CacheConfig

	// Release index configuration
	Releases ReleasesConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// WorkspaceConfig holds build engine settings
type WorkspaceConfig struct {
	Root string

	// OverwriteStrategy is one of direct, retry, gc, symlink
	OverwriteStrategy string
	RetryAttempts     int
	RetryDelay        time.Duration

	// RefreshSchedule is a cron spec used by the watch command
	RefreshSchedule string
}

// ServerConfig holds the status server settings
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// CacheConfig holds the shared version cache settings
type CacheConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// ReleasesConfig holds the release index settings
type ReleasesConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  observability.LogLevel
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// Tracing converts the settings for observability.InitTracing
func (o ObservabilityConfig) Tracing() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

var (
	overwriteStrategies = []string{"direct", "retry", "gc", "symlink"}
	releaseDrivers      = []string{"sqlite3", "postgres"}
)

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Workspace:     loadWorkspaceConfig(),
		Server:        loadServerConfig(),
		Cache:         loadCacheConfig(),
		Releases:      loadReleasesConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadWorkspaceConfig() WorkspaceConfig {
	root := getEnv("LATHE_WORKSPACE", "")
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	return WorkspaceConfig{
		Root:              root,
		OverwriteStrategy: getEnv("LATHE_OVERWRITE_STRATEGY", "direct"),
		RetryAttempts:     getEnvInt("LATHE_OVERWRITE_RETRIES", 10),
		RetryDelay:        getEnvDuration("LATHE_OVERWRITE_DELAY", 100*time.Millisecond),
		RefreshSchedule:   getEnv("LATHE_REFRESH_SCHEDULE", "@every 5m"),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LATHE_HOST", "127.0.0.1"),
		Port:            getEnv("LATHE_PORT", "8380"),
		ReadTimeout:     getEnvDuration("LATHE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LATHE_WRITE_TIMEOUT", 5*time.Minute),
		ShutdownTimeout: getEnvDuration("LATHE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		RedisURL:      getEnv("LATHE_REDIS_URL", ""),
		RedisPassword: getEnv("LATHE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("LATHE_REDIS_DB", -1),
	}
}

func loadReleasesConfig() ReleasesConfig {
	return ReleasesConfig{
		Driver: getEnv("LATHE_RELEASES_DRIVER", ""),
		DSN:    getEnv("LATHE_RELEASES_DSN", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LATHE_LOG_LEVEL", "info")),
		LogFormat:          getEnv("LATHE_LOG_FORMAT", "text"),
		MetricsEnabled:     getEnvBool("LATHE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LATHE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LATHE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LATHE_OTEL_SERVICE_NAME", "lathe"),
		OTelServiceVersion: getEnv("LATHE_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("LATHE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace root is required")
	}
	if !contains(overwriteStrategies, c.Workspace.OverwriteStrategy) {
		return fmt.Errorf("invalid overwrite strategy: %s (must be one of %s)",
			c.Workspace.OverwriteStrategy, strings.Join(overwriteStrategies, ", "))
	}
	if c.Workspace.RetryAttempts < 0 {
		return fmt.Errorf("overwrite retries must not be negative")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Releases.Driver != "" {
		if !contains(releaseDrivers, c.Releases.Driver) {
			return fmt.Errorf("invalid release index driver: %s (must be one of %s)",
				c.Releases.Driver, strings.Join(releaseDrivers, ", "))
		}
		if c.Releases.DSN == "" {
			return fmt.Errorf("release index DSN is required when a driver is set")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
