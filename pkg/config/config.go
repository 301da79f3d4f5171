package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vaultisle/dataroom/pkg/observability"
	"github.com/vaultisle/dataroom/pkg/ratelimit"
	"github.com/vaultisle/dataroom/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database storage.Config

	// Redis configuration
	Redis RedisConfig

	// S3 configuration for presigned document downloads
	S3 S3Config

	// Rate limit tiers
	RateLimit RateLimitConfig

	// Audit configuration
	Audit AuditConfig

	// Notify configuration
	Notify NotifyConfig

	// Janitor schedules
	Janitor JanitorConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RedisConfig holds the optional Redis connection settings. When
// disabled, rate limiting falls back to in-process counters.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// S3Config holds the optional blob store settings. When disabled,
// granted share link visits carry no download URL.
type S3Config struct {
	Enabled      bool
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	PresignTTL   time.Duration
}

// RateLimitConfig holds the two limiter tiers: the general API tier
// fails open, the tier guarding share link visits fails closed.
type RateLimitConfig struct {
	API  ratelimit.Config
	Auth ratelimit.Config

	// OverlayPath optionally points at a YAML file whose limits
	// override the environment and hot-reload on change.
	OverlayPath string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	// FileDir, when set, mirrors audit events to a JSON log file in
	// this directory alongside the database trail.
	FileDir string
}

// NotifyConfig holds notification dispatch settings
type NotifyConfig struct {
	Timeout time.Duration
}

// JanitorConfig holds cron schedules for background sweeps
type JanitorConfig struct {
	// LinkSweepSchedule deactivates expired share links.
	LinkSweepSchedule string
	// BucketSweepSchedule prunes stale in-process rate limit buckets.
	BucketSweepSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		S3:            loadS3Config(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         AuditConfig{FileDir: getEnv("DATAROOM_AUDIT_FILE_DIR", "")},
		Notify:        NotifyConfig{Timeout: getEnvDuration("DATAROOM_NOTIFY_TIMEOUT", 5*time.Second)},
		Janitor:       loadJanitorConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("DATAROOM_HOST", "0.0.0.0"),
		Port:            getEnv("DATAROOM_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DATAROOM_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DATAROOM_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("DATAROOM_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DATAROOM_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("DATAROOM_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() storage.Config {
	cfg := storage.DefaultConfig()
	if url := getEnv("DATAROOM_POSTGRES_URL", ""); url != "" {
		cfg.URL = url
	}
	if maxConns := getEnvInt("DATAROOM_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("DATAROOM_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("DATAROOM_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  getEnvBool("DATAROOM_REDIS_ENABLED", false),
		Addr:     getEnv("DATAROOM_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("DATAROOM_REDIS_PASSWORD", ""),
		DB:       getEnvInt("DATAROOM_REDIS_DB", 0),
	}
}

func loadS3Config() S3Config {
	return S3Config{
		Enabled:      getEnvBool("DATAROOM_S3_ENABLED", false),
		Bucket:       getEnv("DATAROOM_S3_BUCKET", ""),
		Region:       getEnv("DATAROOM_S3_REGION", "us-east-1"),
		Endpoint:     getEnv("DATAROOM_S3_ENDPOINT", ""),
		AccessKey:    getEnv("DATAROOM_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("DATAROOM_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("DATAROOM_S3_USE_PATH_STYLE", false),
		PresignTTL:   getEnvDuration("DATAROOM_S3_PRESIGN_TTL", 15*time.Minute),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		API: ratelimit.Config{
			Identity: "api",
			Limit:    getEnvInt64("DATAROOM_RATELIMIT_API_LIMIT", 600),
			Window:   getEnvDuration("DATAROOM_RATELIMIT_API_WINDOW", time.Minute),
			FailMode: ratelimit.FailOpen,
		},
		Auth: ratelimit.Config{
			Identity: "auth",
			Limit:    getEnvInt64("DATAROOM_RATELIMIT_AUTH_LIMIT", 30),
			Window:   getEnvDuration("DATAROOM_RATELIMIT_AUTH_WINDOW", time.Minute),
			FailMode: ratelimit.FailClosed,
		},
		OverlayPath: getEnv("DATAROOM_RATELIMIT_OVERLAY", ""),
	}
}

func loadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		LinkSweepSchedule:   getEnv("DATAROOM_LINK_SWEEP_SCHEDULE", "@every 5m"),
		BucketSweepSchedule: getEnv("DATAROOM_BUCKET_SWEEP_SCHEDULE", "@every 10m"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("DATAROOM_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("DATAROOM_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DATAROOM_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DATAROOM_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DATAROOM_OTEL_SERVICE_NAME", "dataroom"),
		OTelServiceVersion: getEnv("DATAROOM_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("DATAROOM_OTEL_INSECURE", true),
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if err := c.RateLimit.API.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Auth.Validate(); err != nil {
		return err
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when S3 is enabled")
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify timeout must be positive")
	}
	return nil
}

// getEnv returns a string environment variable or a default
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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
