package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend names accepted by the *_BACKEND / LOAD_STORE settings.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
	BackendLog      = "log"
)

// Config holds all application configuration
type Config struct {
	// HTTP server
	HTTPPort        string
	MetricsPort     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Redis
	RedisURL         string
	RedisPoolSize    int
	RedisMinIdleConn int
	RedisMaxRetries  int
	RedisDialTimeout time.Duration

	// Postgres (staff, sessions, service history). Empty means in-memory stores.
	PostgresURL          string
	PostgresMaxOpenConns int
	PostgresMaxIdleConns int

	// Backends
	LoadStore     string
	QueueBackend  string
	NotifyBackend string
	NATSURL       string

	// Allocation
	AllocationTimeout time.Duration
	ClassifyTimeout   time.Duration
	HistoryCacheTTL   time.Duration

	// Wait queue
	QueueRetryInterval time.Duration
	QueueMaxWait       time.Duration

	// Tenant settings
	TenantConfigFile    string
	TenantConfigRefresh time.Duration

	// Leader election (gates the wait-queue drainer)
	LeaderElectionEnabled       bool
	LeaderElectionLockName      string
	LeaderElectionNamespace     string
	LeaderElectionDuration      time.Duration
	LeaderElectionRenewDeadline time.Duration
	LeaderElectionRetryPeriod   time.Duration
	PodName                     string

	// Logging
	LogLevel  string
	LogFormat string

	// Application metadata
	AppName    string
	AppVersion string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPoolSize:    getEnvInt("REDIS_POOL_SIZE", 50),
		RedisMinIdleConn: getEnvInt("REDIS_MIN_IDLE_CONN", 5),
		RedisMaxRetries:  getEnvInt("REDIS_MAX_RETRIES", 3),
		RedisDialTimeout: getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),

		PostgresURL:          getEnv("POSTGRES_URL", ""),
		PostgresMaxOpenConns: getEnvInt("POSTGRES_MAX_OPEN_CONNS", 20),
		PostgresMaxIdleConns: getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),

		LoadStore:     getEnv("LOAD_STORE", BackendRedis),
		QueueBackend:  getEnv("QUEUE_BACKEND", BackendRedis),
		NotifyBackend: getEnv("NOTIFY_BACKEND", BackendLog),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),

		AllocationTimeout: getEnvDuration("ALLOCATION_TIMEOUT", 2*time.Second),
		ClassifyTimeout:   getEnvDuration("CLASSIFY_TIMEOUT", 300*time.Millisecond),
		HistoryCacheTTL:   getEnvDuration("HISTORY_CACHE_TTL", time.Minute),

		QueueRetryInterval: getEnvDuration("QUEUE_RETRY_INTERVAL", 30*time.Second),
		QueueMaxWait:       getEnvDuration("QUEUE_MAX_WAIT", 0),

		TenantConfigFile:    getEnv("TENANT_CONFIG_FILE", ""),
		TenantConfigRefresh: getEnvDuration("TENANT_CONFIG_REFRESH", 15*time.Second),

		LeaderElectionEnabled:       getEnvBool("LEADER_ELECTION_ENABLED", false),
		LeaderElectionLockName:      getEnv("LEADER_ELECTION_LOCK_NAME", "session-allocator-leader"),
		LeaderElectionNamespace:     getEnv("LEADER_ELECTION_NAMESPACE", "default"),
		LeaderElectionDuration:      getEnvDuration("LEADER_ELECTION_DURATION", 15*time.Second),
		LeaderElectionRenewDeadline: getEnvDuration("LEADER_ELECTION_RENEW_DEADLINE", 10*time.Second),
		LeaderElectionRetryPeriod:   getEnvDuration("LEADER_ELECTION_RETRY_PERIOD", 2*time.Second),
		PodName:                     getEnv("POD_NAME", hostname()),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "json"),
		AppName:    "session-allocator",
		AppVersion: getEnv("APP_VERSION", "dev"),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	// PostgresURL is required for production
	if c.PostgresURL == "" && os.Getenv("ENV") == "production" {
		return fmt.Errorf("POSTGRES_URL is required in production")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", c.LogLevel)
	}

	switch c.LoadStore {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("invalid LOAD_STORE: %s (must be memory/redis/postgres)", c.LoadStore)
	}
	if c.LoadStore == BackendPostgres && c.PostgresURL == "" {
		return fmt.Errorf("LOAD_STORE=postgres requires POSTGRES_URL")
	}
	if c.LoadStore == BackendMemory && c.PostgresURL != "" {
		return fmt.Errorf("LOAD_STORE=memory only works with the in-memory staff store, unset POSTGRES_URL")
	}

	switch c.QueueBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND: %s (must be memory/redis)", c.QueueBackend)
	}
	if c.QueueBackend == BackendMemory && c.LeaderElectionEnabled {
		return fmt.Errorf("QUEUE_BACKEND=memory cannot be drained by a single leader, use redis or disable LEADER_ELECTION_ENABLED")
	}

	switch c.NotifyBackend {
	case BackendLog, BackendRedis, BackendNATS:
	default:
		return fmt.Errorf("invalid NOTIFY_BACKEND: %s (must be log/redis/nats)", c.NotifyBackend)
	}

	if c.AllocationTimeout <= 0 {
		return fmt.Errorf("ALLOCATION_TIMEOUT must be positive")
	}
	if c.QueueRetryInterval <= 0 {
		return fmt.Errorf("QUEUE_RETRY_INTERVAL must be positive")
	}

	return nil
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return ":" + c.HTTPPort
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return defaultVal
		}
		return b
	}
	return defaultVal
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal
		}
		return i
	}
	return defaultVal
}

// getEnvDuration retrieves a duration environment variable or returns a default value
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "session-allocator"
	}
	return name
}
