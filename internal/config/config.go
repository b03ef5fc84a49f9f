package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the stage engine
type Config struct {
	// Server configuration
	HTTPPort int    `env:"STAGEFLOW_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage selects the persistence backend: memory, redis or sqlite
	Storage StorageConfig

	// Events selects the event bus backend: memory or redis
	EventBus string `env:"EVENT_BUS" envDefault:"memory"`

	// Redis configuration, used when storage or events run on redis
	Redis RedisConfig

	// Templates configuration
	TemplateDir string `env:"TEMPLATE_DIR" envDefault:"templates"`

	// MasterUnlockIDs are stage ids whose progress weight is doubled
	MasterUnlockIDs []string `env:"MASTER_UNLOCK_IDS" envSeparator:","`

	// Watcher configuration
	Watcher WatcherConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Backend    string `env:"STORAGE_BACKEND" envDefault:"memory"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"stageflow.db"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// WatcherConfig holds dependency watcher configuration
type WatcherConfig struct {
	Interval time.Duration `env:"WATCHER_INTERVAL" envDefault:"5s"`
	Debounce time.Duration `env:"WATCHER_DEBOUNCE" envDefault:"250ms"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RequestTimeout  time.Duration `env:"TIMEOUT_REQUEST" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.Storage.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, redis, or sqlite)", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite path is required for the sqlite backend")
	}

	switch c.EventBus {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported event bus: %s (must be memory or redis)", c.EventBus)
	}

	if (c.Storage.Backend == "redis" || c.EventBus == "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Watcher.Interval < time.Second {
		return fmt.Errorf("watcher interval must be at least 1s, got %s", c.Watcher.Interval)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
