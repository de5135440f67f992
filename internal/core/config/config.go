package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vietddude/scrapeguard/internal/infra/fetch"
	redisclient "github.com/vietddude/scrapeguard/internal/infra/redis"
	"github.com/vietddude/scrapeguard/internal/infra/storage/postgres"
	"github.com/vietddude/scrapeguard/internal/resilience"
	"github.com/vietddude/scrapeguard/internal/resilience/breaker"
	"github.com/vietddude/scrapeguard/internal/resilience/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Breaker  BreakerConfig      `yaml:"breaker"`
	Retry    RetryConfig        `yaml:"retry"`
	Batch    BatchConfig        `yaml:"batch"`
	Fetch    fetch.Config       `yaml:"fetch"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
	Key       string        `yaml:"key"`   // host, site
	Store     string        `yaml:"store"` // memory, redis
}

// RetryConfig holds retry scheduler settings.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// BatchConfig holds batch orchestrator settings.
type BatchConfig struct {
	Concurrency int  `yaml:"concurrency"`
	StopOnError bool `yaml:"stop_on_error"`
}

// Default returns the configuration used for any field a file leaves unset.
func Default() AppConfig {
	rp := retry.DefaultPolicy()
	return AppConfig{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Breaker: BreakerConfig{
			Enabled:   true,
			Threshold: breaker.DefaultThreshold,
			Timeout:   breaker.DefaultTimeout,
			Key:       "host",
			Store:     "memory",
		},
		Retry: RetryConfig{
			MaxRetries: rp.MaxRetries,
			BaseDelay:  rp.BaseDelay,
			MaxDelay:   rp.MaxDelay,
		},
		Batch: BatchConfig{Concurrency: resilience.DefaultConcurrency},
		Fetch: fetch.Config{
			Timeout:      fetch.DefaultTimeout,
			UserAgent:    fetch.DefaultUserAgent,
			Burst:        1,
			MaxBodyBytes: fetch.DefaultMaxBodyBytes,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: invalid port %d", c.Server.Port))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q (want text or json)", c.Logging.Format))
	}
	if c.Breaker.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker.threshold: must be positive, got %d", c.Breaker.Threshold))
	}
	if c.Breaker.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("breaker.timeout: must be positive, got %v", c.Breaker.Timeout))
	}
	if _, ok := breaker.KeyFuncByName(c.Breaker.Key); !ok {
		errs = append(errs, fmt.Errorf("breaker.key: unknown key %q (want host or site)", c.Breaker.Key))
	}
	switch c.Breaker.Store {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("breaker.store: redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("breaker.store: unknown store %q (want memory or redis)", c.Breaker.Store))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries: must not be negative, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay: must not be negative, got %v", c.Retry.BaseDelay))
	}
	if c.Batch.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("batch.concurrency: must be positive, got %d", c.Batch.Concurrency))
	}
	if c.Fetch.RatePerHost < 0 {
		errs = append(errs, fmt.Errorf("fetch.rate_per_host: must not be negative, got %v", c.Fetch.RatePerHost))
	}

	return errors.Join(errs...)
}

// RetryPolicy converts the retry section.
func (c *AppConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
	}
}

// ParseLevel maps a logging.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
}
