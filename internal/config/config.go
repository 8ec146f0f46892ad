// Package config provides configuration management for the appraisal backend.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration for the application.
type Config struct {
	Environment Environment `yaml:"environment"`
	Server      Server      `yaml:"server"`
	Redis       Redis       `yaml:"redis"`
	Cache       Cache       `yaml:"cache"`
	Events      Events      `yaml:"events"`
	Trend       Trend       `yaml:"trend"`
	Metrics     Metrics     `yaml:"metrics"`
	Tracing     Tracing     `yaml:"tracing"`
	Logging     Logging     `yaml:"logging"`
	Features    Features    `yaml:"features"`

	// LoadedFrom tracks which sources contributed to this configuration.
	LoadedFrom []string `yaml:"-"`
}

// Server configures the HTTP listener.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port address to listen on.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Redis configures the Redis connection pool.
type Redis struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"min=0"`
	PoolSize     int           `yaml:"pool_size" validate:"min=1"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns the host:port address for the Redis client.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Cache configures the cache facade.
type Cache struct {
	// Provider selects the backing store: "redis" or "memory".
	Provider   string        `yaml:"provider" validate:"oneof=memory redis"`
	KeyPrefix  string        `yaml:"key_prefix"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	WarmTTL    time.Duration `yaml:"warm_ttl"`
	// OpTimeout bounds every individual cache operation.
	OpTimeout time.Duration `yaml:"op_timeout" validate:"min=1ms"`
	// MaxItems caps the memory provider; ignored for Redis.
	MaxItems int     `yaml:"max_items" validate:"min=1"`
	Breaker  Breaker `yaml:"breaker"`
}

// Breaker configures the circuit breaker guarding cache operations.
type Breaker struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"min=0,max=1"`
	MinRequests      uint32        `yaml:"min_requests"`
}

// Events configures the in-process event bus.
type Events struct {
	// QueueSize is the capacity of each priority queue.
	QueueSize int `yaml:"queue_size" validate:"min=1"`
	// Workers bounds concurrent handler invocations.
	Workers int `yaml:"workers" validate:"min=1"`
	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration `yaml:"handler_timeout" validate:"min=1ms"`
	// SubscriberBuffer is the per-connection delivery channel capacity.
	SubscriberBuffer int    `yaml:"subscriber_buffer" validate:"min=1"`
	Bridge           Bridge `yaml:"bridge"`
}

// Bridge configures cross-instance event propagation over Redis pub/sub.
type Bridge struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
	// SeenCapacity bounds the set of event IDs remembered for loop detection.
	SeenCapacity int `yaml:"seen_capacity"`
}

// Trend configures price trend detection.
type Trend struct {
	// WindowSize is the number of observations retained per item.
	WindowSize int `yaml:"window_size" validate:"min=2"`
	// MinRun is the number of consecutive same-direction moves that
	// constitutes a trend.
	MinRun int `yaml:"min_run" validate:"min=2"`
	// MinChangePercent is the total change over the run required to
	// report a trend.
	MinChangePercent float64 `yaml:"min_change_percent" validate:"min=0"`
}

// Metrics configures Prometheus metric collection.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Tracing configures OpenTelemetry trace export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// Logging configures the structured logger.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
	Output string `yaml:"output"`
}

// Features contains feature flags controlling optional components.
type Features struct {
	EnableCacheInvalidator bool `yaml:"enable_cache_invalidator"`
	EnableAuditLog         bool `yaml:"enable_audit_log"`
	EnableTrendAnalysis    bool `yaml:"enable_trend_analysis"`
}

var validate = validator.New()

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Environment {
	case Development, Staging, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}

	if c.Cache.Provider == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("cache provider is redis but redis.host is empty")
	}
	if c.Events.Bridge.Enabled {
		if c.Events.Bridge.Channel == "" {
			return fmt.Errorf("events bridge is enabled but bridge.channel is empty")
		}
		if c.Cache.Provider != "redis" {
			return fmt.Errorf("events bridge requires the redis cache provider")
		}
	}

	return nil
}

// applyEnvironmentDefaults adjusts settings that follow from the environment.
func (c *Config) applyEnvironmentDefaults() {
	switch c.Environment {
	case Production:
		// Production always logs structured JSON.
		c.Logging.Format = "json"
	case Development:
		if c.Logging.Format == "" {
			c.Logging.Format = "console"
		}
	}
}

// getEnvironment determines the deployment environment from the process
// environment, defaulting to development.
func getEnvironment() Environment {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}

	switch strings.ToLower(env) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	default:
		return Development
	}
}
