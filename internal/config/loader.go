package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader assembles configuration from layered sources.
type Loader struct {
	basePath    string
	environment Environment
	sources     []string
	fileLoaders map[string]FileLoader
}

// FileLoader decodes a configuration file format into the target.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a configuration loader rooted at basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}

	loader := &Loader{
		basePath:    basePath,
		environment: env,
		sources:     make([]string, 0),
		fileLoaders: make(map[string]FileLoader),
	}

	loader.RegisterLoader(&YAMLLoader{})
	loader.RegisterLoader(&JSONLoader{})

	return loader
}

// RegisterLoader registers a file loader for its extension.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders[loader.Extension()] = loader
}

// Load assembles the configuration. Sources from lowest to highest priority:
//  1. Default values (in code)
//  2. Base configuration file (base.yaml)
//  3. Environment-specific file (e.g. production.yaml)
//  4. Local overrides file (local.yaml, development only)
//  5. Environment variables
func (l *Loader) Load() (*Config, error) {
	cfg := l.defaultConfig()
	l.sources = append(l.sources, "defaults")

	if err := l.loadFile("base", cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	if l.environment == Development {
		if err := l.loadFile("local", cfg); err != nil && !os.IsNotExist(err) {
			// Local overrides are best-effort in development.
			fmt.Fprintf(os.Stderr, "warning: failed to load local config: %v\n", err)
		}
	}

	l.loadEnvironmentVariables(cfg)
	l.sources = append(l.sources, "environment")

	cfg.LoadedFrom = l.sources
	cfg.applyEnvironmentDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads one named configuration layer, trying each registered format.
func (l *Loader) loadFile(name string, cfg *Config) error {
	for ext, loader := range l.fileLoaders {
		filename := fmt.Sprintf("%s.%s", name, ext)
		path := filepath.Join(l.basePath, filename)

		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		defer file.Close()

		if err := loader.Load(file, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		l.sources = append(l.sources, path)
		return nil
	}

	return os.ErrNotExist
}

// loadEnvironmentVariables overlays process environment variables.
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	if val := os.Getenv("SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Server.Port = port
		}
	}

	if val := os.Getenv("REDIS_HOST"); val != "" {
		cfg.Redis.Host = val
	}
	if val := os.Getenv("REDIS_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Redis.Port = port
		}
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		cfg.Redis.DB = parseInt(val)
	}

	if val := os.Getenv("CACHE_PROVIDER"); val != "" {
		cfg.Cache.Provider = val
	}
	if val := os.Getenv("CACHE_KEY_PREFIX"); val != "" {
		cfg.Cache.KeyPrefix = val
	}

	if val := os.Getenv("EVENTS_QUEUE_SIZE"); val != "" {
		if size := parseInt(val); size > 0 {
			cfg.Events.QueueSize = size
		}
	}
	if val := os.Getenv("EVENTS_WORKERS"); val != "" {
		if n := parseInt(val); n > 0 {
			cfg.Events.Workers = n
		}
	}
	if val := os.Getenv("BRIDGE_ENABLED"); val != "" {
		cfg.Events.Bridge.Enabled = parseBool(val)
	}
	if val := os.Getenv("BRIDGE_CHANNEL"); val != "" {
		cfg.Events.Bridge.Channel = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		cfg.Metrics.Enabled = parseBool(val)
	}
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		cfg.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("TRACING_ENDPOINT"); val != "" {
		cfg.Tracing.Endpoint = val
	}
}

// defaultConfig returns the built-in defaults so the application can run
// without any configuration files.
func (l *Loader) defaultConfig() *Config {
	return &Config{
		Environment: l.environment,
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: Redis{
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Cache: Cache{
			Provider:   "redis",
			KeyPrefix:  "appraisal",
			DefaultTTL: 15 * time.Minute,
			WarmTTL:    24 * time.Hour,
			OpTimeout:  2 * time.Second,
			MaxItems:   10000,
			Breaker: Breaker{
				MaxRequests:      3,
				Interval:         60 * time.Second,
				OpenTimeout:      30 * time.Second,
				FailureThreshold: 0.6,
				MinRequests:      5,
			},
		},
		Events: Events{
			QueueSize:        1000,
			Workers:          8,
			HandlerTimeout:   30 * time.Second,
			SubscriberBuffer: 100,
			Bridge: Bridge{
				Enabled:      false,
				Channel:      "appraisal:events",
				SeenCapacity: 4096,
			},
		},
		Trend: Trend{
			WindowSize:       20,
			MinRun:           3,
			MinChangePercent: 5.0,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "appraisal",
		},
		Tracing: Tracing{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "appraisal-backend",
			SampleRate:  0.1,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Features: Features{
			EnableCacheInvalidator: true,
			EnableAuditLog:         true,
			EnableTrendAnalysis:    true,
		},
	}
}

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	decoder := yaml.NewDecoder(reader)
	return decoder.Decode(target)
}

func (y *YAMLLoader) Extension() string {
	return "yaml"
}

// JSONLoader loads configuration from JSON files.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	decoder := json.NewDecoder(reader)
	return decoder.Decode(target)
}

func (j *JSONLoader) Extension() string {
	return "json"
}

func parseInt(s string) int {
	val, _ := strconv.Atoi(s)
	return val
}

func parseBool(s string) bool {
	val, _ := strconv.ParseBool(s)
	return val
}

// Load loads configuration for the detected environment from the default
// config directory.
func Load() (*Config, error) {
	env := getEnvironment()
	basePath := os.Getenv("CONFIG_DIR")
	loader := NewLoader(basePath, env)
	return loader.Load()
}

// MustLoad loads configuration and panics on error.
// Use this only in main().
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
