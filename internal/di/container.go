//go:build !wireinject
// +build !wireinject

package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"appraisal-backend/internal/application/handlers"
	"appraisal-backend/internal/config"
	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/infrastructure/cache"
	"appraisal-backend/internal/infrastructure/eventbus"
	"appraisal-backend/internal/infrastructure/observability"
	"appraisal-backend/internal/interfaces/http/rest"
)

// NewContainer constructs and starts the full application. On failure the
// partially built container is shut down before the error is returned.
func NewContainer() (*Container, error) {
	c := &Container{
		shutdownFunctions: make([]func() error, 0),
	}

	if err := c.initialize(); err != nil {
		_ = c.Shutdown()
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}

	return c, nil
}

// initialize sets up all dependencies in order.
func (c *Container) initialize() error {
	// 1. Configuration
	if err := c.initializeConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Logger
	if err := c.initializeLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// 3. Metrics and tracing
	if err := c.initializeObservability(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	// 4. Cache backend
	if err := c.initializeCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	// 5. Valuation source
	c.initializeReader()

	// 6. Event bus and built-in handlers
	c.initializeEventBus()

	// 7. Cross-instance event bridge
	if err := c.initializeBridge(); err != nil {
		return fmt.Errorf("failed to initialize event bridge: %w", err)
	}

	// 8. Application services
	c.initializeServices()

	// 9. HTTP and WebSocket interfaces
	c.initializeInterfaces()

	// 10. Configuration hot reload (development only)
	if err := c.initializeWatcher(); err != nil {
		// Hot reload is optional; log and continue.
		c.Logger.Warn("config watcher unavailable", zap.Error(err))
	}

	c.Logger.Info("container initialized",
		zap.String("environment", string(c.Config.Environment)),
		zap.String("cache_provider", c.Config.Cache.Provider),
		zap.Bool("bridge_enabled", c.Config.Events.Bridge.Enabled),
	)
	return nil
}

func (c *Container) initializeConfig() error {
	cfg, err := provideConfig()
	if err != nil {
		return err
	}
	c.Config = cfg
	return nil
}

func (c *Container) initializeLogger() error {
	logger, err := provideLogger(c.Config)
	if err != nil {
		return err
	}
	c.Logger = logger
	c.addShutdownFunction(func() error {
		// Sync can fail on terminal outputs; the entries are already flushed.
		_ = logger.Sync()
		return nil
	})

	c.Logger.Info("configuration loaded",
		zap.String("environment", string(c.Config.Environment)),
		zap.Strings("sources", c.Config.LoadedFrom),
	)
	return nil
}

func (c *Container) initializeObservability() error {
	c.Metrics = provideCollector(c.Config)

	if !c.Config.Tracing.Enabled {
		return nil
	}
	tp, err := observability.InitTracing(c.Config.Tracing, c.Config.Environment)
	if err != nil {
		return err
	}
	c.Tracing = tp
	c.addShutdownFunction(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})
	return nil
}

func (c *Container) initializeCache() error {
	c.Keys = provideKeyBuilder(c.Config)

	switch c.Config.Cache.Provider {
	case "redis":
		rc := cache.NewRedisCache(c.Config.Cache, c.Config.Redis, c.Logger, c.Metrics)
		c.RedisCache = rc
		c.Cache = rc
		c.Warmer = rc
		c.addShutdownFunction(rc.Close)
	case "memory":
		mc := cache.NewMemoryCache(c.Config.Cache.MaxItems, c.Logger)
		c.MemoryCache = mc
		c.Cache = mc
		c.Warmer = mc
		c.addShutdownFunction(mc.Close)
	default:
		return fmt.Errorf("unknown cache provider %q", c.Config.Cache.Provider)
	}

	if c.Tracing != nil {
		c.Cache = observability.TraceCache(c.Cache, c.Tracing.Tracer())
	}
	return nil
}

func (c *Container) initializeReader() {
	c.Reader = provideReader(c.Config, c.Logger)
}

func (c *Container) initializeEventBus() {
	c.Bus = provideEventBus(c.Config, c.Logger, c.Metrics)
	c.Bus.Start()
	c.addShutdownFunction(func() error {
		c.Bus.Stop()
		return nil
	})

	c.Detector = provideTrendDetector(c.Config)

	if c.Config.Features.EnableCacheInvalidator {
		c.subscribe(handlers.NewCacheInvalidator(c.invalidationStore(), c.Keys, c.Bus, c.Logger))
	}
	if c.Config.Features.EnableAuditLog {
		c.subscribe(handlers.NewAuditLogger(c.Logger))
	}
	if c.Config.Features.EnableTrendAnalysis {
		c.subscribe(handlers.NewTrendHandler(c.Detector, c.Cache, c.Keys, c.Bus, c.Logger))
	}
}

func (c *Container) subscribe(h events.Handler) {
	if err := c.Bus.Subscribe(h); err != nil {
		c.Logger.Error("handler subscription failed", zap.Error(err))
	}
}

// invalidationStore returns the active backend as the invalidation surface.
// The port interface does not expose DeleteByPattern, so the concrete type
// is needed here.
func (c *Container) invalidationStore() handlers.InvalidationStore {
	if c.RedisCache != nil {
		return c.RedisCache
	}
	return c.MemoryCache
}

func (c *Container) initializeBridge() error {
	if !c.Config.Events.Bridge.Enabled {
		return nil
	}
	if c.RedisCache == nil {
		return errors.New("event bridge requires the redis cache provider")
	}

	bridge := eventbus.NewBridge(c.Bus, c.RedisCache, c.Config.Events.Bridge, c.Logger)
	if err := bridge.Start(context.Background()); err != nil {
		return err
	}
	c.Bridge = bridge
	c.addShutdownFunction(func() error {
		bridge.Stop()
		return nil
	})
	return nil
}

func (c *Container) initializeServices() {
	c.Service = provideValuationService(c.Cache, c.Warmer, c.Reader, c.Bus, c.Keys, c.Config, c.Logger)
}

func (c *Container) initializeInterfaces() {
	c.Relay = provideRelay(c.Bus, c.Logger)

	deps := rest.Deps{
		Service:  c.Service,
		Bus:      c.Bus,
		Analyzer: c.Detector,
		Backend:  c.cachePinger(),
		Relay:    c.Relay,
		Logger:   c.Logger,
	}
	if c.Metrics != nil {
		deps.Metrics = c.Metrics.Handler()
	}
	if c.Tracing != nil {
		deps.Trace = observability.TraceHTTP(c.Config.Tracing.ServiceName)
	}
	c.Router = rest.NewRouter(deps).Setup()
}

// cachePinger returns the active backend for health checks and stats.
// The switch avoids handing the router a typed-nil Pinger.
func (c *Container) cachePinger() rest.Pinger {
	switch {
	case c.RedisCache != nil:
		return c.RedisCache
	case c.MemoryCache != nil:
		return c.MemoryCache
	}
	return nil
}

func (c *Container) initializeWatcher() error {
	if c.Config.Environment != config.Development {
		return nil
	}

	watcher, err := config.NewWatcher(c.Config, c.Logger)
	if err != nil {
		return err
	}
	watcher.OnChange(func(updated *config.Config) {
		c.Logger.Info("configuration reloaded",
			zap.String("log_level", updated.Logging.Level),
		)
	})
	c.Watcher = watcher
	c.addShutdownFunction(func() error {
		watcher.Stop()
		return nil
	})
	return nil
}

// addShutdownFunction registers a cleanup step. Steps run in reverse
// registration order during Shutdown.
func (c *Container) addShutdownFunction(fn func() error) {
	c.shutdownFunctions = append(c.shutdownFunctions, fn)
}

// Shutdown releases all container resources. It is safe to call more than
// once; only the first call does any work.
func (c *Container) Shutdown() error {
	var errs []error
	c.shutdownOnce.Do(func() {
		if c.Logger != nil {
			c.Logger.Info("shutting down container")
		}
		for i := len(c.shutdownFunctions) - 1; i >= 0; i-- {
			if err := c.shutdownFunctions[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
