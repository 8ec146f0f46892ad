package di

import (
	"fmt"
	"net/http"

	"github.com/google/wire"
	"go.uber.org/zap"

	"appraisal-backend/internal/application/ports"
	"appraisal-backend/internal/application/services"
	"appraisal-backend/internal/config"
	domainservices "appraisal-backend/internal/domain/services"
	"appraisal-backend/internal/infrastructure/cache"
	"appraisal-backend/internal/infrastructure/eventbus"
	"appraisal-backend/internal/infrastructure/observability"
	"appraisal-backend/internal/infrastructure/persistence/memory"
	"appraisal-backend/internal/interfaces/http/rest"
	"appraisal-backend/internal/interfaces/websocket"
)

// SuperSet combines every provider group in the package.
var SuperSet = wire.NewSet(
	ConfigProviders,
	InfrastructureProviders,
	DomainProviders,
	ApplicationProviders,
	InterfaceProviders,
)

// ConfigProviders supplies configuration and the logger built from it.
var ConfigProviders = wire.NewSet(
	provideConfig,
	provideLogger,
)

// InfrastructureProviders supplies the cache backend, key namespace,
// metrics collector and event bus.
var InfrastructureProviders = wire.NewSet(
	provideCollector,
	provideKeyBuilder,
	provideCache,
	provideWarmer,
	provideEventBus,
	wire.Bind(new(ports.EventPublisher), new(*eventbus.Bus)),
)

// DomainProviders supplies domain services and the valuation source.
var DomainProviders = wire.NewSet(
	provideTrendDetector,
	wire.Bind(new(ports.TrendAnalyzer), new(*domainservices.TrendDetector)),
	provideReader,
)

// ApplicationProviders supplies the application service layer.
var ApplicationProviders = wire.NewSet(
	provideValuationService,
)

// InterfaceProviders supplies the HTTP and WebSocket surfaces.
var InterfaceProviders = wire.NewSet(
	provideRelay,
	provideRouter,
)

func provideConfig() (*config.Config, error) {
	return config.Load()
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Logging)
}

// provideCollector returns nil when metrics are disabled. The collector
// methods tolerate a nil receiver, so consumers take it as-is.
func provideCollector(cfg *config.Config) *observability.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace)
}

func provideKeyBuilder(cfg *config.Config) cache.KeyBuilder {
	return cache.NewKeyBuilder(cfg.Cache.KeyPrefix)
}

// provideCache selects the backend named by cache.provider.
func provideCache(cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) (ports.Cache, error) {
	switch cfg.Cache.Provider {
	case "redis":
		return cache.NewRedisCache(cfg.Cache, cfg.Redis, logger, metrics), nil
	case "memory":
		return cache.NewMemoryCache(cfg.Cache.MaxItems, logger), nil
	}
	return nil, fmt.Errorf("unknown cache provider %q", cfg.Cache.Provider)
}

// provideWarmer exposes the bulk-load surface of the cache backend. Both
// backends implement it; the assertion guards against a future backend
// that does not.
func provideWarmer(store ports.Cache) (ports.Warmer, error) {
	warmer, ok := store.(ports.Warmer)
	if !ok {
		return nil, fmt.Errorf("cache backend %T does not support warming", store)
	}
	return warmer, nil
}

func provideEventBus(cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) *eventbus.Bus {
	return eventbus.New(cfg.Events, logger, metrics)
}

func provideTrendDetector(cfg *config.Config) *domainservices.TrendDetector {
	return domainservices.NewTrendDetector(domainservices.TrendConfig{
		WindowSize:       cfg.Trend.WindowSize,
		MinRun:           cfg.Trend.MinRun,
		MinChangePercent: cfg.Trend.MinChangePercent,
	})
}

// provideReader builds the in-memory valuation source, seeded with demo
// fixtures in development so the API answers without external data.
func provideReader(cfg *config.Config, logger *zap.Logger) ports.ValuationReader {
	reader := memory.NewReader(logger)
	if cfg.Environment == config.Development {
		reader.SeedDemoData()
	}
	return reader
}

func provideValuationService(
	store ports.Cache,
	warmer ports.Warmer,
	reader ports.ValuationReader,
	publisher ports.EventPublisher,
	keys cache.KeyBuilder,
	cfg *config.Config,
	logger *zap.Logger,
) *services.ValuationService {
	return services.NewValuationService(store, warmer, reader, publisher, keys, cfg.Cache.DefaultTTL, logger)
}

func provideRelay(bus *eventbus.Bus, logger *zap.Logger) *websocket.Relay {
	// Origin checks are left to the edge proxy in front of this service.
	return websocket.NewRelay(bus, nil, logger)
}

// provideRouter assembles the HTTP surface. The manual container
// additionally wires backend diagnostics and the metrics endpoint into
// the router; see initializeInterfaces.
func provideRouter(
	service *services.ValuationService,
	bus *eventbus.Bus,
	analyzer ports.TrendAnalyzer,
	relay *websocket.Relay,
	logger *zap.Logger,
) http.Handler {
	return rest.NewRouter(rest.Deps{
		Service:  service,
		Bus:      bus,
		Analyzer: analyzer,
		Relay:    relay,
		Logger:   logger,
	}).Setup()
}
