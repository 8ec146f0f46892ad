// Package di assembles the application object graph.
//
// Two construction paths share the providers in this package. NewContainer
// builds the graph by hand in explicit phases and owns component lifecycle,
// and is what the binaries under cmd/ use. The Wire declarations in wire.go
// describe the same graph for `wire check`; they carry no lifecycle logic.
package di

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"appraisal-backend/internal/application/ports"
	"appraisal-backend/internal/application/services"
	"appraisal-backend/internal/config"
	domainservices "appraisal-backend/internal/domain/services"
	"appraisal-backend/internal/infrastructure/cache"
	"appraisal-backend/internal/infrastructure/eventbus"
	"appraisal-backend/internal/infrastructure/observability"
	"appraisal-backend/internal/interfaces/websocket"
)

// Container holds every constructed component. Fields are populated by
// initialize in dependency order; consumers should treat them as read-only
// after NewContainer returns.
type Container struct {
	// Configuration
	Config *config.Config

	// Observability
	Logger  *zap.Logger
	Metrics *observability.Collector
	Tracing *observability.TracerProvider

	// Cache backend. Exactly one of RedisCache and MemoryCache is non-nil,
	// chosen by cache.provider. Cache is the port handed to services and
	// may wrap the backend with tracing; Warmer is always the bare backend
	// because bulk warming is not part of the traced surface.
	RedisCache  *cache.RedisCache
	MemoryCache *cache.MemoryCache
	Cache       ports.Cache
	Warmer      ports.Warmer
	Keys        cache.KeyBuilder

	// Eventing
	Bus    *eventbus.Bus
	Bridge *eventbus.Bridge

	// Domain and application
	Detector *domainservices.TrendDetector
	Reader   ports.ValuationReader
	Service  *services.ValuationService

	// Interfaces
	Relay  *websocket.Relay
	Router http.Handler

	// Watcher reloads configuration on file changes. Development only.
	Watcher *config.Watcher

	shutdownFunctions []func() error
	shutdownOnce      sync.Once
}
