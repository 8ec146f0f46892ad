// Package rest exposes the appraisal API over HTTP: valuation lookups
// and submissions, trend queries, diagnostics, and the WebSocket
// upgrade path.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"appraisal-backend/internal/application/ports"
	"appraisal-backend/internal/application/services"
	"appraisal-backend/internal/infrastructure/cache"
	"appraisal-backend/internal/infrastructure/eventbus"
	"appraisal-backend/pkg/api"
)

const (
	healthCheckTimeout = 2 * time.Second
	apiRequestTimeout  = 15 * time.Second
)

// Pinger reports whether the cache backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles the components the router exposes. Relay, Metrics and
// Trace are optional; their routes and middleware are omitted when nil.
type Deps struct {
	Service  *services.ValuationService
	Bus      *eventbus.Bus
	Analyzer ports.TrendAnalyzer
	Backend  Pinger
	Relay    http.Handler
	Metrics  http.Handler
	Trace    func(http.Handler) http.Handler
	Logger   *zap.Logger
}

// Router creates and configures the HTTP router.
type Router struct {
	deps    Deps
	logger  *zap.Logger
	started time.Time
}

// NewRouter creates a new router instance.
func NewRouter(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		deps:    deps,
		logger:  logger,
		started: time.Now(),
	}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	if rt.deps.Trace != nil {
		router.Use(rt.deps.Trace)
	}
	router.Use(RequestLogger(rt.logger))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	router.Get("/stats", rt.stats)

	if rt.deps.Metrics != nil {
		router.Handle("/metrics", rt.deps.Metrics)
	}
	if rt.deps.Relay != nil {
		router.Handle("/ws", rt.deps.Relay)
	}

	router.Route("/api/v1", func(r chi.Router) {
		// The relay route stays outside this group; a deadline would
		// kill long-lived connections.
		r.Use(chimiddleware.Timeout(apiRequestTimeout))

		itemHandler := NewItemHandler(rt.deps.Service, rt.logger)
		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Get("/valuation", itemHandler.GetValuation)
			r.Post("/valuation", itemHandler.SubmitValuation)
			r.Delete("/valuation", itemHandler.ExpireValuation)
			r.Post("/valuation/refresh", itemHandler.RefreshValuation)
			r.Get("/comparisons", itemHandler.GetComparisons)
			r.Get("/trend", itemHandler.GetTrend)
			r.Post("/price-change", itemHandler.RecordPriceChange)
		})

		adminHandler := NewAdminHandler(rt.deps.Service, rt.logger)
		r.Post("/admin/cache/warm", adminHandler.WarmCache)
		r.Post("/admin/revalue", adminHandler.BulkRevalue)
	})

	return router
}

// healthCheck reports liveness, including whether the cache backend
// answers a ping.
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	if rt.deps.Backend == nil {
		api.Success(w, http.StatusOK, api.HealthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	if err := rt.deps.Backend.Ping(ctx); err != nil {
		// The service still works without its cache; report degraded
		// rather than down.
		api.Success(w, http.StatusOK, api.HealthResponse{
			Status: "degraded",
			Cache:  err.Error(),
		})
		return
	}
	api.Success(w, http.StatusOK, api.HealthResponse{Status: "healthy"})
}

func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	api.Success(w, http.StatusOK, api.HealthResponse{Status: "ready"})
}

// stats snapshots runtime counters across components. The cache section
// depends on the provider; both facades expose a Stats method but with
// different shapes, so the backend is probed for whichever it carries.
func (rt *Router) stats(w http.ResponseWriter, req *http.Request) {
	resp := api.StatsResponse{
		Uptime: time.Since(rt.started).Round(time.Second).String(),
	}

	switch backend := rt.deps.Backend.(type) {
	case interface{ Stats() cache.Stats }:
		resp.Cache = backend.Stats()
	case interface{ Stats() cache.MemoryStats }:
		resp.Cache = backend.Stats()
	}

	if rt.deps.Bus != nil {
		resp.Events = rt.deps.Bus.Stats()
	}
	if rt.deps.Analyzer != nil {
		resp.Trend = rt.deps.Analyzer.GlobalSummary()
	}

	api.Success(w, http.StatusOK, resp)
}
