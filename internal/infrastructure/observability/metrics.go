// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the cache and event bus.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application.
// A nil *Collector is valid: every record method becomes a no-op, which is
// how metrics are disabled.
type Collector struct {
	registry *prometheus.Registry

	// Cache metrics
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheTimeouts   prometheus.Counter
	CacheErrors     *prometheus.CounterVec
	CacheOpDuration *prometheus.HistogramVec

	// Event bus metrics
	EventsPublished *prometheus.CounterVec
	EventsCascaded  *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	HandlerFailures *prometheus.CounterVec
	SubscriberDrops prometheus.Counter
	Subscribers     prometheus.Gauge
}

// NewCollector creates a collector with its own registry. Each instance is
// independent so tests can create as many as they need.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	})
	cacheTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_timeouts_total",
		Help:      "Total number of cache operations that hit their deadline",
	})
	cacheErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_errors_total",
		Help:      "Total number of failed cache operations",
	}, []string{"operation"})
	cacheOpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cache_operation_duration_seconds",
		Help:      "Cache operation duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total number of events published, by type and landed tier",
	}, []string{"type", "tier"})
	eventsCascaded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_cascaded_total",
		Help:      "Total number of events enqueued below their classified tier",
	}, []string{"type"})
	eventsDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Total number of events dropped because every queue was full",
	}, []string{"type"})
	handlerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_handler_duration_seconds",
		Help:      "Event handler invocation duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler"})
	handlerFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_handler_failures_total",
		Help:      "Total number of handler invocations that errored, timed out, or panicked",
	}, []string{"handler", "reason"})
	subscriberDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscriber_drops_total",
		Help:      "Total number of events dropped on full subscriber channels",
	})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers",
		Help:      "Number of live subscriber channels",
	})

	registry.MustRegister(
		cacheHits,
		cacheMisses,
		cacheTimeouts,
		cacheErrors,
		cacheOpDuration,
		eventsPublished,
		eventsCascaded,
		eventsDropped,
		handlerDuration,
		handlerFailures,
		subscriberDrops,
		subscribers,
	)

	return &Collector{
		registry:        registry,
		CacheHits:       cacheHits,
		CacheMisses:     cacheMisses,
		CacheTimeouts:   cacheTimeouts,
		CacheErrors:     cacheErrors,
		CacheOpDuration: cacheOpDuration,
		EventsPublished: eventsPublished,
		EventsCascaded:  eventsCascaded,
		EventsDropped:   eventsDropped,
		HandlerDuration: handlerDuration,
		HandlerFailures: handlerFailures,
		SubscriberDrops: subscriberDrops,
		Subscribers:     subscribers,
	}
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler serving this collector's metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.CacheHits.Inc()
}

func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.CacheMisses.Inc()
}

func (c *Collector) RecordCacheTimeout() {
	if c == nil {
		return
	}
	c.CacheTimeouts.Inc()
}

func (c *Collector) RecordCacheError(operation string) {
	if c == nil {
		return
	}
	c.CacheErrors.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordCacheOp(operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.CacheOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordEventPublished(eventType, tier string) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(eventType, tier).Inc()
}

func (c *Collector) RecordEventCascaded(eventType string) {
	if c == nil {
		return
	}
	c.EventsCascaded.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordEventDropped(eventType string) {
	if c == nil {
		return
	}
	c.EventsDropped.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordHandlerDuration(handler string, duration time.Duration) {
	if c == nil {
		return
	}
	c.HandlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

func (c *Collector) RecordHandlerFailure(handler, reason string) {
	if c == nil {
		return
	}
	c.HandlerFailures.WithLabelValues(handler, reason).Inc()
}

func (c *Collector) RecordSubscriberDrop() {
	if c == nil {
		return
	}
	c.SubscriberDrops.Inc()
}

func (c *Collector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}
