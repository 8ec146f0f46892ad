package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"

	"appraisal-backend/internal/application/ports"
	"appraisal-backend/internal/config"
)

// TracerProvider wraps the OpenTelemetry provider with the exporter,
// resource, and sampler configuration used by this service.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing sets up trace export over OTLP gRPC and installs the global
// provider and propagator.
func InitTracing(cfg config.Tracing, env config.Environment) (*TracerProvider, error) {
	exporter, err := createOTLPExporter(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := createResource(cfg.ServiceName, env)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SampleRate, env)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: tp,
		tracer:   tp.Tracer(cfg.ServiceName),
	}, nil
}

func createOTLPExporter(endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}
	if endpoint == "localhost:4317" || endpoint == "127.0.0.1:4317" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
}

func createResource(serviceName string, env config.Environment) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		attribute.String("deployment.environment", string(env)),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(hostname))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
}

func createSampler(sampleRate float64, env config.Environment) sdktrace.Sampler {
	switch env {
	case config.Production:
		return sdktrace.TraceIDRatioBased(sampleRate)
	case config.Staging:
		return sdktrace.TraceIDRatioBased(0.1)
	default:
		return sdktrace.AlwaysSample()
	}
}

// Tracer returns the service tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a new span.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// TraceCache wraps a cache with per-operation spans.
func TraceCache(inner ports.Cache, tracer trace.Tracer) ports.Cache {
	return &tracedCache{inner: inner, tracer: tracer}
}

type tracedCache struct {
	inner  ports.Cache
	tracer trace.Tracer
}

func (c *tracedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := c.tracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	value, found, err := c.inner.Get(ctx, key)
	span.SetAttributes(attribute.Bool("cache.hit", found))
	if err != nil {
		span.RecordError(err)
	}
	return value, found, err
}

func (c *tracedCache) GetObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "cache.GetObject",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	found, err := c.inner.GetObject(ctx, key, dest)
	span.SetAttributes(attribute.Bool("cache.hit", found))
	if err != nil {
		span.RecordError(err)
	}
	return found, err
}

func (c *tracedCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.String("cache.ttl", ttl.String()),
		))
	defer span.End()

	err := c.inner.Set(ctx, key, value, ttl)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (c *tracedCache) SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "cache.SetIfAbsent",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	didSet, err := c.inner.SetIfAbsent(ctx, key, value, ttl)
	span.SetAttributes(attribute.Bool("cache.did_set", didSet))
	if err != nil {
		span.RecordError(err)
	}
	return didSet, err
}

func (c *tracedCache) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	ctx, span := c.tracer.Start(ctx, "cache.MGet",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))))
	defer span.End()

	values, err := c.inner.MGet(ctx, keys)
	if err != nil {
		span.RecordError(err)
	}
	return values, err
}

func (c *tracedCache) Delete(ctx context.Context, keys ...string) error {
	ctx, span := c.tracer.Start(ctx, "cache.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))))
	defer span.End()

	err := c.inner.Delete(ctx, keys...)
	if err != nil {
		span.RecordError(err)
	}
	return err
}
