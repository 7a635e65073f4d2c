// Package telemetry wires the OpenTelemetry tracer provider. Metrics are
// exported through the prometheus registry instead of OTLP.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config holds tracing settings.
type Config struct {
	// Enabled turns span export on. Disabled yields a no-op provider, so
	// instrumented code needs no gating.
	Enabled bool `koanf:"enabled" json:"enabled"`

	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string `koanf:"endpoint" json:"endpoint"`

	// ServiceName labels exported spans.
	ServiceName string `koanf:"service_name" json:"service_name"`

	// Insecure disables TLS toward the collector.
	Insecure bool `koanf:"insecure" json:"insecure"`

	// SampleRatio is the head sampling ratio in [0, 1].
	SampleRatio float64 `koanf:"sample_ratio" json:"sample_ratio"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.ServiceName == "" {
		c.ServiceName = "recalld"
	}
	if c.SampleRatio <= 0 {
		c.SampleRatio = 1.0
	}
}

// Validate checks for unusable settings.
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample ratio %v out of [0, 1]", c.SampleRatio)
	}
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("tracing enabled without an endpoint")
	}
	return nil
}

// Telemetry owns the tracer provider lifecycle.
type Telemetry struct {
	tp *trace.TracerProvider
}

// New initializes the global tracer provider and W3C propagation. When
// disabled it returns an instance whose Tracer hands out no-op tracers.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	t.tp = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(t.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope, no-op when
// tracing is disabled.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tp == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tp.Tracer(name, opts...)
}

// Shutdown flushes pending spans. Safe on a disabled instance.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.tp == nil {
		return nil
	}
	return t.tp.Shutdown(ctx)
}
