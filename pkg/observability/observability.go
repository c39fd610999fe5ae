// Package observability wires OpenTelemetry tracing and metrics for
// the Action API and the worker. Metrics follow the RED pattern over
// action runs; spans cover one run or one HTTP request.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "roadmapd"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults. Telemetry is off unless
// explicitly enabled; the services run fine without a collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "roadmapd",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider manages the trace and metric providers plus the run-level
// RED instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	runCounter   metric.Int64Counter
	errorCounter metric.Int64Counter
	durationHist metric.Float64Histogram
	activeRuns   metric.Int64UpDownCounter
}

// New creates a provider. A disabled config returns a provider whose
// record methods are no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(scopeName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(scopeName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initRunMetrics(); err != nil {
		return nil, fmt.Errorf("init run metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initRunMetrics() error {
	var err error
	p.runCounter, err = p.meter.Int64Counter("roadmapd.runs.total",
		metric.WithDescription("Action runs executed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("roadmapd.runs.failed",
		metric.WithDescription("Action runs that finished failed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("roadmapd.run.duration",
		metric.WithDescription("Action run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.25, 1, 5, 15, 60, 300, 900),
	)
	if err != nil {
		return err
	}
	p.activeRuns, err = p.meter.Int64UpDownCounter("roadmapd.runs.active",
		metric.WithDescription("Action runs currently executing"),
		metric.WithUnit("{run}"),
	)
	return err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

// TrackRun opens a span for one action run and returns the completion
// callback. Works as a no-op when telemetry is disabled.
func (p *Provider) TrackRun(ctx context.Context, action string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.String("run.action", action)}

	ctx, span := p.Tracer().Start(ctx, "action.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p.activeRuns != nil {
		p.activeRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.runCounter != nil {
		p.runCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if p.activeRuns != nil {
			p.activeRuns.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if p.durationHist != nil {
			p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
		}
		span.End()
	}
}
