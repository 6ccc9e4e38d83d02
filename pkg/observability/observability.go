// Package observability provides OpenTelemetry tracing and metrics for the
// monitor: one span per cycle and per collector run, and counters for what
// each cycle collected, created and delivered.
//
// A disabled Provider is always safe to use. Its spans and instruments are
// no-ops.
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
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/roshinpv/regulateai"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool

	// SpanExporter and MetricReader replace the OTLP exporters when set.
	SpanExporter sdktrace.SpanExporter
	MetricReader sdkmetric.Reader
}

// DefaultConfig returns the settings used by the regmonitor binary.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "regmonitor",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the trace and metric providers and the monitor instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	operations       metric.Int64Counter
	errors           metric.Int64Counter
	duration         metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter

	cyclesSkipped    metric.Int64Counter
	updatesCollected metric.Int64Counter
	collectorPanics  metric.Int64Counter
	alerts           metric.Int64Counter
	notifications    metric.Int64Counter
}

// Disabled returns a Provider that records nothing.
func Disabled() *Provider {
	return &Provider{
		config: &Config{},
		logger: slog.Default().With("component", "observability"),
	}
}

// New creates a provider. With config.Enabled false it returns Disabled().
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		p := Disabled()
		p.config = config
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironmentName(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	exporter := p.config.SpanExporter
	if exporter == nil {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
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

	batchTimeout := p.config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
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
	reader := p.config.MetricReader
	if reader == nil {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create metric exporter: %w", err)
		}
		interval := p.config.ExportInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	counter := func(name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = p.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return c
	}

	p.operations = counter("regmonitor.operations.total", "Operations started", "{operation}")
	p.errors = counter("regmonitor.errors.total", "Operations that returned an error", "{error}")
	p.cyclesSkipped = counter("regmonitor.cycles.skipped", "Scheduler ticks skipped because a cycle was running", "{cycle}")
	p.updatesCollected = counter("regmonitor.updates.collected", "Updates returned by collectors", "{update}")
	p.collectorPanics = counter("regmonitor.collector.panics", "Collector runs that panicked", "{run}")
	p.alerts = counter("regmonitor.alerts.processed", "Updates processed by the alert manager, by outcome", "{update}")
	p.notifications = counter("regmonitor.notifications", "Notification attempts, by outcome", "{notification}")
	if err != nil {
		return err
	}

	p.duration, err = p.meter.Float64Histogram("regmonitor.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return err
	}

	p.activeOperations, err = p.meter.Int64UpDownCounter("regmonitor.operations.active",
		metric.WithDescription("Operations in flight"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer, or the global one when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter, or the global one when disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a span named name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// TrackOperation starts a span and counts the operation. The returned
// function ends both and must be called exactly once.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	opAttrs := append([]attribute.KeyValue{AttrOperation.String(name)}, attrs...)
	set := metric.WithAttributes(opAttrs...)
	if p.activeOperations != nil {
		p.activeOperations.Add(ctx, 1, set)
	}
	if p.operations != nil {
		p.operations.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		if p.activeOperations != nil {
			p.activeOperations.Add(ctx, -1, set)
		}
		if p.duration != nil {
			p.duration.Record(ctx, time.Since(start).Seconds(), set)
		}
		if err != nil {
			span.RecordError(err)
			if p.errors != nil {
				p.errors.Add(ctx, 1, metric.WithAttributes(
					append(opAttrs, attribute.String("error.type", fmt.Sprintf("%T", err)))...))
			}
		}
		span.End()
	}
}

// RecordCollected counts updates returned by one collector run.
func (p *Provider) RecordCollected(ctx context.Context, agencyID, kind string, n int) {
	if p.updatesCollected != nil && n > 0 {
		p.updatesCollected.Add(ctx, int64(n), metric.WithAttributes(CollectorRun(agencyID, kind)...))
	}
}

// RecordCollectorPanic counts a recovered collector panic.
func (p *Provider) RecordCollectorPanic(ctx context.Context, agencyID, kind string) {
	if p.collectorPanics != nil {
		p.collectorPanics.Add(ctx, 1, metric.WithAttributes(CollectorRun(agencyID, kind)...))
	}
}

// RecordAlert counts one update processed by the alert manager. Outcome is
// one of created, duplicate or failed.
func (p *Provider) RecordAlert(ctx context.Context, agencyID, outcome string) {
	if p.alerts != nil {
		p.alerts.Add(ctx, 1, metric.WithAttributes(AttrAgency.String(agencyID), AttrOutcome.String(outcome)))
	}
}

// RecordNotification counts one delivery attempt.
func (p *Provider) RecordNotification(ctx context.Context, via string, ok bool) {
	if p.notifications == nil {
		return
	}
	outcome := "delivered"
	if !ok {
		outcome = "failed"
	}
	p.notifications.Add(ctx, 1, metric.WithAttributes(AttrNotifier.String(via), AttrOutcome.String(outcome)))
}

// RecordSkippedCycle counts a scheduler tick that found a cycle in flight.
func (p *Provider) RecordSkippedCycle(ctx context.Context) {
	if p.cyclesSkipped != nil {
		p.cyclesSkipped.Add(ctx, 1)
	}
}

// ForceFlush exports buffered spans and metrics.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.ForceFlush(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		return p.meterProvider.ForceFlush(ctx)
	}
	return nil
}
