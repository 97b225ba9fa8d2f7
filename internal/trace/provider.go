// Package trace is the tracing core used by the test instrumentation: it
// fabricates synthetic root contexts, wraps OpenTelemetry spans with a
// readable tag map, and owns the tracer provider whose buffered spans must be
// flushed before the process exits.
package trace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is used when no service name is configured.
const DefaultServiceName = "testtrace"

type options struct {
	endpoint       string
	insecure       bool
	serviceName    string
	serviceVersion string
	exporter       sdktrace.SpanExporter
	batchTimeout   time.Duration
	metricReader   sdkmetric.Reader
	logger         *slog.Logger
}

// Option configures a Provider.
type Option func(*options)

// WithEndpoint exports spans and metrics over OTLP/HTTP to endpoint.
func WithEndpoint(endpoint string, insecure bool) Option {
	return func(o *options) {
		o.endpoint = endpoint
		o.insecure = insecure
	}
}

// WithServiceName sets the service.name and service.version resource attributes.
func WithServiceName(name, version string) Option {
	return func(o *options) {
		o.serviceName = name
		o.serviceVersion = version
	}
}

// WithSpanExporter exports spans to exp instead of an OTLP endpoint.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithBatchTimeout sets how long finished spans may stay buffered before the
// batcher exports them on its own.
func WithBatchTimeout(d time.Duration) Option {
	return func(o *options) { o.batchTimeout = d }
}

// WithMetricReader collects metrics through r instead of an OTLP endpoint.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metricReader = r }
}

// WithLogger sets the logger used for export diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Provider owns the tracer and meter providers spans and metrics are written
// to. Without an endpoint or exporter spans are still recorded and tagged but
// never leave the process.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer oteltrace.Tracer
	open   *openSpans
	logger *slog.Logger
}

// NewProvider creates a Provider. Call Shutdown before the process exits.
func NewProvider(ctx context.Context, opts ...Option) (*Provider, error) {
	o := options{
		serviceName:  DefaultServiceName,
		batchTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.serviceName),
			semconv.ServiceVersionKey.String(o.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("trace: create resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil && o.endpoint != "" {
		traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(o.endpoint)}
		if o.insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("trace: create span exporter: %w", err)
		}
	}

	open := newOpenSpans()
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(open),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(o.batchTimeout),
		))
	} else {
		o.logger.Debug("trace: no exporter configured, spans stay in process")
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	reader := o.metricReader
	if reader == nil && o.endpoint != "" {
		metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(o.endpoint)}
		if o.insecure {
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("trace: create metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))
	}
	var mp *sdkmetric.MeterProvider
	if reader != nil {
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
	}

	return &Provider{
		tp:     tp,
		mp:     mp,
		tracer: tp.Tracer("testtrace/instrument"),
		open:   open,
		logger: o.logger,
	}, nil
}

// Start starts a span named name as a child of whatever span context ctx
// carries and applies tags to it.
func (p *Provider) Start(ctx context.Context, name string, tags Tags, opts ...oteltrace.SpanStartOption) (context.Context, *Span) {
	ctx, s := p.tracer.Start(ctx, name, opts...)
	span := newSpan(s)
	span.SetTags(tags)
	return ctx, span
}

// EndChildren ends every span of span's trace that is still open, except
// span itself, and returns how many were ended.
func (p *Provider) EndChildren(span *Span) int {
	sc := span.SpanContext()
	return p.open.endTrace(sc.TraceID(), sc.SpanID())
}

// OpenSpans returns how many spans of traceID have not ended.
func (p *Provider) OpenSpans(traceID oteltrace.TraceID) int {
	return p.open.count(traceID)
}

// Flush blocks until every finished span buffered so far has been handed to
// the exporter, or ctx is done.
func (p *Provider) Flush(ctx context.Context) error {
	if err := p.tp.ForceFlush(ctx); err != nil {
		return fmt.Errorf("trace: flush spans: %w", err)
	}
	if p.mp != nil {
		if err := p.mp.ForceFlush(ctx); err != nil {
			return fmt.Errorf("trace: flush metrics: %w", err)
		}
	}
	return nil
}

// TracerProvider returns the provider test bodies can create their own spans from.
func (p *Provider) TracerProvider() oteltrace.TracerProvider {
	return p.tp
}

// Meter returns a meter for the given instrumentation scope. It is a no-op
// meter when metrics are not configured.
func (p *Provider) Meter(name string) metric.Meter {
	if p.mp == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return p.mp.Meter(name)
}

// Shutdown flushes and closes the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := p.tp.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
