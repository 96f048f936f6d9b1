package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/apiflow/core"
)

const instrumentationName = "github.com/itsneelabh/apiflow"

// OTelProvider implements core.Telemetry with OpenTelemetry
type OTelProvider struct {
	tracer        trace.Tracer
	metrics       *MetricInstruments
	traceProvider *sdktrace.TracerProvider
	logger        core.Logger
}

// ProviderOption configures an OTelProvider
type ProviderOption func(*providerOptions)

type providerOptions struct {
	exporter sdktrace.SpanExporter
	writer   io.Writer
	meter    metric.Meter
	logger   core.Logger
	global   bool
}

// WithSpanExporter replaces the exporter selected by the configuration.
func WithSpanExporter(exporter sdktrace.SpanExporter) ProviderOption {
	return func(o *providerOptions) {
		o.exporter = exporter
	}
}

// WithStdoutWriter redirects the stdout exporter.
func WithStdoutWriter(w io.Writer) ProviderOption {
	return func(o *providerOptions) {
		o.writer = w
	}
}

// WithMeter sets the meter used for metrics. Defaults to the global meter.
func WithMeter(m metric.Meter) ProviderOption {
	return func(o *providerOptions) {
		o.meter = m
	}
}

// WithProviderLogger sets the logger
func WithProviderLogger(logger core.Logger) ProviderOption {
	return func(o *providerOptions) {
		o.logger = logger
	}
}

// WithoutGlobalRegistration keeps the tracer provider out of the otel globals.
func WithoutGlobalRegistration() ProviderOption {
	return func(o *providerOptions) {
		o.global = false
	}
}

// NewOTelProvider creates a tracer provider exporting to stdout or an OTLP
// collector, as selected by cfg.Exporter.
func NewOTelProvider(ctx context.Context, cfg core.TelemetryConfig, opts ...ProviderOption) (*OTelProvider, error) {
	o := &providerOptions{writer: os.Stdout, global: true}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("apiflow/telemetry")
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "apiflow"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", core.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil {
		exporter, err = newExporter(ctx, cfg, o.writer)
		if err != nil {
			return nil, err
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	meter := o.meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	logger.Info("Telemetry enabled", map[string]interface{}{
		"operation":    "telemetry_init",
		"exporter":     exporterName(cfg),
		"endpoint":     cfg.Endpoint,
		"service_name": serviceName,
	})

	return &OTelProvider{
		tracer:        tp.Tracer(instrumentationName),
		metrics:       NewMetricInstruments(meter),
		traceProvider: tp,
		logger:        logger,
	}, nil
}

func exporterName(cfg core.TelemetryConfig) string {
	if cfg.Exporter == "" {
		return "stdout"
	}
	return strings.ToLower(cfg.Exporter)
}

func newExporter(ctx context.Context, cfg core.TelemetryConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch exporterName(cfg) {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q: %w", cfg.Exporter, core.ErrInvalidConfiguration)
	}
}

// StartSpan starts a new telemetry span
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric records value on a histogram named name
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	if err := o.metrics.RecordHistogram(context.Background(), name, value, metric.WithAttributes(attrs...)); err != nil {
		o.logger.Debug("Metric dropped", map[string]interface{}{
			"operation": "record_metric",
			"metric":    name,
			"error":     err.Error(),
		})
	}
}

// ForceFlush exports all finished spans
func (o *OTelProvider) ForceFlush(ctx context.Context) error {
	return o.traceProvider.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the exporter
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	return o.traceProvider.Shutdown(ctx)
}

// otelSpan wraps an OpenTelemetry span to implement core.Span
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
