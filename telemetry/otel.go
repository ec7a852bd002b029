// Package telemetry implements core.Telemetry with OpenTelemetry, exporting
// traces and metrics over OTLP/HTTP. It is the only concrete provider
// node.Controller, httpsx.Manager, and transport.Server are ever handed;
// every other package depends on the core.Telemetry/core.Span interfaces
// alone, never on this package, to avoid import cycles (§4.3).
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bedrockdb/bedrock/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelProvider implements core.Telemetry over an OTLP/HTTP exporter pair,
// one for the "bedrock.peek"/"bedrock.process" spans and one for the
// bedrock.* metrics node, httpsx, and transport emit.
type OTelProvider struct {
	tracer         trace.Tracer
	meter          metric.Meter
	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewOTelProvider starts the OTLP/HTTP trace and metric pipelines for
// serviceName against endpoint (e.g. "localhost:4318"). Traces batch on
// the SDK's defaults; metrics export every 30s.
func NewOTelProvider(serviceName string, endpoint string) (*OTelProvider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name cannot be empty")
	}
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	ctx := context.Background()

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating trace exporter for %s: %w", endpoint, err)
	}

	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: creating metric exporter for %s: %w", endpoint, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &OTelProvider{
		tracer:         tp.Tracer("bedrock"),
		meter:          mp.Meter("bedrock"),
		traceProvider:  tp,
		metricProvider: mp,
		counters:       make(map[string]metric.Float64Counter),
		histograms:     make(map[string]metric.Float64Histogram),
	}, nil
}

// StartSpan satisfies core.Telemetry.
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric satisfies core.Telemetry, routing by name to a counter or a
// histogram instrument: names describing an accumulating count ("errors",
// "total", "commits") go to a counter; everything else (durations, queue
// depths) goes to a histogram. Instruments are created lazily and cached,
// since the OTel SDK requires one instrument per distinct metric name.
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	opt := metric.WithAttributes(attrs...)
	ctx := context.Background()

	if isCounterMetric(name) {
		o.counterFor(name).Add(ctx, value, opt)
		return
	}
	o.histogramFor(name).Record(ctx, value, opt)
}

func (o *OTelProvider) counterFor(name string) metric.Float64Counter {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[name]; ok {
		return c
	}
	c, _ := o.meter.Float64Counter(name)
	o.counters[name] = c
	return c
}

func (o *OTelProvider) histogramFor(name string) metric.Float64Histogram {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return h
	}
	h, _ := o.meter.Float64Histogram(name)
	o.histograms[name] = h
	return h
}

func isCounterMetric(name string) bool {
	for _, suffix := range []string{"errors", "total", "count", "commits"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Shutdown flushes and stops both exporters. Safe to call more than once.
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		var errs []error
		if err := o.metricProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down metric provider: %w", err))
		}
		if err := o.traceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down trace provider: %w", err))
		}
		if len(errs) > 0 {
			o.shutdownErr = fmt.Errorf("telemetry shutdown: %v", errs)
		}
	})
	return o.shutdownErr
}

// otelSpan wraps an OpenTelemetry span to implement core.Span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

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

func (s *otelSpan) RecordError(err error) { s.span.RecordError(err) }
