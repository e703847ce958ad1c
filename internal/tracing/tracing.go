package tracing

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Options selects where and how much to trace
type Options struct {
	ServiceName string
	Endpoint    string
	Enabled     bool
	SampleRatio float64
}

// InitTracer installs the global OTLP/HTTP tracer provider. When tracing is
// disabled or no endpoint is set the global no-op provider stays in place
// and the returned shutdown does nothing.
func InitTracer(ctx context.Context, opts Options, log *logrus.Entry) (func(context.Context) error, error) {
	if !opts.Enabled || opts.Endpoint == "" {
		log.Info("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	endpoint, insecure := splitEndpoint(opts.Endpoint)
	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	log.WithFields(logrus.Fields{"endpoint": endpoint, "sample_ratio": opts.SampleRatio}).Info("tracer initialized")
	return tp.Shutdown, nil
}

// splitEndpoint strips the URL scheme the exporter does not accept.
// Only an explicit https:// endpoint is dialed with TLS.
func splitEndpoint(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "https://"); ok {
		return strings.TrimSuffix(rest, "/"), false
	}
	raw = strings.TrimPrefix(raw, "http://")
	return strings.TrimSuffix(raw, "/"), true
}
