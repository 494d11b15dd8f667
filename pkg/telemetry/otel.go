// Package telemetry sets up OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/speedrun-hq/paywatch/pkg/logger"
)

const serviceVersion = "1.0.0"

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

type exporterTarget struct {
	endpoint string
	path     string
	insecure bool
}

// parseEndpoint accepts a full URL or the host:port form
func parseEndpoint(raw string) (exporterTarget, error) {
	target := exporterTarget{endpoint: raw, path: "/v1/traces", insecure: true}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return target, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return exporterTarget{}, fmt.Errorf("invalid OTLP endpoint %q", raw)
	}
	target.endpoint = u.Host
	if u.Path != "" && u.Path != "/" {
		target.path = u.Path
	}
	target.insecure = u.Scheme == "http"
	return target, nil
}

// InitTracer installs a global OTLP/HTTP tracer provider. With an empty
// endpoint tracing stays on the no-op provider.
func InitTracer(ctx context.Context, serviceName, endpoint string, log logger.Logger) (ShutdownFunc, error) {
	if endpoint == "" {
		log.Debug("No OTLP endpoint configured, tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	target, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.endpoint),
		otlptracehttp.WithURLPath(target.path),
	}
	if target.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("OpenTelemetry initialized for service %s, exporting to %s%s", serviceName, target.endpoint, target.path)
	return tp.Shutdown, nil
}
