// Package telemetry configures the global OpenTelemetry providers.
package telemetry

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"libshelf/internal/config"
	"libshelf/internal/log"
)

// ShutdownFunc flushes and stops the providers installed by Setup.
type ShutdownFunc func(context.Context) error

// Setup installs a tracer provider exporting over OTLP/HTTP when an endpoint is configured.
// Without an endpoint the global no-op provider stays in place.
func Setup(ctx context.Context, opts *config.Options) (ShutdownFunc, error) {
	if opts.OTLPEndpoint == "" {
		log.Debug("tracing export disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(opts.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create otlp trace exporter")
	}

	provider := NewTracerProvider(opts.ServiceName, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info("tracing export enabled",
		zap.String("endpoint", opts.OTLPEndpoint),
		zap.String("service", opts.ServiceName),
	)
	return provider.Shutdown, nil
}

// NewTracerProvider builds a provider tagged with the service name.
func NewTracerProvider(serviceName string, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	return sdktrace.NewTracerProvider(append(opts, sdktrace.WithResource(res))...)
}
