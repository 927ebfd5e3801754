package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lexiqai/lounge-voice"

// TracingOptions selects the span exporter
type TracingOptions struct {
	Service      string
	OTLPEndpoint string
	OTLPInsecure bool
	Stdout       bool
}

// InitTracing installs the global tracer provider.
// With neither an OTLP endpoint nor stdout enabled, spans are recorded by a provider without
// exporters. The returned function flushes and stops the provider.
func InitTracing(ctx context.Context, opts TracingOptions) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(opts.Service)),
	)
	if err != nil {
		return nil, err
	}

	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	logger := GetLogger()

	switch {
	case strings.TrimSpace(opts.OTLPEndpoint) != "":
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.OTLPEndpoint)}
		if opts.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, err
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
		logger.Info().Str("exporter", "otlp").Str("endpoint", opts.OTLPEndpoint).Msg("Tracing initialized")
	case opts.Stdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
		logger.Info().Str("exporter", "stdout").Msg("Tracing initialized")
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the module tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
