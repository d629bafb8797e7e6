// Package exporters builds the OpenTelemetry span exporters and metric
// readers that the observe package wires into its providers. Selection is by
// name; endpoint-addressed backends fail fast at construction when their
// environment variables are unset, rather than dialing a default location
// and failing later.
package exporters

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracingExporter builds a span exporter for the named backend.
// Supported names: otlp, jaeger, stdout, none.
func NewTracingExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))

	case "otlp":
		if err := requireEndpoint("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)

	case "jaeger":
		// Jaeger ingests OTLP natively; only the endpoint variable differs.
		if err := requireEndpoint("OTEL_EXPORTER_JAEGER_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)

	case "none", "":
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))

	default:
		return nil, fmt.Errorf("exporters: unknown exporter %q", name)
	}
}

// NewMetricsReader builds a metric reader for the named backend.
// Supported names: otlp, prometheus, stdout, none.
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	switch name {
	case "stdout":
		return periodicReader(stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout)))

	case "otlp":
		if err := requireEndpoint("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		return periodicReader(otlpmetricgrpc.New(ctx))

	case "prometheus":
		return prometheus.New()

	case "none", "":
		return periodicReader(stdoutmetric.New(stdoutmetric.WithWriter(io.Discard)))

	default:
		return nil, fmt.Errorf("exporters: unknown metrics exporter %q", name)
	}
}

// periodicReader wraps a push exporter in a periodic reader, passing any
// construction error through unchanged.
func periodicReader(exp sdkmetric.Exporter, err error) (sdkmetric.Reader, error) {
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}

// requireEndpoint checks that at least one of the given environment
// variables is set. The SDK reads the variable itself when dialing; this
// check only turns a silent misconfiguration into a construction error.
func requireEndpoint(vars ...string) error {
	for _, v := range vars {
		if os.Getenv(v) != "" {
			return nil
		}
	}
	return fmt.Errorf("exporters: no endpoint configured, set %s", strings.Join(vars, " or "))
}
