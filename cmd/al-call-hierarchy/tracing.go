// # cmd/al-call-hierarchy/tracing.go
package main

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTracing wires a batched OTLP/gRPC span exporter into the global
// TracerProvider when endpoint is non-empty. The returned shutdown func
// flushes pending spans; callers should defer it. When endpoint is empty,
// the global no-op provider is left in place and shutdown is a no-op.
func setupTracing(endpoint string) func(context.Context) error {
	if endpoint == "" {
		return func(context.Context) error { return nil }
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		slog.Warn("al: failed to start otlp exporter, tracing disabled", "endpoint", endpoint, "error", err)
		return func(context.Context) error { return nil }
	}

	res := resource.NewWithAttributes("", attribute.String("service.name", "al-call-hierarchy"))
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	slog.Info("al: tracing enabled", "endpoint", endpoint)
	return tp.Shutdown
}
