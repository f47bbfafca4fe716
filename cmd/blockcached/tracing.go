package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerServiceName = "blockcached"
)

// initTracing wires a Jaeger exporter when endpoint is non-empty, and falls
// back to the OpenTelemetry no-op tracer otherwise: tracing is opt-in, not
// mandatory for every caller.
func initTracing(endpoint string) (trace.Tracer, func(context.Context) error, error) {
	if endpoint == "" {
		noop := trace.NewNoopTracerProvider().Tracer(tracerServiceName)
		return noop, func(context.Context) error { return nil }, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, nil, fmt.Errorf("blockcached: create jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(tracerServiceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("blockcached: build resource: %w", err)
	}

	provider := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)

	return provider.Tracer(tracerServiceName), provider.Shutdown, nil
}
