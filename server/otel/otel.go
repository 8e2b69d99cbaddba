// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package otel sets up OpenTelemetry export and the instruments recorded by
// the browser.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/virgil/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	exportTimeout  = 30 * time.Second
	metricInterval = 10 * time.Second
)

type shutdowns []func(context.Context) error

func (s shutdowns) run(ctx context.Context) error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		errs = append(errs, s[i](ctx))
	}
	return errors.Join(errs...)
}

// InitProvider installs global tracer and meter providers exporting over OTLP
// to cfg.OtelEndpoint. With traces disabled a no-op tracer provider is set.
// The returned function flushes and stops whatever was started.
func InitProvider(ctx context.Context, cfg config.ServerConfig, instanceID string) (func(context.Context) error, error) {
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.OtelServiceName),
		semconv.ServiceVersion(cfg.OtelServiceVersion),
		semconv.ServiceInstanceID(instanceID),
	)

	var started shutdowns

	if !cfg.OtelTracesEnabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	} else {
		exporter, err := newTraceExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithResource(res),
			trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.OtelTraceSampleRate))),
			trace.WithBatcher(exporter, trace.WithBatchTimeout(5*time.Second)),
		)
		otel.SetTracerProvider(tp)
		started = append(started, tp.Shutdown)
	}

	if cfg.OtelMetricsEnabled {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OtelEndpoint),
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithTimeout(exportTimeout),
		)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("metric exporter: %w", err), started.run(ctx))
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(metricInterval))),
		)
		otel.SetMeterProvider(mp)
		started = append(started, mp.Shutdown)
	}

	return started.run, nil
}

// newTraceExporter picks the OTLP transport for spans. Metrics always use gRPC.
func newTraceExporter(ctx context.Context, cfg config.ServerConfig) (trace.SpanExporter, error) {
	if cfg.OtelProtocol == config.OtelProtocolHTTP {
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OtelEndpoint),
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
			otlptracehttp.WithTimeout(exportTimeout),
		)
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(exportTimeout),
	)
}
