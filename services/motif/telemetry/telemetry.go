// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the OpenTelemetry tracer and meter providers
// used by the cluster engine and the HTTP server.
//
// Exporters:
//
//	none        no providers are installed; otel stays a no-op
//	stdout      spans and metrics are pretty-printed to stdout
//	prometheus  metrics are served on /metrics, no spans
//	otlp        spans go to an OTLP gRPC collector, metrics to /metrics
//
// Engine metrics registered directly with the Prometheus client (stream and
// archive counters) are always served by MetricsHandler.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/motif/services/motif/config"
)

var (
	// ErrNilContext is returned when Init is called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Exporter names accepted by Init.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// Config controls telemetry behavior.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	OTLPEndpoint   string
}

// FromConfig maps the telemetry section of motif.yaml.
func FromConfig(c config.TelemetryConfig, version string) Config {
	return Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
		Exporter:       c.Exporter,
		OTLPEndpoint:   c.Endpoint,
	}
}

// Shutdown flushes and stops the installed providers.
type Shutdown func(context.Context) error

// Init installs providers for cfg.Exporter.
//
// # Description
//
// After Init returns, otel.Tracer and otel.Meter resolve to the configured
// providers and the W3C trace context propagator is installed. The "none"
// exporter installs nothing.
//
// # Outputs
//
//   - Shutdown: Must be called on exit; never nil when err is nil.
//   - error: ErrNilContext, ErrUnknownExporter or an exporter failure.
//
// # Thread Safety
//
// Call once at startup.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	)

	var (
		tp  *trace.TracerProvider
		mp  *metric.MeterProvider
		err error
	)
	switch cfg.Exporter {
	case ExporterNone, "":
		return shutdown, nil
	case ExporterStdout:
		if tp, err = stdoutTracer(res); err == nil {
			mp, err = stdoutMeter(res)
		}
	case ExporterPrometheus:
		mp, err = prometheusMeter(res)
	case ExporterOTLP:
		if tp, err = otlpTracer(ctx, cfg.OTLPEndpoint, res); err == nil {
			mp, err = prometheusMeter(res)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(ctx)
		}
		return nil, err
	}

	if tp != nil {
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return shutdown, nil
}

func stdoutTracer(res *resource.Resource) (*trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	), nil
}

func otlpTracer(ctx context.Context, endpoint string, res *resource.Resource) (*trace.TracerProvider, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial otlp collector %s: %w", endpoint, err)
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	), nil
}

func stdoutMeter(res *resource.Resource) (*metric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter)),
	), nil
}

var promOnce sync.Once

// prometheusMeter bridges otel instruments into the default Prometheus
// registry. The exporter registers a collector, so it is created once per
// process.
func prometheusMeter(res *resource.Resource) (*metric.MeterProvider, error) {
	var (
		reader *promexporter.Exporter
		err    error
	)
	created := false
	promOnce.Do(func() {
		created = true
		reader, err = promexporter.New()
	})
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	if !created {
		return nil, nil
	}
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	), nil
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
