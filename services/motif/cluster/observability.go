// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cluster

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const clusterTracerName = "aleutian.motif.cluster"

// Tracer provides OpenTelemetry tracing for manager operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with span helpers for simulate and commit.
// When disabled, returns noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new manager tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
//
// # Outputs
//
//   - *Tracer: Ready-to-use tracer instance.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(clusterTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartSimulate starts a span for one candidate simulation.
func (t *Tracer) StartSimulate(ctx context.Context, seriesLen int, candidate Point) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "cluster.simulate",
		trace.WithAttributes(
			attribute.Int("motif.series_len", seriesLen),
			attribute.Float64Slice("motif.candidate", candidate),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, span
}

// EndSimulate completes a simulation span.
//
// # Inputs
//
//   - span: The span to end.
//   - score: The computed score (zero on error).
//   - err: Error if the simulation failed.
func (t *Tracer) EndSimulate(span trace.Span, score Score, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.Float64("motif.score.distance", score.Distance),
		attribute.Float64("motif.score.quantity", score.Quantity),
	)
}

// StartCommit starts a span for a permanent append.
func (t *Tracer) StartCommit(ctx context.Context, seriesLen int) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "cluster.commit",
		trace.WithAttributes(attribute.Int("motif.series_len", seriesLen)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "committing sample", slog.Int("series_len", seriesLen))
	return ctx, span
}

// EndCommit completes a commit span.
func (t *Tracer) EndCommit(span trace.Span, clusters int, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int("motif.clusters", clusters))
}

// LoggerWithTrace returns a logger enriched with trace context.
//
// # Outputs
//
//   - *slog.Logger: Logger with trace_id and span_id if available.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
