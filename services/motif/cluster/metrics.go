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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for clustering metrics.
var meter = otel.Meter("aleutian.motif.cluster")

// Metric instruments for manager operations.
var (
	simulateTotal    metric.Int64Counter
	commitTotal      metric.Int64Counter
	simulateDuration metric.Float64Histogram
	rollbackEntries  metric.Int64Histogram
	clustersCreated  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		simulateTotal, err = meter.Int64Counter(
			"motif_simulate_total",
			metric.WithDescription("Total number of candidate simulations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitTotal, err = meter.Int64Counter(
			"motif_commit_total",
			metric.WithDescription("Total number of committed samples"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		simulateDuration, err = meter.Float64Histogram(
			"motif_simulate_duration_seconds",
			metric.WithDescription("Duration of candidate simulations in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackEntries, err = meter.Int64Histogram(
			"motif_rollback_entries",
			metric.WithDescription("Journal entries undone per simulation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		clustersCreated, err = meter.Int64Counter(
			"motif_clusters_created_total",
			metric.WithDescription("Total number of clusters created by committed samples"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func statusOf(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// recordSimulate records one simulation.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - duration: Time spent mutating, scoring and rolling back.
//   - undone: Number of journal entries replayed by the rollback.
//   - success: Whether the simulation produced a score.
func recordSimulate(ctx context.Context, duration time.Duration, undone int, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", statusOf(success)))
	simulateTotal.Add(ctx, 1, attrs)
	simulateDuration.Record(ctx, duration.Seconds(), attrs)
	rollbackEntries.Record(ctx, int64(undone))
}

// recordCommit records one committed sample and the clusters it created.
func recordCommit(ctx context.Context, created int, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	commitTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusOf(success))))
	if created > 0 {
		clustersCreated.Add(ctx, int64(created))
	}
}
