// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Stream Pool
// =============================================================================

var (
	// streamsSpawned counts streams cloned from a parent to absorb extra values.
	streamsSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "motif",
		Subsystem: "stream",
		Name:      "spawned_total",
		Help:      "Total streams spawned by cloning a parent",
	})

	// streamsRetired counts streams made permanently inactive.
	streamsRetired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "motif",
		Subsystem: "stream",
		Name:      "retired_total",
		Help:      "Total streams retired",
	})

	// activeGauge reports the active stream count after the latest commit.
	activeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "motif",
		Subsystem: "stream",
		Name:      "active",
		Help:      "Active streams after the latest commit",
	})

	// poolGauge reports the pool size, retired streams included.
	poolGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "motif",
		Subsystem: "stream",
		Name:      "pool_size",
		Help:      "Streams in the pool after the latest commit",
	})

	// resolveDuration measures candidate-to-stream assignment latency.
	// Labels: strategy, shape (equal, spawn, retire, empty)
	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "motif",
		Subsystem: "stream",
		Name:      "resolve_duration_seconds",
		Help:      "Time to resolve a candidate set onto streams",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"strategy", "shape"})

	// costDuration measures cost precalculation across all active streams.
	costDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "motif",
		Subsystem: "stream",
		Name:      "precalculate_duration_seconds",
		Help:      "Time to simulate every candidate on every active stream",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)
