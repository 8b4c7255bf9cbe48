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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceDistance(t *testing.T) {
	t.Run("euclidean", func(t *testing.T) {
		d, err := SequenceDistance(EuclideanMetric{}, ScalarSeries([]float64{0, 0}), ScalarSeries([]float64{3, 4}))
		require.NoError(t, err)
		assert.Equal(t, 5.0, d)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := SequenceDistance(EuclideanMetric{}, ScalarSeries([]float64{1}), ScalarSeries([]float64{1, 2}))
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("point dimension mismatch", func(t *testing.T) {
		_, err := SequenceDistance(EuclideanMetric{}, []Point{{1}}, []Point{{1, 2}})
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})
}

func TestEuclideanMetric_Scale(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"constant", []float64{3, 3, 3}, 0},
		{"two values", []float64{0, 10}, 10 * math.Sqrt2},
		{"skewed", []float64{1, 10, 1}, 9 * math.Sqrt(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EuclideanMetric{}.Scale(ScalarSeries(tt.values))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEuclideanMetric_ScaleUsesEveryDimension(t *testing.T) {
	m := EuclideanMetric{}

	// Only the second dimension varies.
	got := m.Scale([]Point{{1, 0}, {1, 10}})
	assert.InDelta(t, 10*math.Sqrt2, got, 1e-9)

	// Per-dimension spreads combine like a Euclidean norm.
	got = m.Scale([]Point{{0, 0}, {3, 4}})
	assert.InDelta(t, 5*math.Sqrt2, got, 1e-9)

	assert.Equal(t, m.Scale(ScalarSeries([]float64{1, 10, 1})), m.Scale([]Point{{1, 5}, {10, 5}, {1, 5}}))
}

func TestEuclideanMetric_Mean(t *testing.T) {
	got, err := EuclideanMetric{}.Mean([]Point{{1, 2}, {3, 6}})
	require.NoError(t, err)
	assert.Equal(t, Point{2, 4}, got)

	_, err = EuclideanMetric{}.Mean([]Point{{1}, {1, 2}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestSetMetric_StepDistance(t *testing.T) {
	raw := SetMetric{ValueWidth: 12}
	norm := SetMetric{ValueWidth: 12, MaxSetSize: 4, Normalized: true}

	tests := []struct {
		name   string
		metric SetMetric
		a, b   Point
		want   float64
	}{
		{"both empty", raw, Point{}, Point{}, 0},
		{"one empty", raw, Point{}, Point{1}, EmptySetDistance},
		{"one empty normalized", norm, Point{1}, Point{}, 1},
		{"identical", raw, Point{0, 4, 7}, Point{7, 0, 4}, 0},
		{"cardinality differs", raw, Point{0, 4}, Point{0}, 2},
		{"normalized blend", norm, Point{0, 4}, Point{0}, (1.0/12 + 0.25) / 2},
		{"normalized same size", norm, Point{0}, Point{6}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.metric.StepDistance(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestSetMetric_Mean(t *testing.T) {
	m := SetMetric{ValueWidth: 12}

	t.Run("same cardinality sorts then averages", func(t *testing.T) {
		got, err := m.Mean([]Point{{3, 1}, {2, 4}})
		require.NoError(t, err)
		assert.Equal(t, Point{1.5, 3.5}, got)
	})

	t.Run("mixed cardinality keeps last", func(t *testing.T) {
		got, err := m.Mean([]Point{{3, 1}, {2}})
		require.NoError(t, err)
		assert.Equal(t, Point{2}, got)
	})

	t.Run("does not alias input", func(t *testing.T) {
		in := Point{5}
		got, err := m.Mean([]Point{in})
		require.NoError(t, err)
		got[0] = 0
		assert.Equal(t, 5.0, in[0])
	})
}

func TestSetMetric_Scale(t *testing.T) {
	m := SetMetric{ValueWidth: 10}

	assert.Equal(t, 0.0, m.Scale(nil))
	assert.Equal(t, 0.0, m.Scale([]Point{{2}, {2}}))

	// centroid {1, 5}; the singletons are one away plus one missing slot
	got := m.Scale([]Point{{0}, {2}, {1, 5}})
	want := 2 * math.Sqrt(1+100)
	assert.InDelta(t, want, got, 1e-9)
}
