// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/motif/services/motif/cluster"
	"github.com/AleutianAI/motif/services/motif/stream"
)

func TestNormalizeScores(t *testing.T) {
	tests := []struct {
		name       string
		raw        []float64
		larger     bool
		want       []float64
		wantWeight float64
	}{
		{"spread larger", []float64{1, 2, 3}, true, []float64{0, 0.5, 1}, 1},
		{"spread smaller", []float64{1, 2, 3}, false, []float64{1, 0.5, 0}, 1},
		{"two distinct", []float64{1, 2, 2}, true, []float64{0, 0.2, 0.2}, 0.2},
		{"all equal", []float64{4, 4}, true, []float64{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, w := NormalizeScores(tt.raw, tt.larger)
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
			assert.Equal(t, tt.wantWeight, w)
		})
	}

	got, w := NormalizeScores(nil, true)
	assert.Nil(t, got)
	assert.Equal(t, 0.0, w)
}

func TestSelectByTarget(t *testing.T) {
	criteria := []Criterion{
		{ComplexWhenLarger: true, Values: []float64{0, 5, 10}},
		{ComplexWhenLarger: false, Values: []float64{3, 3, 3}},
	}
	assert.Equal(t, 0, SelectByTarget(criteria, 0))
	assert.Equal(t, 1, SelectByTarget(criteria, 0.4))
	assert.Equal(t, 2, SelectByTarget(criteria, 1))

	flat := []Criterion{{ComplexWhenLarger: true, Values: []float64{1, 1, 1}}}
	assert.Equal(t, 0, SelectByTarget(flat, 0.9), "ties go to the first candidate")

	assert.Equal(t, -1, SelectByTarget(nil, 0.5))
}

func TestTargetsFromCenterSpread(t *testing.T) {
	assert.Nil(t, TargetsFromCenterSpread(0, 0.5, 1))
	assert.Equal(t, []float64{1}, TargetsFromCenterSpread(1, 2, 0))
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, TargetsFromCenterSpread(3, 0.5, 1), 1e-12)
	assert.InDeltaSlice(t, []float64{0.7, 1}, TargetsFromCenterSpread(2, 0.9, 0.4), 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, TargetsFromCenterSpread(2, 0.5, 0), 1e-12)
}

func TestLimitedRepeatedCombinations(t *testing.T) {
	assert.Equal(t, [][]float64{{1, 1}, {1, 2}, {2, 2}}, LimitedRepeatedCombinations([]float64{2, 1}, 2, 0))
	assert.Equal(t, [][]float64{{1, 1}, {1, 2}}, LimitedRepeatedCombinations([]float64{2, 1}, 2, 2))
	assert.Equal(t, [][]float64{{1}, {2}}, LimitedRepeatedCombinations([]float64{1, 2}, 1, 0))
	assert.Len(t, LimitedRepeatedCombinations(ValueRange(0, 11), 2, 0), 78)
	assert.Nil(t, LimitedRepeatedCombinations([]float64{1}, 0, 0))
	assert.Nil(t, LimitedRepeatedCombinations(nil, 2, 0))
}

func TestRankWindow(t *testing.T) {
	tests := []struct {
		rank, width, size int
		from, to          int
	}{
		{0, 2, 10, 0, 2},
		{9, 2, 10, 7, 9},
		{2, 1, 5, 1, 3},
		{20, 0, 5, 4, 4},
	}
	for _, tt := range tests {
		from, to := RankWindow(tt.rank, tt.width, tt.size)
		assert.Equal(t, tt.from, from)
		assert.Equal(t, tt.to, to)
	}
}

func TestRanges(t *testing.T) {
	assert.Equal(t, []float64{2, 3, 4}, ValueRange(2, 4))
	assert.Nil(t, ValueRange(4, 2))

	steps := FloatSteps(11)
	assert.Len(t, steps, 11)
	assert.Equal(t, 0.3, steps[3])
	assert.Equal(t, 1.0, steps[10])
	assert.Equal(t, []float64{0}, FloatSteps(1))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 100, Percent(3, 3))
	assert.Equal(t, 100, Percent(0, 0))
}

func TestPadHistory(t *testing.T) {
	assert.Equal(t, [][]float64{{7, 7}, {7, 7}, {7, 7}}, padHistory(nil, 3, 2, 7))

	seed := [][]float64{{1, 2}}
	got := padHistory(seed, 3, 5, 0)
	assert.Equal(t, [][]float64{{1, 2}, {1, 2}, {1, 2}}, got)
	got[0][0] = 9
	assert.Equal(t, 1.0, seed[0][0])

	long := [][]float64{{1}, {2}, {3}, {4}}
	assert.Equal(t, long, padHistory(long, 3, 1, 0))
}

func TestSelectChord(t *testing.T) {
	metrics := []candidateMetrics{
		{score: cluster.Score{Distance: 0}, discord: 0},
		{score: cluster.Score{Distance: 1}, discord: 1},
		{score: cluster.Score{Distance: 2}, discord: 0},
	}
	assert.Equal(t, 1, selectChord(metrics, 0.25, nil, -1, nil))
	assert.Equal(t, 0, selectChord(metrics, 0.25, nil, 1, nil))

	withStreams := []candidateMetrics{
		{costs: []stream.Cost{{Score: cluster.Score{Distance: 0.9}}}},
		{costs: []stream.Cost{{Score: cluster.Score{Distance: 5}}}},
		{costs: []stream.Cost{{Score: cluster.Score{Distance: 0.1}}}},
	}
	assert.Equal(t, 1, selectChord(withStreams, 0.5, []float64{1}, -1, nil), "distances clamp to one")

	pitch := &pitchContext{target: 1}
	rough := []candidateMetrics{{roughness: 3}, {roughness: 1}, {roughness: 2}}
	assert.Equal(t, 0, selectChord(rough, 0.5, nil, -1, pitch))
	pitch.target = 0
	assert.Equal(t, 1, selectChord(rough, 0.5, nil, -1, pitch))
}
