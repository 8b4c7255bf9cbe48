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
	"cmp"
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/motif/services/motif/cluster"
	"github.com/AleutianAI/motif/services/motif/dissonance"
	"github.com/AleutianAI/motif/services/motif/stream"
)

func fixedIDs(id string) Option {
	return WithRunIDs(func() string { return id })
}

// =============================================================================
// Analyse
// =============================================================================

func TestAnalyse(t *testing.T) {
	tracker := NewTracker()
	g := New(fixedIDs("run-1"), WithReporter(tracker))

	res, err := g.Analyse(context.Background(), AnalyseRequest{Series: []float64{3, 3, 3, 3}, MergeRatio: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, []int{0, 1, 2}, res.Clusters[0].Members)
	assert.NotEmpty(t, res.Timeline)

	ev, ok := tracker.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, "done", ev.Status)
}

func TestAnalyse_Invalid(t *testing.T) {
	g := New()
	_, err := g.Analyse(context.Background(), AnalyseRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = g.Analyse(context.Background(), AnalyseRequest{Series: []float64{1}, MergeRatio: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// =============================================================================
// Single
// =============================================================================

func TestSingle(t *testing.T) {
	g := New(fixedIDs("single"))
	req := SingleRequest{
		Seed:              []float64{1, 2, 1, 2},
		ComplexityTargets: []float64{0, 1, 0.5},
		RangeMin:          0,
		RangeMax:          4,
		MergeRatio:        0.1,
	}

	res, err := g.Single(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SeedLength)
	require.Len(t, res.Series, 7)
	assert.Equal(t, req.Seed, res.Series[:4])
	for _, v := range res.Series[4:] {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 4.0)
	}
	assert.Equal(t, req.ComplexityTargets, res.ComplexityTargets)
	assert.Empty(t, res.Dissonance)
	assert.NotEmpty(t, res.Timeline)

	again, err := g.Single(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, res.Series, again.Series, "generation is deterministic")
}

func TestSingle_SingleValueRange(t *testing.T) {
	res, err := New().Single(context.Background(), SingleRequest{
		Seed:              []float64{1, 5, 1},
		ComplexityTargets: []float64{0.2, 0.9},
		RangeMin:          3,
		RangeMax:          3,
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 5, 1, 3, 3}, res.Series)
}

func TestSingle_DurationOutline(t *testing.T) {
	res, err := New().Single(context.Background(), SingleRequest{
		Seed:              []float64{0, 4, 0},
		ComplexityTargets: []float64{0.1, 0.8},
		RangeMin:          0,
		RangeMax:          4,
		Outline:           OutlineDuration,
		Duration:          DurationOutline{Ranks: []int{2, 4}, Width: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, res.Series[3:])
}

func TestSingle_DissonanceOutline(t *testing.T) {
	seed := []float64{60, 64, 67}
	req := SingleRequest{
		Seed:              seed,
		ComplexityTargets: []float64{0.5, 0.5},
		RangeMin:          58,
		RangeMax:          70,
		Outline:           OutlineDissonance,
		Dissonance:        DissonanceOutline{Ranks: []int{0, 0}, Durations: []int{1, 2, 1, 2, 1}},
	}
	res, err := New().Single(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Dissonance, 5)

	// With a zero-width window at rank 0 the least dissonant note wins.
	p := dissonance.DefaultSTMParams()
	var memory []dissonance.Event
	clock := 0.0
	for i, v := range seed {
		clock += float64(req.Dissonance.Durations[i]) * TimeUnit
		_, memory = dissonance.Process([]int{int(v)}, clock, memory, p)
	}
	for step := range req.ComplexityTargets {
		clock += float64(req.Dissonance.Durations[len(seed)+step]) * TimeUnit
		type scored struct {
			note float64
			d    float64
			mem  []dissonance.Event
		}
		var all []scored
		for _, c := range ValueRange(req.RangeMin, req.RangeMax) {
			d, mem := dissonance.Process([]int{int(c)}, clock, memory, p)
			all = append(all, scored{c, d, mem})
		}
		slices.SortStableFunc(all, func(a, b scored) int { return cmp.Compare(a.d, b.d) })

		assert.Equal(t, all[0].note, res.Series[len(seed)+step])
		assert.InDelta(t, all[0].d, res.Dissonance[len(seed)+step], 1e-12)
		memory = all[0].mem
	}
}

func TestSingle_Invalid(t *testing.T) {
	base := SingleRequest{Seed: []float64{1, 2}, ComplexityTargets: []float64{0.5}, RangeMin: 0, RangeMax: 3}
	tests := []struct {
		name   string
		mutate func(r *SingleRequest)
	}{
		{"no seed", func(r *SingleRequest) { r.Seed = nil }},
		{"no targets", func(r *SingleRequest) { r.ComplexityTargets = nil }},
		{"target above one", func(r *SingleRequest) { r.ComplexityTargets = []float64{1.5} }},
		{"inverted range", func(r *SingleRequest) { r.RangeMin, r.RangeMax = 4, 1 }},
		{"unknown outline", func(r *SingleRequest) { r.Outline = "rhythm" }},
		{"negative ratio", func(r *SingleRequest) { r.MergeRatio = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := New().Single(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSingle_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Single(ctx, SingleRequest{
		Seed:              []float64{1, 2, 3, 4},
		ComplexityTargets: []float64{0.5},
		RangeMax:          4,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Polyphonic
// =============================================================================

func activeCount(d DimensionResult) int {
	n := 0
	for _, s := range d.Pool {
		if s.Active {
			n++
		}
	}
	return n
}

func TestPolyphonic_FollowsStreamCounts(t *testing.T) {
	tracker := NewTracker()
	g := New(fixedIDs("poly"), WithReporter(tracker), WithReporter(LogReporter{}))

	res, err := g.Polyphonic(context.Background(), PolyphonicRequest{
		StreamCounts: []int{2, 3, 1},
		Dimensions: []DimensionSpec{{
			Name:   "pitch",
			Values: []float64{0, 1, 2},
			Seed:   [][]float64{{0, 1}, {1, 2}, {2, 0}},
		}},
		MergeRatio: 0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, "poly", res.RunID)
	require.Len(t, res.Dimensions, 1)

	dim := res.Dimensions[0]
	require.Len(t, dim.Steps, 3)
	for i, want := range []int{2, 3, 1} {
		assert.Len(t, dim.Steps[i], want)
		for _, v := range dim.Steps[i] {
			assert.Contains(t, []float64{0, 1, 2}, v)
		}
	}
	assert.Len(t, dim.Pool, 3)
	assert.Equal(t, 1, activeCount(dim))
	assert.NotEmpty(t, dim.Global)
	assert.Len(t, dim.Streams, 3)
	assert.Empty(t, res.Roughness)

	ev, ok := tracker.Get("poly")
	require.True(t, ok)
	assert.Equal(t, "done", ev.Status)
}

func TestPolyphonic_UnseededDimensionsPad(t *testing.T) {
	res, err := New().Polyphonic(context.Background(), PolyphonicRequest{
		StreamCounts: []int{2, 2},
		Dimensions: []DimensionSpec{
			{Name: "vol", Values: FloatSteps(3), Strength: true},
			{Name: "bri", Values: FloatSteps(3)},
		},
		StrengthTargets: []float64{1, 1},
		StrengthSpreads: []float64{0.5, 0.5},
	})
	require.NoError(t, err)
	require.Len(t, res.Dimensions, 2)
	for _, d := range res.Dimensions {
		assert.Len(t, d.Steps, 2)
		assert.Equal(t, 2, activeCount(d))
	}
}

func TestPolyphonic_Voicing(t *testing.T) {
	res, err := New().Polyphonic(context.Background(), PolyphonicRequest{
		StreamCounts: []int{2, 2},
		Dimensions: []DimensionSpec{
			{Name: "octave", Values: []float64{4, 5}, Seed: [][]float64{{4, 5}}},
			{Name: "note", Values: ValueRange(0, 5), Seed: [][]float64{{0, 4}}},
		},
		Voicing:    &VoicingSpec{Pitch: "note", Octave: "octave", Targets: []float64{0, 1}},
		MergeRatio: 0.2,
	})
	require.NoError(t, err)
	assert.Len(t, res.Roughness, 2)
	for _, r := range res.Roughness {
		assert.GreaterOrEqual(t, r, 0.0)
	}
}

func TestPolyphonic_MappingSelectsStrategy(t *testing.T) {
	ctx := context.Background()
	g := New()
	req := PolyphonicRequest{
		StreamCounts: []int{2},
		Dimensions:   []DimensionSpec{{Name: "note", Values: []float64{0, 7}, Seed: [][]float64{{0, 7}}}},
	}
	require.NoError(t, req.Validate())
	assert.Equal(t, MappingComplexity, req.Mapping)

	d, err := g.newDimensionState(ctx, req.Dimensions[0], req, mappingOptions(req.Mapping)...)
	require.NoError(t, err)
	assert.Equal(t, "complexity", d.streams.Strategy().Name())

	d, err = g.newDimensionState(ctx, req.Dimensions[0], req, mappingOptions(MappingPitchDistance)...)
	require.NoError(t, err)
	assert.Equal(t, "pitch_distance", d.streams.Strategy().Name())
}

func TestPolyphonic_PitchDistanceMapping(t *testing.T) {
	res, err := New().Polyphonic(context.Background(), PolyphonicRequest{
		StreamCounts: []int{2, 2, 3},
		Dimensions: []DimensionSpec{
			{Name: "note", Values: ValueRange(0, 4), Seed: [][]float64{{0, 4}}},
		},
		Mapping:    MappingPitchDistance,
		MergeRatio: 0.2,
	})
	require.NoError(t, err)
	require.Len(t, res.Dimensions, 1)
	assert.Len(t, res.Dimensions[0].Steps, 3)
}

func TestPolyphonic_ExternalCost(t *testing.T) {
	res, err := New().Polyphonic(context.Background(), PolyphonicRequest{
		StreamCounts: []int{2, 2},
		Dimensions: []DimensionSpec{
			{Name: "octave", Values: []float64{4, 5}, Seed: [][]float64{{4, 5}}},
			{Name: "note", Values: ValueRange(0, 5), Seed: [][]float64{{0, 4}}},
		},
		Voicing:      &VoicingSpec{Pitch: "note", Octave: "octave"},
		ExternalCost: true,
		MergeRatio:   0.2,
	})
	require.NoError(t, err)
	assert.Len(t, res.Roughness, 2)
}

func TestVoicer_CostFuncPricesPitchClasses(t *testing.T) {
	ctx := context.Background()
	g := New()
	req := PolyphonicRequest{
		StreamCounts: []int{2},
		Dimensions:   []DimensionSpec{{Name: "note", Values: []float64{0, 1, 7}, Seed: [][]float64{{0, 7}}}},
		Voicing:      &VoicingSpec{Pitch: "note"},
		ExternalCost: true,
	}
	require.NoError(t, req.Validate())

	v := newVoicer(*req.Voicing, req.Dimensions, g.stm)
	require.Equal(t, 1, v.commitSeed())
	v.onset = StepDuration

	price := v.costFunc()
	// A semitone against the remembered C and G is rougher than doubling G.
	assert.Greater(t, price([]int{1}, 0), price([]int{7}, 0))

	d, err := g.newDimensionState(ctx, req.Dimensions[0], req, stream.WithCostFunc(price))
	require.NoError(t, err)
	curLen := d.global.Len() + 1
	table, err := d.streams.PrecalculateCosts(ctx, req.Dimensions[0].Values, cluster.QuadraticWeights(0, d.width*float64(curLen), curLen))
	require.NoError(t, err)

	semitone, ok := table.Lookup(0, 1)
	require.True(t, ok)
	fifth, ok := table.Lookup(0, 7)
	require.True(t, ok)
	assert.True(t, semitone.HasExternal)
	assert.Greater(t, semitone.External, fifth.External)
}

func TestPolyphonic_Invalid(t *testing.T) {
	dims := []DimensionSpec{{Name: "a", Values: []float64{0, 1}}}
	tests := []struct {
		name string
		req  PolyphonicRequest
	}{
		{"no counts", PolyphonicRequest{Dimensions: dims}},
		{"zero voices", PolyphonicRequest{StreamCounts: []int{0}, Dimensions: dims}},
		{"no dimensions", PolyphonicRequest{StreamCounts: []int{1}}},
		{"empty values", PolyphonicRequest{StreamCounts: []int{1}, Dimensions: []DimensionSpec{{Name: "a"}}}},
		{"empty seed row", PolyphonicRequest{StreamCounts: []int{1}, Dimensions: []DimensionSpec{{Name: "a", Values: []float64{1}, Seed: [][]float64{{}}}}}},
		{"repeated name", PolyphonicRequest{StreamCounts: []int{1}, Dimensions: append(dims, dims...)}},
		{"unknown voicing", PolyphonicRequest{StreamCounts: []int{1}, Dimensions: dims, Voicing: &VoicingSpec{Pitch: "note"}}},
		{"target out of range", PolyphonicRequest{StreamCounts: []int{1}, Dimensions: []DimensionSpec{{Name: "a", Values: []float64{1}, GlobalTargets: []float64{2}}}}},
		{"unknown mapping", PolyphonicRequest{StreamCounts: []int{1}, Dimensions: dims, Mapping: "nearest"}},
		{"external cost without voicing", PolyphonicRequest{StreamCounts: []int{1}, Dimensions: dims, ExternalCost: true}},
		{"external cost with pitch distance", PolyphonicRequest{StreamCounts: []int{1}, Dimensions: dims, Voicing: &VoicingSpec{Pitch: "a"}, ExternalCost: true, Mapping: MappingPitchDistance}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Polyphonic(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestDefaults(t *testing.T) {
	dims := DefaultDimensions()
	require.Len(t, dims, 6)
	assert.Equal(t, "vol", dims[0].Name)
	assert.True(t, dims[0].Strength)
	assert.Equal(t, "note", dims[5].Name)

	req := PolyphonicRequest{StreamCounts: []int{1}, Dimensions: dims, Voicing: DefaultVoicing()}
	assert.NoError(t, req.Validate())
	assert.Equal(t, DefaultMinWindow, req.MinWindow)
}

func TestContextWithRunID(t *testing.T) {
	tracker := NewTracker()
	g := New(fixedIDs("generated"), WithReporter(tracker))

	ctx := ContextWithRunID(context.Background(), "chosen")
	res, err := g.Analyse(ctx, AnalyseRequest{Series: []float64{1, 2, 1}})
	require.NoError(t, err)
	assert.Equal(t, "chosen", res.RunID)

	res, err = g.Analyse(ContextWithRunID(context.Background(), ""), AnalyseRequest{Series: []float64{1, 2, 1}})
	require.NoError(t, err)
	assert.Equal(t, "generated", res.RunID)
}

func TestTracker_FailAndForget(t *testing.T) {
	tracker := NewTracker()
	tracker.Start("r")
	tracker.Fail("r", context.Canceled)

	ev, ok := tracker.Get("r")
	require.True(t, ok)
	assert.Equal(t, "failed", ev.Status)
	assert.Equal(t, context.Canceled.Error(), ev.Error)

	tracker.Forget("r")
	_, ok = tracker.Get("r")
	assert.False(t, ok)
}

func TestTracker_FinishedRunsExpire(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewTracker(WithRetention(time.Minute))
	tracker.now = func() time.Time { return clock }
	tracker.lastSweep = clock

	tracker.Start("running")
	tracker.Start("done")
	tracker.Done("done")
	tracker.Fail("failed", context.Canceled)

	clock = clock.Add(30 * time.Second)
	_, ok := tracker.Get("done")
	assert.True(t, ok, "inside the retention")

	clock = clock.Add(time.Minute)
	_, ok = tracker.Get("done")
	assert.False(t, ok)
	_, ok = tracker.Get("failed")
	assert.False(t, ok)
	ev, ok := tracker.Get("running")
	require.True(t, ok, "unfinished runs never expire")
	assert.Equal(t, "start", ev.Status)

	// The next write sweeps expired entries.
	tracker.Progress("running", 50)
	assert.Equal(t, 1, tracker.Len())
}
