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
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/AleutianAI/motif/services/motif/cluster"
	"github.com/AleutianAI/motif/services/motif/dissonance"
)

// Outline narrows each step's candidates before complexity selection.
type Outline string

const (
	// OutlineNone evaluates the whole range.
	OutlineNone Outline = ""

	// OutlineDissonance keeps a rank window of candidates sorted by
	// short-term-memory dissonance.
	OutlineDissonance Outline = "dissonance"

	// OutlineDuration keeps a rank window of the range itself.
	OutlineDuration Outline = "duration"
)

// TimeUnit is the onset length of one duration unit in the dissonance
// outline.
const TimeUnit = 0.125

// DissonanceOutline configures OutlineDissonance.
type DissonanceOutline struct {
	// Ranks holds the dissonance rank to aim for at each generated step.
	Ranks []int `json:"ranks" yaml:"ranks" validate:"dive,gte=0"`

	// Durations holds the duration of every step, seed steps first, in
	// TimeUnit multiples. Missing entries are 1.
	Durations []int `json:"durations" yaml:"durations" validate:"dive,gte=0"`

	Width int `json:"width" yaml:"width" validate:"gte=0"`
}

// DurationOutline configures OutlineDuration.
type DurationOutline struct {
	Ranks []int `json:"ranks" yaml:"ranks" validate:"dive,gte=0"`
	Width int   `json:"width" yaml:"width" validate:"gte=0"`
}

// SingleRequest generates one voice.
type SingleRequest struct {
	Seed              []float64 `json:"seed" yaml:"seed" validate:"required,min=1"`
	ComplexityTargets []float64 `json:"complexity_targets" yaml:"complexity_targets" validate:"required,min=1,dive,gte=0,lte=1"`
	RangeMin          int       `json:"range_min" yaml:"range_min"`
	RangeMax          int       `json:"range_max" yaml:"range_max" validate:"gtefield=RangeMin"`
	MergeRatio        float64   `json:"merge_ratio" yaml:"merge_ratio" validate:"gte=0"`
	MinWindow         int       `json:"min_window" yaml:"min_window" validate:"gte=1"`

	Outline    Outline           `json:"outline,omitempty" yaml:"outline" validate:"omitempty,oneof=dissonance duration"`
	Dissonance DissonanceOutline `json:"dissonance" yaml:"dissonance"`
	Duration   DurationOutline   `json:"duration" yaml:"duration"`
}

// Validate fills defaults and checks the request.
func (r *SingleRequest) Validate() error {
	if r.MinWindow == 0 {
		r.MinWindow = DefaultMinWindow
	}
	return validateRequest(r)
}

// SingleResult is a generated voice.
type SingleResult struct {
	RunID string `json:"run_id"`

	// Series is the seed followed by one value per target.
	Series            []float64 `json:"series"`
	SeedLength        int       `json:"seed_length"`
	ComplexityTargets []float64 `json:"complexity_targets"`

	// Dissonance holds the memory dissonance of every sample when the
	// dissonance outline is used.
	Dissonance []float64 `json:"dissonance,omitempty"`

	Timeline          []cluster.TimelineEntry `json:"timeline"`
	Clusters          []cluster.Node          `json:"clusters"`
	ProcessingSeconds float64                 `json:"processing_seconds"`
}

type rankedNote struct {
	value      float64
	dissonance float64
	memory     []dissonance.Event
}

// Single generates one value per complexity target.
//
// # Description
//
// Each step evaluates the candidate range, narrowed by the outline if one
// is set. Every candidate is simulated with position weights easing from 1
// to (max-min)·length, its distance score counts as more complex when
// larger and its quantity score as more complex when smaller. The candidate
// whose combined normalised score is closest to the target is committed.
//
// # Inputs
//
//   - ctx: Checked between steps and passed to every simulate and commit.
//   - req: The request.
//
// # Outputs
//
//   - *SingleResult: The generated series with its clustering.
//   - error: ErrInvalidRequest, an engine error or the context error.
func (g *Generator) Single(ctx context.Context, req SingleRequest) (*SingleResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	runID := g.runID(ctx)
	g.reporters.Start(runID)

	m, err := cluster.NewManager(cluster.ScalarSeries(req.Seed), req.MergeRatio, req.MinWindow, g.clusterOptions()...)
	if err != nil {
		return nil, err
	}
	if err := m.ProcessAll(ctx); err != nil {
		return nil, err
	}

	width := float64(req.RangeMax - req.RangeMin)
	seedLen := len(req.Seed)
	if err := m.UpdateCaches(cluster.QuadraticWeights(0, width*float64(seedLen), seedLen)); err != nil {
		return nil, err
	}

	res := &SingleResult{
		RunID:             runID,
		Series:            append([]float64(nil), req.Seed...),
		SeedLength:        seedLen,
		ComplexityTargets: append([]float64(nil), req.ComplexityTargets...),
	}

	stm := dissonance.DefaultSTMParams()
	var memory []dissonance.Event
	clock := 0.0
	if req.Outline == OutlineDissonance {
		for i, v := range req.Seed {
			clock += float64(at(req.Dissonance.Durations, i, 1)) * TimeUnit
			var d float64
			d, memory = dissonance.Process([]int{int(math.Round(v))}, clock, memory, stm)
			res.Dissonance = append(res.Dissonance, d)
		}
	}

	total := len(req.ComplexityTargets)
	for step, target := range req.ComplexityTargets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates := ValueRange(req.RangeMin, req.RangeMax)
		var ranked []rankedNote
		switch req.Outline {
		case OutlineDissonance:
			clock += float64(at(req.Dissonance.Durations, seedLen+step, 1)) * TimeUnit
			ranked = make([]rankedNote, len(candidates))
			for i, c := range candidates {
				d, mem := dissonance.Process([]int{int(math.Round(c))}, clock, memory, stm)
				ranked[i] = rankedNote{value: c, dissonance: d, memory: mem}
			}
			slices.SortStableFunc(ranked, func(a, b rankedNote) int { return cmp.Compare(a.dissonance, b.dissonance) })
			from, to := RankWindow(at(req.Dissonance.Ranks, step, 0), req.Dissonance.Width, len(ranked))
			ranked = ranked[from : to+1]
			candidates = make([]float64, len(ranked))
			for i, r := range ranked {
				candidates[i] = r.value
			}
		case OutlineDuration:
			from, to := RankWindow(at(req.Duration.Ranks, step, 0), req.Duration.Width, len(candidates))
			candidates = candidates[from : to+1]
		}

		curLen := m.Len() + 1
		weights := cluster.QuadraticWeights(0, width*float64(curLen), curLen)

		dist := make([]float64, len(candidates))
		qty := make([]float64, len(candidates))
		for i, c := range candidates {
			score, err := m.Simulate(ctx, cluster.Scalar(c), weights)
			if err != nil {
				return nil, fmt.Errorf("step %d candidate %v: %w", step, c, err)
			}
			dist[i], qty[i] = score.Distance, score.Quantity
		}

		idx := SelectByTarget([]Criterion{
			{ComplexWhenLarger: true, Values: dist},
			{ComplexWhenLarger: false, Values: qty},
		}, target)
		chosen := candidates[idx]

		if err := m.Commit(ctx, cluster.Scalar(chosen)); err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		if err := m.UpdateCaches(weights); err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		res.Series = append(res.Series, chosen)

		if ranked != nil {
			memory = ranked[idx].memory
			res.Dissonance = append(res.Dissonance, ranked[idx].dissonance)
		}

		g.reporters.Progress(runID, Percent(step+1, total))
		g.logger.Debug("step generated",
			slog.String("run_id", runID),
			slog.Int("step", step),
			slog.Float64("target", target),
			slog.Float64("value", chosen),
			slog.Int("candidates", len(candidates)),
		)
	}

	res.Timeline = m.Timeline()
	res.Clusters = m.Tree(false)
	res.ProcessingSeconds = time.Since(start).Seconds()
	g.reporters.Done(runID)
	return res, nil
}
