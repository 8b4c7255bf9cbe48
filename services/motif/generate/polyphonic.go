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
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/AleutianAI/motif/services/motif/cluster"
	"github.com/AleutianAI/motif/services/motif/dissonance"
	"github.com/AleutianAI/motif/services/motif/stream"
)

// Polyphonic defaults.
const (
	// DefaultMaxCandidates caps candidate chords per dimension and step.
	DefaultMaxCandidates = 2000

	// MaxSetSize bounds the cardinality term of the global set metric.
	MaxSetSize = 8

	// StepDuration is the onset length of one polyphonic step.
	StepDuration = 0.25

	// DefaultOctave and DefaultVolume voice pitch classes when the request
	// has no octave or volume dimension.
	DefaultOctave = 4
	DefaultVolume = 1.0
)

// DimensionSpec is one generated attribute of every voice.
type DimensionSpec struct {
	Name   string    `json:"name" yaml:"name" validate:"required"`
	Values []float64 `json:"values" yaml:"values" validate:"required,min=1"`

	// Seed rows are steps and columns are voices. Ragged rows carry values
	// forward.
	Seed [][]float64 `json:"seed,omitempty" yaml:"seed" validate:"dive,min=1"`

	// Per-step targets. Missing entries default to global 0.5, center
	// 0.5, spread 0 and concordance -1 (disabled).
	GlobalTargets      []float64 `json:"global_targets,omitempty" yaml:"global_targets" validate:"dive,gte=0,lte=1"`
	Centers            []float64 `json:"centers,omitempty" yaml:"centers" validate:"dive,gte=0,lte=1"`
	Spreads            []float64 `json:"spreads,omitempty" yaml:"spreads" validate:"dive,gte=0,lte=1"`
	ConcordanceWeights []float64 `json:"concordance_weights,omitempty" yaml:"concordance_weights"`

	// Strength steers spawning and retiring by stream strength.
	Strength bool `json:"strength,omitempty" yaml:"strength"`
}

// VoicingSpec names the dimensions that voice pitch classes for the
// dissonance term.
type VoicingSpec struct {
	Pitch  string `json:"pitch" yaml:"pitch" validate:"required"`
	Octave string `json:"octave,omitempty" yaml:"octave"`
	Volume string `json:"volume,omitempty" yaml:"volume"`

	// Targets are per-step dissonance targets in [0,1], default 0.5.
	Targets []float64 `json:"targets,omitempty" yaml:"targets" validate:"dive,gte=0,lte=1"`
}

// PolyphonicRequest generates several dimensions of several voices.
type PolyphonicRequest struct {
	// StreamCounts holds the voice count of every generated step.
	StreamCounts []int           `json:"stream_counts" yaml:"stream_counts" validate:"required,min=1,dive,gte=1"`
	Dimensions   []DimensionSpec `json:"dimensions" yaml:"dimensions" validate:"required,min=1,dive"`

	StrengthTargets []float64 `json:"strength_targets,omitempty" yaml:"strength_targets" validate:"dive,gte=0,lte=1"`
	StrengthSpreads []float64 `json:"strength_spreads,omitempty" yaml:"strength_spreads" validate:"dive,gte=0,lte=1"`

	MergeRatio float64 `json:"merge_ratio" yaml:"merge_ratio" validate:"gte=0"`
	MinWindow  int     `json:"min_window" yaml:"min_window" validate:"gte=1"`

	Voicing *VoicingSpec `json:"voicing,omitempty" yaml:"voicing"`

	// Mapping picks how chords are mapped onto streams: "complexity"
	// (default) or "pitch_distance".
	Mapping string `json:"mapping,omitempty" yaml:"mapping" validate:"omitempty,oneof=complexity pitch_distance"`

	// ExternalCost maps the pitch dimension by memory roughness instead
	// of stream complexity. It needs voicing and the complexity mapping.
	ExternalCost bool `json:"external_cost,omitempty" yaml:"external_cost"`
}

// Mapping strategy names.
const (
	MappingComplexity    = "complexity"
	MappingPitchDistance = "pitch_distance"
)

// Validate fills defaults and checks the request.
func (r *PolyphonicRequest) Validate() error {
	if r.MinWindow == 0 {
		r.MinWindow = DefaultMinWindow
	}
	if r.Mapping == "" {
		r.Mapping = MappingComplexity
	}
	if err := validateRequest(r); err != nil {
		return err
	}
	if r.ExternalCost {
		if r.Voicing == nil {
			return fmt.Errorf("%w: external_cost needs voicing", ErrInvalidRequest)
		}
		if r.Mapping != MappingComplexity {
			return fmt.Errorf("%w: external_cost needs the %s mapping", ErrInvalidRequest, MappingComplexity)
		}
	}
	names := make(map[string]bool, len(r.Dimensions))
	for _, d := range r.Dimensions {
		if names[d.Name] {
			return fmt.Errorf("%w: dimension %q repeated", ErrInvalidRequest, d.Name)
		}
		names[d.Name] = true
	}
	if v := r.Voicing; v != nil {
		for _, name := range []string{v.Pitch, v.Octave, v.Volume} {
			if name != "" && !names[name] {
				return fmt.Errorf("%w: voicing names unknown dimension %q", ErrInvalidRequest, name)
			}
		}
	}
	return nil
}

// DefaultDimensions returns volume, octave, brightness, hardness, texture
// and pitch class, in that order. Volume is strength-steered.
func DefaultDimensions() []DimensionSpec {
	steps := FloatSteps(11)
	return []DimensionSpec{
		{Name: "vol", Values: steps, Strength: true},
		{Name: "octave", Values: ValueRange(0, 7)},
		{Name: "bri", Values: steps},
		{Name: "hrd", Values: steps},
		{Name: "tex", Values: steps},
		{Name: "note", Values: ValueRange(0, 11)},
	}
}

// DefaultVoicing voices the note dimension with octave and vol.
func DefaultVoicing() *VoicingSpec {
	return &VoicingSpec{Pitch: "note", Octave: "octave", Volume: "vol"}
}

// DimensionResult is one generated dimension.
type DimensionResult struct {
	Name string `json:"name"`

	// Steps holds the chosen values of every generated step, in stream
	// order of the assignment.
	Steps   [][]float64                     `json:"steps"`
	Global  []cluster.TimelineEntry         `json:"global"`
	Streams map[int][]cluster.TimelineEntry `json:"streams"`
	Pool    []stream.StreamInfo             `json:"pool"`
}

// PolyphonicResult is a polyphonic generation.
type PolyphonicResult struct {
	RunID      string            `json:"run_id"`
	Dimensions []DimensionResult `json:"dimensions"`

	// Roughness holds the memory dissonance of every generated step when
	// voicing is configured.
	Roughness         []float64 `json:"roughness,omitempty"`
	ProcessingSeconds float64   `json:"processing_seconds"`
}

// dimensionState is the engine state of one dimension.
type dimensionState struct {
	spec    DimensionSpec
	width   float64
	global  *cluster.Manager
	streams *stream.Manager
	steps   [][]float64
}

// candidateMetrics is what evaluating one candidate chord produced.
type candidateMetrics struct {
	assignment stream.Assignment
	costs      []stream.Cost
	score      cluster.Score
	discord    float64
	roughness  float64
}

// Polyphonic generates len(req.StreamCounts) steps.
//
// # Description
//
// For every step the dimensions are decided in request order. For each
// dimension, every repeated combination of its values (capped) is mapped
// onto the stream pool and simulated on the global set manager. A chord's
// cost is
//
//	|global complexity - global target|
//	+ mean |clamp(stream distance) - stream target|
//	+ concordance weight · value spread (when the weight is non-negative)
//	+ |normalised roughness - dissonance target| (pitch dimension only)
//
// and the first cheapest chord is committed to the global manager and the
// pool, spawning or retiring streams to match the step's voice count.
//
// # Inputs
//
//   - ctx: Checked between dimensions and passed to the engines.
//   - req: The request.
//
// # Outputs
//
//   - *PolyphonicResult: Chosen values and the clustering of every
//     dimension.
//   - error: ErrInvalidRequest, an engine error or the context error.
func (g *Generator) Polyphonic(ctx context.Context, req PolyphonicRequest) (*PolyphonicResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	runID := g.runID(ctx)
	g.reporters.Start(runID)

	var voicing *voicer
	seedSteps := 0
	if req.Voicing != nil {
		voicing = newVoicer(*req.Voicing, req.Dimensions, g.stm)
		seedSteps = voicing.commitSeed()
	}

	dims := make([]*dimensionState, len(req.Dimensions))
	for i, spec := range req.Dimensions {
		opts := mappingOptions(req.Mapping)
		if req.ExternalCost && spec.Name == voicing.spec.Pitch {
			opts = append(opts, stream.WithCostFunc(voicing.costFunc()))
		}
		d, err := g.newDimensionState(ctx, spec, req, opts...)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", spec.Name, err)
		}
		dims[i] = d
	}

	res := &PolyphonicResult{RunID: runID}
	total := len(req.StreamCounts)
	for step, n := range req.StreamCounts {
		onset := float64(seedSteps+step) * StepDuration
		if voicing != nil {
			voicing.onset = onset
		}
		decisions := make(map[string][]float64, len(dims))

		for _, d := range dims {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var pitch *pitchContext
			if voicing != nil && d.spec.Name == voicing.spec.Pitch {
				pitch = &pitchContext{voice: voicing, decisions: decisions, onset: onset, target: at(voicing.spec.Targets, step, 0.5)}
			}
			chosen, rough, err := g.stepDimension(ctx, d, step, n, req, pitch)
			if err != nil {
				return nil, fmt.Errorf("step %d dimension %q: %w", step, d.spec.Name, err)
			}
			decisions[d.spec.Name] = chosen
			if pitch != nil {
				res.Roughness = append(res.Roughness, rough)
			}
		}

		g.reporters.Progress(runID, Percent(step+1, total))
		g.logger.Debug("polyphonic step generated",
			slog.String("run_id", runID),
			slog.Int("step", step),
			slog.Int("streams", n),
		)
	}

	for _, d := range dims {
		res.Dimensions = append(res.Dimensions, DimensionResult{
			Name:    d.spec.Name,
			Steps:   d.steps,
			Global:  d.global.Timeline(),
			Streams: d.streams.Timelines(),
			Pool:    d.streams.Pool(),
		})
	}
	res.ProcessingSeconds = time.Since(start).Seconds()
	g.reporters.Done(runID)
	return res, nil
}

// mappingOptions selects the stream mapping strategy by name.
func mappingOptions(name string) []stream.Option {
	if name == MappingPitchDistance {
		return []stream.Option{stream.WithStrategy(stream.PitchDistanceStrategy{})}
	}
	return nil
}

func (g *Generator) newDimensionState(ctx context.Context, spec DimensionSpec, req PolyphonicRequest, opts ...stream.Option) (*dimensionState, error) {
	lo, hi := slices.Min(spec.Values), slices.Max(spec.Values)
	width := hi - lo
	if width == 0 {
		width = 1
	}
	history := padHistory(spec.Seed, req.MinWindow+1, req.StreamCounts[0], spec.Values[0])

	metric := cluster.NewSetMetric(lo, hi, MaxSetSize, true)
	global, err := cluster.NewManager(cluster.SetSeries(history), req.MergeRatio, req.MinWindow,
		g.clusterOptions(cluster.WithMetric(metric))...)
	if err != nil {
		return nil, err
	}
	if err := global.ProcessAll(ctx); err != nil {
		return nil, err
	}
	if err := global.UpdateCaches(cluster.QuadraticWeights(0, width*float64(len(history)), len(history))); err != nil {
		return nil, err
	}

	streams, err := stream.NewManager(history, req.MergeRatio, req.MinWindow, append([]stream.Option{
		stream.WithLogger(g.logger.With("dimension", spec.Name)),
		stream.WithClusterOptions(g.clusterOpts...),
		stream.WithMaxPermutationSize(g.maxPermutation),
	}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &dimensionState{spec: spec, width: width, global: global, streams: streams}, nil
}

// padHistory repeats the last row, or a row of def values, until the
// history holds at least minLen rows.
func padHistory(seed [][]float64, minLen, streams int, def float64) [][]float64 {
	history := make([][]float64, 0, max(len(seed), minLen))
	for _, row := range seed {
		history = append(history, slices.Clone(row))
	}
	var last []float64
	if len(history) > 0 {
		last = history[len(history)-1]
	} else {
		last = make([]float64, max(streams, 1))
		for i := range last {
			last[i] = def
		}
	}
	for len(history) < minLen {
		history = append(history, slices.Clone(last))
	}
	return history
}

func (g *Generator) stepDimension(ctx context.Context, d *dimensionState, step, n int, req PolyphonicRequest, pitch *pitchContext) ([]float64, float64, error) {
	spec := d.spec
	globalTarget := at(spec.GlobalTargets, step, 0.5)
	streamTargets := TargetsFromCenterSpread(n, at(spec.Centers, step, 0.5), at(spec.Spreads, step, 0))
	concordance := at(spec.ConcordanceWeights, step, -1)

	curLen := d.global.Len() + 1
	weights := cluster.QuadraticWeights(0, d.width*float64(curLen), curLen)

	table, err := d.streams.PrecalculateCosts(ctx, spec.Values, weights)
	if err != nil {
		return nil, 0, err
	}
	if spec.Strength {
		d.streams.UpdateStrengths()
	}

	chords := LimitedRepeatedCombinations(spec.Values, n, g.maxCandidates)
	metrics := make([]candidateMetrics, len(chords))
	for i, chord := range chords {
		a, costs, err := d.streams.ResolveMapping(chord, table)
		if err != nil {
			return nil, 0, err
		}
		ordered := a.Values()
		score, err := d.global.Simulate(ctx, cluster.Point(ordered), weights)
		if err != nil {
			return nil, 0, err
		}
		metrics[i] = candidateMetrics{
			assignment: a,
			costs:      costs,
			score:      score,
			discord:    (slices.Max(ordered) - slices.Min(ordered)) / d.width,
		}
		if pitch != nil {
			metrics[i].roughness = pitch.evaluate(ordered)
		}
	}

	best := selectChord(metrics, globalTarget, streamTargets, concordance, pitch)
	chosen := metrics[best]
	ordered := chosen.assignment.Values()

	if err := d.global.Commit(ctx, cluster.Point(ordered)); err != nil {
		return nil, 0, err
	}
	if err := d.global.UpdateCaches(weights); err != nil {
		return nil, 0, err
	}
	var opts []stream.CommitOption
	if spec.Strength {
		opts = append(opts, stream.WithStrength(at(req.StrengthTargets, step, 0.5), at(req.StrengthSpreads, step, 0)))
	}
	if err := d.streams.Commit(ctx, chosen.assignment, weights, opts...); err != nil {
		return nil, 0, err
	}
	if pitch != nil {
		pitch.commit(ordered)
	}

	d.steps = append(d.steps, ordered)
	return ordered, chosen.roughness, nil
}

// selectChord returns the index of the first cheapest candidate.
func selectChord(metrics []candidateMetrics, globalTarget float64, streamTargets []float64, concordance float64, pitch *pitchContext) int {
	dist := make([]float64, len(metrics))
	qty := make([]float64, len(metrics))
	rough := make([]float64, len(metrics))
	for i, m := range metrics {
		dist[i], qty[i], rough[i] = m.score.Distance, m.score.Quantity, m.roughness
	}
	gd, _ := NormalizeScores(dist, true)
	gq, _ := NormalizeScores(qty, false)

	roughLo, roughSpan := 0.0, 1.0
	if pitch != nil && len(rough) > 0 {
		roughLo = slices.Min(rough)
		if span := slices.Max(rough) - roughLo; span != 0 {
			roughSpan = span
		}
	}

	best, bestCost := 0, math.Inf(1)
	for i, m := range metrics {
		cost := math.Abs((gd[i]+gq[i])/2 - globalTarget)

		if len(streamTargets) > 0 {
			gap := 0.0
			for s, c := range m.costs {
				if s >= len(streamTargets) {
					break
				}
				gap += math.Abs(clamp01(c.Score.Distance) - streamTargets[s])
			}
			cost += gap / float64(len(streamTargets))
		}

		if concordance >= 0 {
			cost += m.discord * concordance
		}

		if pitch != nil {
			cost += math.Abs((m.roughness-roughLo)/roughSpan - pitch.target)
		}

		if cost < bestCost {
			best, bestCost = i, cost
		}
	}
	return best
}

// voicer keeps the short-term dissonance memory of a polyphonic run.
type voicer struct {
	spec VoicingSpec
	stm  *dissonance.STM
	dims map[string]DimensionSpec

	// onset of the step being generated.
	onset float64
}

func newVoicer(spec VoicingSpec, dims []DimensionSpec, cfg dissonance.STMConfig) *voicer {
	v := &voicer{
		spec: spec,
		stm:  dissonance.NewSTM(cfg),
		dims: make(map[string]DimensionSpec, len(dims)),
	}
	for _, d := range dims {
		v.dims[d.Name] = d
	}
	return v
}

// commitSeed remembers every seed step and returns how many there were.
func (v *voicer) commitSeed() int {
	pitchSeed := v.dims[v.spec.Pitch].Seed
	for i, row := range pitchSeed {
		octaves := v.seedRow(v.spec.Octave, i, len(row), DefaultOctave)
		vols := v.seedRow(v.spec.Volume, i, len(row), DefaultVolume)
		notes, amps := voicePitches(row, octaves, vols)
		v.stm.Commit(notes, amps, float64(i)*StepDuration)
	}
	return len(pitchSeed)
}

// costFunc prices lone pitch classes, sounded in DefaultOctave, against
// the memory at the onset of the current step. The stream timestamp is
// ignored since streams count steps rather than onsets.
func (v *voicer) costFunc() dissonance.CostFunc {
	base := v.stm.CostFunc()
	return func(notes []int, _ float64) float64 {
		voiced := make([]int, len(notes))
		for i, pc := range notes {
			voiced[i] = dissonance.BaseCMidi(DefaultOctave) + pc
		}
		return base(voiced, v.onset)
	}
}

func (v *voicer) seedRow(name string, i, n int, def float64) []float64 {
	var row []float64
	if d, ok := v.dims[name]; ok && i < len(d.Seed) {
		row = d.Seed[i]
	}
	return fill(row, n, def)
}

// pitchContext evaluates pitch-class chords against the decisions already
// taken in the current step.
type pitchContext struct {
	voice     *voicer
	decisions map[string][]float64
	onset     float64
	target    float64
}

func (p *pitchContext) voiced(pitches []float64) ([]int, []float64) {
	octaves := fill(p.decisions[p.voice.spec.Octave], len(pitches), DefaultOctave)
	vols := fill(p.decisions[p.voice.spec.Volume], len(pitches), DefaultVolume)
	return voicePitches(pitches, octaves, vols)
}

func (p *pitchContext) evaluate(pitches []float64) float64 {
	notes, amps := p.voiced(pitches)
	return p.voice.stm.Evaluate(notes, amps, p.onset)
}

func (p *pitchContext) commit(pitches []float64) {
	notes, amps := p.voiced(pitches)
	p.voice.stm.Commit(notes, amps, p.onset)
}

// voicePitches places one pitch class per stream in its octave.
func voicePitches(pitches, octaves, vols []float64) ([]int, []float64) {
	octs := make([]int, len(pitches))
	chords := make([][]int, len(pitches))
	for i, pc := range pitches {
		octs[i] = int(math.Round(at(octaves, i, DefaultOctave)))
		chords[i] = []int{int(math.Round(pc))}
	}
	return dissonance.VoiceChords(octs, vols, chords)
}

// fill pads or trims row to n values, using def for missing ones.
func fill(row []float64, n int, def float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = at(row, i, def)
	}
	return out
}
