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
	"math"

	"github.com/AleutianAI/motif/services/motif/cluster"
)

// Cost is what simulating one value on one stream produced.
type Cost struct {
	Score cluster.Score `json:"score"`

	// External is the collaborator cost, valid when HasExternal is set.
	External    float64 `json:"external,omitempty"`
	HasExternal bool    `json:"has_external,omitempty"`
}

// Candidate is one (stream, value) pairing offered to a Strategy.
type Candidate struct {
	StreamIndex int
	Value       float64
	LastValue   float64

	// Cost is nil when the value was not precalculated for the stream.
	Cost *Cost
}

// Strategy prices a candidate pairing. Lower is better.
type Strategy interface {
	Name() string
	Cost(c Candidate) float64

	// NeedsCosts reports whether Cost reads Candidate.Cost.
	NeedsCosts() bool
}

// ComplexityStrategy prices a pairing by the engine distance score, or by
// the external cost when one was recorded.
type ComplexityStrategy struct{}

// Name implements Strategy.
func (ComplexityStrategy) Name() string { return "complexity" }

// NeedsCosts implements Strategy.
func (ComplexityStrategy) NeedsCosts() bool { return true }

// Cost implements Strategy.
func (ComplexityStrategy) Cost(c Candidate) float64 {
	if c.Cost == nil {
		return math.Inf(1)
	}
	if c.Cost.HasExternal {
		return c.Cost.External
	}
	return c.Cost.Score.Distance
}

// PitchDistanceStrategy prices a pairing by how far the value moves from the
// stream's last value.
type PitchDistanceStrategy struct{}

// Name implements Strategy.
func (PitchDistanceStrategy) Name() string { return "pitch_distance" }

// NeedsCosts implements Strategy.
func (PitchDistanceStrategy) NeedsCosts() bool { return false }

// Cost implements Strategy.
func (PitchDistanceStrategy) Cost(c Candidate) float64 {
	return math.Abs(c.LastValue - c.Value)
}

// CostTable holds precalculated costs indexed by active-stream position and
// candidate value.
type CostTable struct {
	values []float64
	index  map[float64]int
	costs  [][]Cost
}

// newCostTable drops repeated values, keeping first occurrences in order.
func newCostTable(streams int, values []float64) *CostTable {
	t := &CostTable{
		index: make(map[float64]int, len(values)),
		costs: make([][]Cost, streams),
	}
	for _, v := range values {
		if _, dup := t.index[v]; dup {
			continue
		}
		t.index[v] = len(t.values)
		t.values = append(t.values, v)
	}
	for s := range t.costs {
		t.costs[s] = make([]Cost, len(t.values))
	}
	return t
}

// Streams returns the number of streams the table covers.
func (t *CostTable) Streams() int {
	if t == nil {
		return 0
	}
	return len(t.costs)
}

// Values returns the candidate values the table covers.
func (t *CostTable) Values() []float64 {
	if t == nil {
		return nil
	}
	return append([]float64(nil), t.values...)
}

// Lookup returns the cost of value on the stream at position s.
func (t *CostTable) Lookup(s int, value float64) (Cost, bool) {
	if t == nil || s < 0 || s >= len(t.costs) {
		return Cost{}, false
	}
	i, ok := t.index[value]
	if !ok {
		return Cost{}, false
	}
	return t.costs[s][i], true
}
