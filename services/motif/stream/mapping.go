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
	"fmt"
	"log/slog"
	"math"
	"time"
)

// NewStream marks a Pair whose value needs a new stream.
const NewStream = -1

// Pair binds one candidate value to an active stream position.
type Pair struct {
	// StreamIndex is the active-stream position, or NewStream.
	StreamIndex int     `json:"stream_index"`
	Value       float64 `json:"value"`

	// ParentIndex is the stream a new stream clones, or NewStream for
	// pairs bound to an existing stream.
	ParentIndex int `json:"parent_index"`

	// Cost is the strategy cost of the pairing, or of the parent pairing
	// for NewStream pairs.
	Cost float64 `json:"cost"`
}

// Assignment is a resolved candidate set.
type Assignment struct {
	Pairs []Pair `json:"pairs"`

	// Streams is the active stream count the assignment was resolved
	// against.
	Streams int `json:"streams"`
}

// Values returns the candidate values in pair order.
func (a Assignment) Values() []float64 {
	out := make([]float64, len(a.Pairs))
	for i, p := range a.Pairs {
		out[i] = p.Value
	}
	return out
}

// Total sums the pair costs.
func (a Assignment) Total() float64 {
	total := 0.0
	for _, p := range a.Pairs {
		total += p.Cost
	}
	return total
}

// ResolveMapping decides which active stream receives each candidate.
//
// # Description
//
// With N candidates and S active streams:
//
//   - N == S: every permutation is tried in lexicographic order and the
//     first strictly cheapest wins. Above the permutation limit the greedy
//     rule below is used instead.
//   - N > S: each stream in order takes its cheapest remaining candidate.
//     Leftovers become NewStream pairs whose parent is the stream with the
//     lowest cost for that value.
//   - N < S: each candidate in order takes the cheapest unassigned stream.
//   - N == 0 or S == 0: an empty assignment.
//
// Ties always go to the earliest index.
//
// # Inputs
//
//   - candidates: Simultaneous values.
//   - table: Costs from PrecalculateCosts. May be nil when the strategy
//     does not need costs.
//
// # Outputs
//
//   - Assignment: The pairs and the stream count they were resolved against.
//   - []Cost: The precalculated cost behind each pair, zero when absent.
//   - error: ErrMissingCost when the strategy needs a cost the table lacks.
func (m *Manager) ResolveMapping(candidates []float64, table *CostTable) (Assignment, []Cost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	actives := m.activeLocked()
	n, s := len(candidates), len(actives)
	if n == 0 || s == 0 {
		resolveDuration.WithLabelValues(m.strategy.Name(), "empty").Observe(time.Since(start).Seconds())
		return Assignment{Streams: s}, nil, nil
	}

	costs, raw, err := m.costMatrix(actives, candidates, table)
	if err != nil {
		return Assignment{}, nil, err
	}

	var pairs []pairing
	var shape string
	switch {
	case n == s && n <= m.maxPerm:
		shape = "equal"
		pairs = bestPermutation(costs)
	case n >= s:
		shape = "spawn"
		if n == s {
			shape = "equal"
			m.logger.Warn("permutation search skipped",
				slog.Int("candidates", n),
				slog.Int("limit", m.maxPerm),
			)
		}
		pairs = greedyByStream(costs, n)
	default:
		shape = "retire"
		pairs = greedyByCandidate(costs, n)
	}

	out := make([]Cost, len(pairs))
	for i := range pairs {
		ci := pairs[i].candidateIndex
		pairs[i].Value = candidates[ci]
		st := pairs[i].StreamIndex
		if st == NewStream {
			st = pairs[i].ParentIndex
		}
		out[i] = raw[st][ci]
	}

	resolveDuration.WithLabelValues(m.strategy.Name(), shape).Observe(time.Since(start).Seconds())
	return Assignment{Pairs: publicPairs(pairs), Streams: s}, out, nil
}

// costMatrix prices every pairing as costs[stream][candidate].
func (m *Manager) costMatrix(actives []*Container, candidates []float64, table *CostTable) ([][]float64, [][]Cost, error) {
	needs := m.strategy.NeedsCosts()
	costs := make([][]float64, len(actives))
	raw := make([][]Cost, len(actives))
	for s, c := range actives {
		costs[s] = make([]float64, len(candidates))
		raw[s] = make([]Cost, len(candidates))
		for ci, v := range candidates {
			cand := Candidate{StreamIndex: s, Value: v, LastValue: c.LastValue}
			if cost, ok := table.Lookup(s, v); ok {
				raw[s][ci] = cost
				cand.Cost = &raw[s][ci]
			} else if needs {
				return nil, nil, fmt.Errorf("stream %d value %v: %w", c.ID, v, ErrMissingCost)
			}
			costs[s][ci] = m.strategy.Cost(cand)
		}
	}
	return costs, raw, nil
}

type pairing struct {
	Pair
	candidateIndex int
}

func publicPairs(in []pairing) []Pair {
	out := make([]Pair, len(in))
	for i, p := range in {
		out[i] = p.Pair
	}
	return out
}

// bestPermutation assigns candidate perm[s] to stream s for the cheapest
// permutation of a square matrix.
func bestPermutation(costs [][]float64) []pairing {
	n := len(costs)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	best := append([]int(nil), perm...)
	bestCost := math.Inf(1)
	for {
		total := 0.0
		for s, ci := range perm {
			total += costs[s][ci]
		}
		if total < bestCost {
			bestCost = total
			copy(best, perm)
		}
		if !nextPermutation(perm) {
			break
		}
	}

	out := make([]pairing, n)
	for s, ci := range best {
		out[s] = pairing{Pair: Pair{StreamIndex: s, ParentIndex: NewStream, Cost: costs[s][ci]}, candidateIndex: ci}
	}
	return out
}

// nextPermutation advances p to its lexicographic successor and reports
// whether one existed.
func nextPermutation(p []int) bool {
	i := len(p) - 2
	for i >= 0 && p[i] >= p[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(p) - 1
	for p[j] <= p[i] {
		j--
	}
	p[i], p[j] = p[j], p[i]
	for l, r := i+1, len(p)-1; l < r; l, r = l+1, r-1 {
		p[l], p[r] = p[r], p[l]
	}
	return true
}

// greedyByStream lets each stream take its cheapest remaining candidate and
// parents every leftover on its cheapest stream.
func greedyByStream(costs [][]float64, n int) []pairing {
	taken := make([]bool, n)
	out := make([]pairing, 0, n)
	for s := range costs {
		best := -1
		for ci := 0; ci < n; ci++ {
			if taken[ci] {
				continue
			}
			if best < 0 || costs[s][ci] < costs[s][best] {
				best = ci
			}
		}
		taken[best] = true
		out = append(out, pairing{Pair: Pair{StreamIndex: s, ParentIndex: NewStream, Cost: costs[s][best]}, candidateIndex: best})
	}
	for ci := 0; ci < n; ci++ {
		if taken[ci] {
			continue
		}
		parent := 0
		for s := 1; s < len(costs); s++ {
			if costs[s][ci] < costs[parent][ci] {
				parent = s
			}
		}
		out = append(out, pairing{Pair: Pair{StreamIndex: NewStream, ParentIndex: parent, Cost: costs[parent][ci]}, candidateIndex: ci})
	}
	return out
}

// greedyByCandidate lets each candidate take its cheapest unassigned stream.
func greedyByCandidate(costs [][]float64, n int) []pairing {
	used := make([]bool, len(costs))
	out := make([]pairing, 0, n)
	for ci := 0; ci < n; ci++ {
		best := -1
		for s := range costs {
			if used[s] {
				continue
			}
			if best < 0 || costs[s][ci] < costs[best][ci] {
				best = s
			}
		}
		used[best] = true
		out = append(out, pairing{Pair: Pair{StreamIndex: best, ParentIndex: NewStream, Cost: costs[best][ci]}, candidateIndex: ci})
	}
	return out
}
