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
	"maps"
	"math"
	"slices"
)

// Score is the outcome of simulating one candidate.
type Score struct {
	// Distance sums centroid distances between updated clusters and their
	// same-window peers, divided by the window length.
	Distance float64 `json:"distance"`

	// Quantity sums, over updated clusters with more than one member, the
	// product of the position weights of their members.
	Quantity float64 `json:"quantity"`
}

// pairKey is an unordered cluster pair with A <= B.
type pairKey struct {
	A, B ClusterID
}

func makePair(a, b ClusterID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{A: a, B: b}
}

// caches hold per-window centroid distances and member-weight products.
type caches struct {
	distance map[int]map[pairKey]float64
	quantity map[int]map[ClusterID]float64
}

func newCaches() caches {
	return caches{
		distance: make(map[int]map[pairKey]float64),
		quantity: make(map[int]map[ClusterID]float64),
	}
}

func (c caches) clone() caches {
	out := newCaches()
	for w, slot := range c.distance {
		out.distance[w] = maps.Clone(slot)
	}
	for w, slot := range c.quantity {
		out.quantity[w] = maps.Clone(slot)
	}
	return out
}

// updateSet tracks clusters changed since the last cache refresh, keyed by
// window length.
type updateSet map[int]map[ClusterID]struct{}

func newUpdateSet() updateSet {
	return make(updateSet)
}

func (u updateSet) mark(window int, id ClusterID) {
	slot, ok := u[window]
	if !ok {
		slot = make(map[ClusterID]struct{})
		u[window] = slot
	}
	slot[id] = struct{}{}
}

func (u updateSet) windows() []int {
	return slices.Sorted(maps.Keys(u))
}

func (u updateSet) ids(window int) []ClusterID {
	return slices.Sorted(maps.Keys(u[window]))
}

func (u updateSet) clone() updateSet {
	out := make(updateSet, len(u))
	for w, slot := range u {
		out[w] = maps.Clone(slot)
	}
	return out
}

// weightAt returns the position weight for a start index. Indices past the
// end reuse the last weight; no weights means 1.
func weightAt(weights []int, start int) float64 {
	switch {
	case len(weights) == 0:
		return 1
	case start < len(weights):
		return float64(weights[start])
	default:
		return float64(weights[len(weights)-1])
	}
}

// memberProduct multiplies member weights, saturating at MaxFloat64.
func memberProduct(members []int, weights []int) float64 {
	p := 1.0
	for _, s := range members {
		p *= weightAt(weights, s)
		if math.IsInf(p, 0) {
			return math.MaxFloat64
		}
	}
	return p
}

// refreshCaches recomputes cache slots for every cluster in the update set.
// Writes are journaled when a transaction is open.
func (m *Manager) refreshCaches(weights []int) error {
	for _, w := range m.updated.windows() {
		peers := m.forest.byDepth[w]
		for _, id := range m.updated.ids(w) {
			c := m.forest.clusters[id]
			for _, other := range peers {
				if other == id {
					continue
				}
				d, err := SequenceDistance(m.metric, c.Centroid, m.forest.clusters[other].Centroid)
				if err != nil {
					return err
				}
				m.writeDistance(w, makePair(id, other), d)
			}
			if len(c.Members) > 1 {
				m.writeQuantity(w, id, memberProduct(c.Members, weights))
			}
		}
	}
	return nil
}

// updatedScore reads the cache slots touched by the update set.
func (m *Manager) updatedScore() Score {
	var score Score
	for _, w := range m.updated.windows() {
		peers := m.forest.byDepth[w]
		seen := make(map[pairKey]struct{})
		pairSum := 0.0
		for _, id := range m.updated.ids(w) {
			for _, other := range peers {
				if other == id {
					continue
				}
				key := makePair(id, other)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				pairSum += m.cache.distance[w][key]
			}
			if q, ok := m.cache.quantity[w][id]; ok && len(m.forest.clusters[id].Members) > 1 {
				score.Quantity += q
			}
		}
		score.Distance += pairSum / float64(w)
	}
	return score
}

func (m *Manager) writeDistance(window int, key pairKey, value float64) {
	slot, ok := m.cache.distance[window]
	if !ok {
		slot = make(map[pairKey]float64)
		m.cache.distance[window] = slot
	}
	prev, existed := slot[key]
	m.journal.record(journalEntry{
		op:            opDistanceWrite,
		window:        window,
		pair:          key,
		prevValue:     prev,
		existed:       existed,
		windowCreated: !ok,
	})
	slot[key] = value
}

func (m *Manager) writeQuantity(window int, id ClusterID, value float64) {
	slot, ok := m.cache.quantity[window]
	if !ok {
		slot = make(map[ClusterID]float64)
		m.cache.quantity[window] = slot
	}
	prev, existed := slot[id]
	m.journal.record(journalEntry{
		op:            opQuantityWrite,
		cluster:       id,
		window:        window,
		prevValue:     prev,
		existed:       existed,
		windowCreated: !ok,
	})
	slot[id] = value
}

// DistanceTotal sums every cached centroid distance.
func (m *Manager) DistanceTotal() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, w := range slices.Sorted(maps.Keys(m.cache.distance)) {
		slot := m.cache.distance[w]
		for _, k := range slices.SortedFunc(maps.Keys(slot), comparePairs) {
			total += slot[k]
		}
	}
	return total
}

func comparePairs(a, b pairKey) int {
	if a.A != b.A {
		return int(a.A - b.A)
	}
	return int(a.B - b.B)
}
