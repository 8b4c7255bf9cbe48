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
	"slices"
)

// TimelineEntry is one occurrence of a cluster member, in milliseconds with
// one sample per second.
type TimelineEntry struct {
	WindowSize int    `json:"window_size"`
	Label      string `json:"label"`
	StartMs    int    `json:"start_ms"`
	EndMs      int    `json:"end_ms"`
}

// Label renders a cluster id in base 26 with the digits spelled a..z, so
// 0 is "a", 25 is "z" and 26 is "ba".
func Label(id ClusterID) string {
	n := int(id)
	if n < 0 {
		return "-" + Label(ClusterID(-n))
	}
	if n == 0 {
		return "a"
	}
	var buf []byte
	for n > 0 {
		buf = append(buf, byte('a'+n%26))
		n /= 26
	}
	slices.Reverse(buf)
	return string(buf)
}

// Timeline flattens the forest depth-first. Roots are pushed in creation
// order and popped from the end, so the newest root is emitted first.
func (m *Manager) Timeline() []TimelineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	stack := slices.Clone(m.forest.roots)
	out := make([]TimelineEntry, 0, len(stack))
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c := m.forest.clusters[id]
		label := Label(id)
		for _, s := range c.Members {
			out = append(out, TimelineEntry{
				WindowSize: c.Depth,
				Label:      label,
				StartMs:    s * 1000,
				EndMs:      (s + c.Depth) * 1000,
			})
		}
		stack = append(stack, c.Children...)
	}
	return out
}

// Node is an exported view of one cluster and its subtree.
type Node struct {
	ID       ClusterID   `json:"id"`
	Label    string      `json:"label"`
	Depth    int         `json:"depth"`
	Members  []int       `json:"members"`
	Centroid [][]float64 `json:"centroid"`
	Children []Node      `json:"children,omitempty"`
}

// Tree exports the forest. With pruneSingletons, clusters holding a single
// member are dropped together with their subtrees.
func (m *Manager) Tree(pruneSingletons bool) []Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes(m.forest.roots, pruneSingletons)
}

func (m *Manager) nodes(ids []ClusterID, prune bool) []Node {
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		c := m.forest.clusters[id]
		if prune && len(c.Members) == 1 {
			continue
		}
		n := nodeOf(c)
		if len(c.Children) > 0 {
			n.Children = m.nodes(c.Children, prune)
		}
		out = append(out, n)
	}
	return out
}

func nodeOf(c *Cluster) Node {
	centroid := make([][]float64, len(c.Centroid))
	for i, p := range c.Centroid {
		centroid[i] = []float64(p.Clone())
	}
	return Node{
		ID:       c.ID,
		Label:    Label(c.ID),
		Depth:    c.Depth,
		Members:  slices.Clone(c.Members),
		Centroid: centroid,
	}
}

// ByWindow groups clusters by window length without their subtrees.
func (m *Manager) ByWindow() map[int][]Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int][]Node, len(m.forest.byDepth))
	for depth, ids := range m.forest.byDepth {
		nodes := make([]Node, 0, len(ids))
		for _, id := range ids {
			nodes = append(nodes, nodeOf(m.forest.clusters[id]))
		}
		out[depth] = nodes
	}
	return out
}

// Snapshot is a canonical, fully copied view of the manager state. Two
// managers in the same state produce equal snapshots.
type Snapshot struct {
	Series    [][]float64
	Clusters  []Cluster
	Roots     []ClusterID
	ByDepth   map[int][]ClusterID
	Tasks     []Task
	NextID    int
	Processed int
	Updated   map[int][]ClusterID
	Distances map[int]map[[2]ClusterID]float64
	Quantity  map[int]map[ClusterID]float64
}

// Snapshot captures the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Series:    make([][]float64, len(m.series)),
		Clusters:  make([]Cluster, len(m.forest.clusters)),
		Roots:     append([]ClusterID{}, m.forest.roots...),
		ByDepth:   make(map[int][]ClusterID),
		Tasks:     make([]Task, len(m.tasks)),
		NextID:    m.forest.Len(),
		Processed: m.processed,
		Updated:   make(map[int][]ClusterID),
		Distances: make(map[int]map[[2]ClusterID]float64),
		Quantity:  make(map[int]map[ClusterID]float64),
	}
	for i, p := range m.series {
		s.Series[i] = append([]float64{}, p...)
	}
	for i, c := range m.forest.clusters {
		s.Clusters[i] = Cluster{
			ID:       c.ID,
			Depth:    c.Depth,
			Parent:   c.Parent,
			Members:  append([]int{}, c.Members...),
			Children: append([]ClusterID{}, c.Children...),
			Centroid: make([]Point, len(c.Centroid)),
		}
		for j, p := range c.Centroid {
			s.Clusters[i].Centroid[j] = append(Point{}, p...)
		}
	}
	for d, ids := range m.forest.byDepth {
		if len(ids) > 0 {
			s.ByDepth[d] = append([]ClusterID{}, ids...)
		}
	}
	for i, t := range m.tasks {
		s.Tasks[i] = Task{Path: append([]ClusterID{}, t.Path...), Depth: t.Depth}
	}
	for _, w := range m.updated.windows() {
		if ids := m.updated.ids(w); len(ids) > 0 {
			s.Updated[w] = ids
		}
	}
	for w, slot := range m.cache.distance {
		if len(slot) == 0 {
			continue
		}
		out := make(map[[2]ClusterID]float64, len(slot))
		for k, v := range slot {
			out[[2]ClusterID{k.A, k.B}] = v
		}
		s.Distances[w] = out
	}
	for w, slot := range m.cache.quantity {
		if len(slot) > 0 {
			s.Quantity[w] = maps.Clone(slot)
		}
	}
	return s
}
