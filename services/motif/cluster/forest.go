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
	"fmt"
	"slices"
)

// ClusterID identifies a cluster inside one forest. IDs are dense, assigned
// in creation order and never reused.
type ClusterID int

// NoParent marks a root cluster.
const NoParent ClusterID = -1

// Cluster is a group of equal-length subsequences.
//
// Members are start indices in insertion order. A cluster at depth D holds
// subsequences of length D; its children hold length D+1 extensions of its
// members.
type Cluster struct {
	ID       ClusterID
	Depth    int
	Parent   ClusterID
	Members  []int
	Children []ClusterID
	Centroid []Point
}

// HasMember reports whether start is already a member.
func (c *Cluster) HasMember(start int) bool {
	return slices.Contains(c.Members, start)
}

func (c *Cluster) clone() *Cluster {
	return &Cluster{
		ID:       c.ID,
		Depth:    c.Depth,
		Parent:   c.Parent,
		Members:  slices.Clone(c.Members),
		Children: slices.Clone(c.Children),
		Centroid: clonePoints(c.Centroid),
	}
}

// Forest is an arena of clusters indexed by ClusterID.
//
// # Description
//
// Clusters live in a flat slice so that the id counter is simply the arena
// length. Creation is undone by popping the last cluster, which keeps the
// journal free of id bookkeeping.
//
// # Thread Safety
//
// Not safe for concurrent use. The owning Manager serialises access.
type Forest struct {
	clusters []*Cluster
	roots    []ClusterID
	byDepth  map[int][]ClusterID
}

func newForest() *Forest {
	return &Forest{byDepth: make(map[int][]ClusterID)}
}

// Len returns the number of clusters ever created, which is also the next id.
func (f *Forest) Len() int {
	return len(f.clusters)
}

// Get returns the cluster with the given id.
func (f *Forest) Get(id ClusterID) (*Cluster, bool) {
	if id < 0 || int(id) >= len(f.clusters) {
		return nil, false
	}
	return f.clusters[id], true
}

// Roots returns the root ids in creation order.
func (f *Forest) Roots() []ClusterID {
	return slices.Clone(f.roots)
}

// AtDepth returns the ids of every cluster of the given depth in creation
// order.
func (f *Forest) AtDepth(depth int) []ClusterID {
	return slices.Clone(f.byDepth[depth])
}

// Resolve walks a root-to-cluster path and returns the final cluster.
func (f *Forest) Resolve(path []ClusterID) (*Cluster, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty path: %w", ErrClusterNotFound)
	}
	c, ok := f.Get(path[0])
	if !ok || c.Parent != NoParent {
		return nil, fmt.Errorf("root %d: %w", path[0], ErrClusterNotFound)
	}
	for _, id := range path[1:] {
		if !slices.Contains(c.Children, id) {
			return nil, fmt.Errorf("child %d of %d: %w", id, c.ID, ErrClusterNotFound)
		}
		c = f.clusters[id]
	}
	return c, nil
}

// Path returns the root-to-cluster path of id.
func (f *Forest) Path(id ClusterID) []ClusterID {
	var path []ClusterID
	for c, ok := f.Get(id); ok; c, ok = f.Get(c.Parent) {
		path = append(path, c.ID)
	}
	slices.Reverse(path)
	return path
}

func (f *Forest) add(parent ClusterID, depth int, members []int, centroid []Point) *Cluster {
	c := &Cluster{
		ID:       ClusterID(len(f.clusters)),
		Depth:    depth,
		Parent:   parent,
		Members:  members,
		Centroid: centroid,
	}
	f.clusters = append(f.clusters, c)
	f.byDepth[depth] = append(f.byDepth[depth], c.ID)
	if parent == NoParent {
		f.roots = append(f.roots, c.ID)
	} else {
		p := f.clusters[parent]
		p.Children = append(p.Children, c.ID)
	}
	return c
}

// removeLast undoes the most recent add.
func (f *Forest) removeLast() {
	n := len(f.clusters)
	if n == 0 {
		return
	}
	c := f.clusters[n-1]
	f.clusters[n-1] = nil
	f.clusters = f.clusters[:n-1]

	f.byDepth[c.Depth] = popID(f.byDepth[c.Depth])
	if len(f.byDepth[c.Depth]) == 0 {
		delete(f.byDepth, c.Depth)
	}
	if c.Parent == NoParent {
		f.roots = popID(f.roots)
		return
	}
	p := f.clusters[c.Parent]
	p.Children = popID(p.Children)
}

func (f *Forest) clone() *Forest {
	out := &Forest{
		clusters: make([]*Cluster, len(f.clusters)),
		roots:    slices.Clone(f.roots),
		byDepth:  make(map[int][]ClusterID, len(f.byDepth)),
	}
	for i, c := range f.clusters {
		out.clusters[i] = c.clone()
	}
	for d, ids := range f.byDepth {
		out.byDepth[d] = slices.Clone(ids)
	}
	return out
}

// popID drops the last id and returns nil once the slice is empty, so a
// rolled-back creation leaves the slice as it was before the first append.
func popID(ids []ClusterID) []ClusterID {
	if len(ids) <= 1 {
		return nil
	}
	return ids[:len(ids)-1]
}
