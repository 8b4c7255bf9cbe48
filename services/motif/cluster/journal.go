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

// opKind identifies a reversible mutation.
type opKind uint8

const (
	opSeriesAppend opKind = iota
	opMemberAdd
	opCentroidSet
	opClusterCreate
	opDistanceWrite
	opQuantityWrite
)

func (k opKind) String() string {
	switch k {
	case opSeriesAppend:
		return "series_append"
	case opMemberAdd:
		return "member_add"
	case opCentroidSet:
		return "centroid_set"
	case opClusterCreate:
		return "cluster_create"
	case opDistanceWrite:
		return "distance_write"
	case opQuantityWrite:
		return "quantity_write"
	default:
		return "unknown"
	}
}

// journalEntry records enough state to undo one mutation.
type journalEntry struct {
	op      opKind
	cluster ClusterID

	// opCentroidSet
	prevCentroid []Point

	// opDistanceWrite / opQuantityWrite
	window        int
	pair          pairKey
	prevValue     float64
	existed       bool
	windowCreated bool
}

// journal is an ordered undo log. Recording is a no-op unless a transaction
// is open. Simulate always rolls its transaction back; Commit keeps it
// unless the extension fails.
type journal struct {
	entries []journalEntry
	active  bool
}

func (j *journal) begin() {
	j.entries = j.entries[:0]
	j.active = true
}

func (j *journal) record(e journalEntry) {
	if !j.active {
		return
	}
	j.entries = append(j.entries, e)
}

func (j *journal) end() int {
	n := len(j.entries)
	clear(j.entries)
	j.entries = j.entries[:0]
	j.active = false
	return n
}

// txSnapshot holds the state that rollback restores wholesale instead of
// replaying entry by entry.
type txSnapshot struct {
	tasks     []Task
	processed int
	updated   updateSet
}

// beginTx opens a transaction. The update set is swapped for a fresh one so
// scores computed inside the transaction only see this step's changes.
func (m *Manager) beginTx() txSnapshot {
	snap := txSnapshot{
		tasks:     m.tasks,
		processed: m.processed,
		updated:   m.updated,
	}
	m.updated = newUpdateSet()
	m.journal.begin()
	return snap
}

// rollbackTx replays the journal in reverse and restores the snapshot. It
// returns the number of entries undone.
func (m *Manager) rollbackTx(snap txSnapshot) int {
	entries := m.journal.entries
	for i := len(entries) - 1; i >= 0; i-- {
		m.undo(entries[i])
	}
	m.tasks = snap.tasks
	m.processed = snap.processed
	m.updated = snap.updated
	return m.journal.end()
}

// keepTx closes a transaction without undoing it. Clusters touched inside
// the transaction join the update set that was open before it.
func (m *Manager) keepTx(snap txSnapshot) {
	for window, slot := range m.updated {
		for id := range slot {
			snap.updated.mark(window, id)
		}
	}
	m.updated = snap.updated
	m.journal.end()
}

func (m *Manager) undo(e journalEntry) {
	switch e.op {
	case opSeriesAppend:
		n := len(m.series)
		m.series[n-1] = nil
		m.series = m.series[:n-1]
	case opMemberAdd:
		c := m.forest.clusters[e.cluster]
		c.Members = c.Members[:len(c.Members)-1]
	case opCentroidSet:
		m.forest.clusters[e.cluster].Centroid = e.prevCentroid
	case opClusterCreate:
		m.forest.removeLast()
	case opDistanceWrite:
		undoCacheWrite(m.cache.distance, e, e.pair)
	case opQuantityWrite:
		undoCacheWrite(m.cache.quantity, e, e.cluster)
	}
}

func undoCacheWrite[K comparable](cache map[int]map[K]float64, e journalEntry, key K) {
	slot := cache[e.window]
	if e.existed {
		slot[key] = e.prevValue
	} else {
		delete(slot, key)
	}
	if e.windowCreated {
		delete(cache, e.window)
	}
}
