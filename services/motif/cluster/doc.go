// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cluster discovers repeated patterns in a growing series by
// clustering its subsequences hierarchically.
//
// Roots group subsequences of the minimum window length. A cluster of
// length D has children holding the length D+1 extensions of its members,
// so a path from a root down the forest follows one motif as it grows.
// Each appended sample extends only the clusters that received a
// subsequence in the previous step, which keeps the per-sample cost
// proportional to the active motifs rather than to the series length.
//
// The Manager can also score a candidate sample without keeping it:
// Simulate journals every mutation, reads the resulting distance and
// quantity scores and replays the journal backwards before returning.
//
//	m, _ := cluster.NewManager(cluster.ScalarSeries(values), 0.1, 2)
//	_ = m.ProcessAll(ctx)
//	score, _ := m.Simulate(ctx, cluster.Scalar(4), weights)
package cluster
