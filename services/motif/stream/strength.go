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
	"slices"
)

// UpdateStrengths recomputes the strength of every active stream.
//
// # Description
//
// A stream's raw complexity is the total of its distance caches. Raw values
// are min-max normalised across active streams (0.5 each when all are
// equal) and multiplied by the stream's last value clamped to [0, 1], so a
// silent stream has no strength.
func (m *Manager) UpdateStrengths() {
	m.mu.Lock()
	defer m.mu.Unlock()

	actives := m.activeLocked()
	if len(actives) == 0 {
		return
	}
	raw := make([]float64, len(actives))
	for i, c := range actives {
		raw[i] = c.Manager.DistanceTotal()
	}
	lo, hi := slices.Min(raw), slices.Max(raw)

	for i, c := range actives {
		norm := 0.5
		if hi != lo {
			norm = (raw[i] - lo) / (hi - lo)
		}
		vol := c.LastValue
		if math.IsNaN(vol) {
			vol = 0
		}
		c.Strength = norm * clamp01(vol)
	}
}

// selectByStrength picks k streams whose strengths spread around target.
//
// # Description
//
// Pick i aims at target + spread·(i/(k-1) - 0.5), clamped to [0, 1], and
// takes the remaining stream closest to that aim. A single pick takes the
// stream closest to target.
func selectByStrength(candidates []*Container, k int, target, spread float64) []*Container {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	t, s := clamp01(target), clamp01(spread)
	remaining := append([]*Container(nil), candidates...)

	if k == 1 {
		return []*Container{remaining[closestByStrength(remaining, t)]}
	}

	selected := make([]*Container, 0, k)
	for i := 0; i < k && len(remaining) > 0; i++ {
		pos := float64(i)/float64(k-1) - 0.5
		aim := clamp01(t + s*pos)
		best := closestByStrength(remaining, aim)
		selected = append(selected, remaining[best])
		remaining = slices.Delete(remaining, best, best+1)
	}
	return selected
}

// pickParents selects k parents by strength, cycling through the distinct
// picks when k exceeds the number of candidates.
func pickParents(candidates []*Container, k int, target, spread float64) []*Container {
	base := selectByStrength(candidates, min(k, len(candidates)), target, spread)
	if len(base) == 0 {
		return nil
	}
	out := append([]*Container(nil), base...)
	for i := 0; len(out) < k; i++ {
		out = append(out, base[i%len(base)])
	}
	return out
}

func closestByStrength(streams []*Container, aim float64) int {
	best, bestD := 0, math.Inf(1)
	for i, c := range streams {
		if d := math.Abs(c.Strength - aim); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
