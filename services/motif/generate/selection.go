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
	"math"
	"slices"
)

// NormalizeScores min-max scales raw values into [0,1] and weights them by
// how informative they are.
//
// # Description
//
// A single distinct value carries weight 0, two distinct values 0.2 and
// more 1. When all values are equal every score is 0.5 before weighting.
// Criteria where smaller means more complex are inverted.
//
// # Outputs
//
//   - []float64: Weighted scores in input order.
//   - float64: The weight applied.
func NormalizeScores(raw []float64, complexWhenLarger bool) ([]float64, float64) {
	if len(raw) == 0 {
		return nil, 0
	}
	lo, hi := slices.Min(raw), slices.Max(raw)

	weight := 1.0
	switch distinctCount(raw) {
	case 1:
		weight = 0
	case 2:
		weight = 0.2
	}

	out := make([]float64, len(raw))
	for i, v := range raw {
		norm := 0.5
		if hi != lo {
			norm = (v - lo) / (hi - lo)
		}
		if !complexWhenLarger {
			norm = 1 - norm
		}
		out[i] = norm * weight
	}
	return out, weight
}

func distinctCount(values []float64) int {
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// Criterion is one raw score per candidate and its direction.
type Criterion struct {
	ComplexWhenLarger bool
	Values            []float64
}

// SelectByTarget combines normalised criteria into one complexity per
// candidate and returns the index closest to target. Earlier candidates win
// ties. It returns -1 when there are no candidates.
func SelectByTarget(criteria []Criterion, target float64) int {
	n := 0
	for _, c := range criteria {
		n = max(n, len(c.Values))
	}
	if n == 0 {
		return -1
	}

	combined := make([]float64, n)
	totalWeight := 0.0
	for _, c := range criteria {
		scores, w := NormalizeScores(c.Values, c.ComplexWhenLarger)
		for i, s := range scores {
			combined[i] += s
		}
		totalWeight += w
	}
	if totalWeight > 0 {
		for i := range combined {
			combined[i] /= totalWeight
		}
	}

	best, bestDiff := -1, math.Inf(1)
	for i, s := range combined {
		if d := math.Abs(s - target); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// TargetsFromCenterSpread spreads n targets evenly over
// [center - spread/2, center + spread/2], clamped to [0,1].
func TargetsFromCenterSpread(n int, center, spread float64) []float64 {
	if n <= 0 {
		return nil
	}
	center = clamp01(center)
	if n == 1 {
		return []float64{center}
	}
	half := clamp01(spread) / 2
	lo, hi := center-half, center+half

	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(n-1)
		out[i] = clamp01(lo + (hi-lo)*t)
	}
	return out
}

// LimitedRepeatedCombinations lists non-decreasing n-element selections of
// the sorted values, with repetition, in lexicographic order, stopping after
// limit results. A non-positive limit means no limit.
func LimitedRepeatedCombinations(values []float64, n, limit int) [][]float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	full := limit <= 0

	idx := make([]int, n)
	var out [][]float64
	for {
		combo := make([]float64, n)
		for i, j := range idx {
			combo[i] = sorted[j]
		}
		out = append(out, combo)
		if !full && len(out) >= limit {
			return out
		}

		pos := n - 1
		for pos >= 0 && idx[pos] == len(sorted)-1 {
			pos--
		}
		if pos < 0 {
			return out
		}
		next := idx[pos] + 1
		for k := pos; k < n; k++ {
			idx[k] = next
		}
	}
}

// RankWindow clamps [rank-width, rank+width] to [0, size-1]. The window
// always holds at least one index when size is positive.
func RankWindow(rank, width, size int) (from, to int) {
	from = min(max(rank-width, 0), size-1)
	to = max(min(rank+width, size-1), from)
	return from, to
}

// ValueRange returns the integers from lo to hi inclusive as floats.
func ValueRange(lo, hi int) []float64 {
	if hi < lo {
		return nil
	}
	out := make([]float64, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		out = append(out, float64(v))
	}
	return out
}

// FloatSteps returns n evenly spaced values from 0 to 1, rounded to three
// decimals.
func FloatSteps(n int) []float64 {
	if n <= 1 {
		return []float64{0}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round(float64(i)/float64(n-1)*1000) / 1000
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// at returns values[i], or def when i is out of range.
func at[T any](values []T, i int, def T) T {
	if i >= 0 && i < len(values) {
		return values[i]
	}
	return def
}
