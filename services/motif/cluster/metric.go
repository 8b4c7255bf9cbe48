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
	"math"
	"sort"
)

// EmptySetDistance is the step distance between an empty set and a
// non-empty one under the unnormalised SetMetric.
const EmptySetDistance = 7.0

// Metric defines how points are compared, averaged and how the merge
// threshold is scaled.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the built-in metrics
// are stateless values.
type Metric interface {
	// StepDistance returns the distance between two points at the same
	// position of two subsequences.
	StepDistance(a, b Point) (float64, error)

	// Mean returns the representative point for one centroid position.
	Mean(points []Point) (Point, error)

	// Scale returns the normaliser for merge decisions given every sample
	// seen so far.
	Scale(seen []Point) float64
}

// SequenceDistance returns sqrt(Σ d²) over the step distances of two
// equal-length subsequences.
func SequenceDistance(m Metric, a, b []Point) (float64, error) {
	if len(a) != len(b) {
		return 0, &ValidationError{
			Op:     "distance",
			Detail: fmt.Sprintf("%d vs %d", len(a), len(b)),
			Err:    ErrLengthMismatch,
		}
	}
	sum := 0.0
	for i := range a {
		d, err := m.StepDistance(a[i], b[i])
		if err != nil {
			return 0, err
		}
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// -----------------------------------------------------------------------------
// Euclidean
// -----------------------------------------------------------------------------

// EuclideanMetric compares fixed-length numeric points.
type EuclideanMetric struct{}

// StepDistance returns the Euclidean distance between two points of equal
// dimension.
func (EuclideanMetric) StepDistance(a, b Point) (float64, error) {
	if len(a) != len(b) {
		return 0, &ValidationError{
			Op:     "step distance",
			Detail: fmt.Sprintf("point dimensions %d vs %d", len(a), len(b)),
			Err:    ErrLengthMismatch,
		}
	}
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Mean returns the element-wise arithmetic mean, summed in input order.
func (EuclideanMetric) Mean(points []Point) (Point, error) {
	if len(points) == 0 {
		return Point{}, nil
	}
	dim := len(points[0])
	out := make(Point, dim)
	for _, p := range points {
		if len(p) != dim {
			return nil, &ValidationError{
				Op:     "mean",
				Detail: fmt.Sprintf("point dimensions %d vs %d", dim, len(p)),
				Err:    ErrLengthMismatch,
			}
		}
		for i, v := range p {
			out[i] += v
		}
	}
	n := float64(len(points))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// Scale returns the distance between two constant sequences of length
// len(seen), one filled with the mean of the lower half and one with the
// mean of the upper half of the points seen so far. Halves are taken per
// dimension.
func (EuclideanMetric) Scale(seen []Point) float64 {
	if len(seen) == 0 {
		return 0
	}
	sq := 0.0
	for d := range seen[0] {
		lo, hi, ok := halfMeans(seen, d)
		if ok {
			sq += (hi - lo) * (hi - lo)
		}
	}
	return math.Sqrt(sq) * math.Sqrt(float64(len(seen)))
}

// halfMeans returns the means of the values at or below and at or above the
// overall mean of dimension d.
func halfMeans(seen []Point, d int) (lo, hi float64, ok bool) {
	total, n := 0.0, 0
	for _, p := range seen {
		if d < len(p) {
			total += p[d]
			n++
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	mean := total / float64(n)

	var loSum, hiSum float64
	var loN, hiN int
	for _, p := range seen {
		if d >= len(p) {
			continue
		}
		v := p[d]
		if v <= mean {
			loSum += v
			loN++
		}
		if v >= mean {
			hiSum += v
			hiN++
		}
	}
	if loN == 0 || hiN == 0 {
		return 0, 0, false
	}
	return loSum / float64(loN), hiSum / float64(hiN), true
}

// -----------------------------------------------------------------------------
// Sets
// -----------------------------------------------------------------------------

// SetMetric compares unordered value sets such as chords.
//
// The raw step distance is the mean of the two directed average
// nearest-neighbour distances plus the cardinality difference. With
// Normalized set, both parts are scaled into [0,1] by ValueWidth and
// MaxSetSize and averaged.
type SetMetric struct {
	// ValueWidth is the width of the value range. Non-positive means 1.
	ValueWidth float64

	// MaxSetSize bounds the cardinality term when Normalized is set.
	MaxSetSize int

	// Normalized switches to the [0,1] distance.
	Normalized bool
}

// NewSetMetric builds a SetMetric for values in [lo,hi].
func NewSetMetric(lo, hi float64, maxSetSize int, normalized bool) SetMetric {
	return SetMetric{
		ValueWidth: math.Abs(hi - lo),
		MaxSetSize: maxSetSize,
		Normalized: normalized,
	}
}

func (m SetMetric) width() float64 {
	if m.ValueWidth <= 0 {
		return 1
	}
	return m.ValueWidth
}

func (m SetMetric) maxSetSize() float64 {
	if m.MaxSetSize <= 0 {
		return 1
	}
	return float64(m.MaxSetSize)
}

// StepDistance never fails; sets of any cardinality are comparable.
func (m SetMetric) StepDistance(a, b Point) (float64, error) {
	if len(a) == 0 && len(b) == 0 {
		return 0, nil
	}
	if len(a) == 0 || len(b) == 0 {
		if m.Normalized {
			return 1, nil
		}
		return EmptySetDistance, nil
	}

	pitch := (avgNearest(a, b) + avgNearest(b, a)) / 2
	count := math.Abs(float64(len(a) - len(b)))
	if !m.Normalized {
		return pitch + count, nil
	}

	pitchNorm := clamp01(pitch / m.width())
	countNorm := clamp01(count / m.maxSetSize())
	if countNorm <= 0 {
		return pitchNorm, nil
	}
	return (pitchNorm + countNorm) / 2, nil
}

// Mean averages sets of equal cardinality element-wise after sorting.
// When cardinalities differ the last point is the representative.
func (m SetMetric) Mean(points []Point) (Point, error) {
	if len(points) == 0 {
		return Point{}, nil
	}
	if len(points) == 1 {
		return points[0].Clone(), nil
	}
	n := len(points[0])
	for _, p := range points[1:] {
		if len(p) != n {
			last := points[len(points)-1].Clone()
			if last == nil {
				last = Point{}
			}
			return last, nil
		}
	}
	out := make(Point, n)
	for _, p := range points {
		sorted := p.Clone()
		sort.Float64s(sorted)
		for i, v := range sorted {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(points))
	}
	return out, nil
}

// Scale is twice the largest distance of any seen set from the per-index
// mean of all seen sets. Missing slots cost ValueWidth² each.
func (m SetMetric) Scale(seen []Point) float64 {
	if len(seen) == 0 {
		return 0
	}
	centroid := m.vectorMean(seen)
	maxSq := 0.0
	for _, p := range seen {
		if d := m.squaredDistance(p, centroid); d > maxSq {
			maxSq = d
		}
	}
	return math.Sqrt(maxSq) * 2
}

func (m SetMetric) vectorMean(points []Point) Point {
	dim := 0
	for _, p := range points {
		if len(p) > dim {
			dim = len(p)
		}
	}
	if dim == 0 {
		dim = 1
	}
	sums := make([]float64, dim)
	counts := make([]int, dim)
	for _, p := range points {
		for i, v := range p {
			sums[i] += v
			counts[i]++
		}
	}
	out := make(Point, dim)
	for i := range out {
		if counts[i] > 0 {
			out[i] = sums[i] / float64(counts[i])
		}
	}
	return out
}

func (m SetMetric) squaredDistance(a, b Point) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	n := min(len(a), len(b))
	sum := 0.0
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	w := m.width()
	sum += math.Abs(float64(len(a)-len(b))) * w * w
	return sum
}

// avgNearest is the mean over a of the distance to the nearest element of b.
func avgNearest(a, b Point) float64 {
	total := 0.0
	for _, x := range a {
		best := math.Inf(1)
		for _, y := range b {
			if d := math.Abs(x - y); d < best {
				best = d
			}
		}
		total += best
	}
	return total / float64(len(a))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
