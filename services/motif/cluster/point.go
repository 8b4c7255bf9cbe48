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

// Point is one sample of a series.
//
// Scalar series store a single element. Polyphonic series store an
// unordered set of values of any cardinality, including zero.
type Point []float64

// Scalar wraps a single value as a Point.
func Scalar(v float64) Point {
	return Point{v}
}

// Value returns the first element of the point, or 0 for an empty point.
func (p Point) Value() float64 {
	if len(p) == 0 {
		return 0
	}
	return p[0]
}

// Clone returns an independent copy of the point. A nil point stays nil.
func (p Point) Clone() Point {
	if p == nil {
		return nil
	}
	out := make(Point, len(p))
	copy(out, p)
	return out
}

// ScalarSeries converts plain values into one-element points.
func ScalarSeries(values []float64) []Point {
	out := make([]Point, len(values))
	for i, v := range values {
		out[i] = Scalar(v)
	}
	return out
}

// SetSeries converts value sets into points, copying every set.
func SetSeries(sets [][]float64) []Point {
	out := make([]Point, len(sets))
	for i, s := range sets {
		out[i] = Point(s).Clone()
		if out[i] == nil {
			out[i] = Point{}
		}
	}
	return out
}

func clonePoints(points []Point) []Point {
	if points == nil {
		return nil
	}
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = p.Clone()
	}
	return out
}
