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

import "math"

// QuadraticWeights returns count integer weights easing from start to end
// along t^10, t = i/(count-1). Values are rounded up when increasing and
// down otherwise, then shifted by one so no weight is zero.
//
// A count of one or less yields [ceil(start)+1].
func QuadraticWeights(start, end float64, count int) []int {
	if count <= 1 {
		return []int{int(math.Ceil(start)) + 1}
	}

	out := make([]int, count)
	for i := range out {
		t := float64(i) / float64(count-1)
		v := start + (end-start)*math.Pow(t, 10)
		if start < end {
			out[i] = int(math.Ceil(v)) + 1
		} else {
			out[i] = int(math.Floor(v)) + 1
		}
	}
	return out
}
