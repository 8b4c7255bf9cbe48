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

import "errors"

// Sentinel errors for the stream package.
var (
	// ErrMissingCost is returned when a cost-driven strategy finds no
	// precalculated cost for a stream and value.
	ErrMissingCost = errors.New("missing precalculated cost")

	// ErrStaleAssignment is returned when an assignment was resolved against
	// a different set of active streams than the one being committed.
	ErrStaleAssignment = errors.New("assignment does not match active streams")

	// ErrInvalidAssignment is returned for assignments with out-of-range or
	// repeated stream indices.
	ErrInvalidAssignment = errors.New("invalid assignment")
)
