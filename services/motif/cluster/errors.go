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
	"errors"
	"fmt"
)

// Sentinel errors for the cluster package.
var (
	// ErrLengthMismatch is returned when two subsequences or points that
	// must have the same length do not.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrInvalidConfig is returned when manager parameters are out of range.
	ErrInvalidConfig = errors.New("invalid manager configuration")

	// ErrClusterNotFound is returned when a task path no longer resolves
	// to a cluster in the forest.
	ErrClusterNotFound = errors.New("cluster not found")

	// ErrTransactionActive is returned when a simulation is requested while
	// another one is still open on the same manager.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")
)

// ValidationError reports bad caller input. It wraps one of the sentinel
// errors so callers can match with errors.Is.
type ValidationError struct {
	// Op is the operation that rejected the input.
	Op string

	// Detail is a human-readable description of the problem.
	Detail string

	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("cluster %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cluster %s: %v: %s", e.Op, e.Err, e.Detail)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// InvariantError reports internal bookkeeping that should be impossible,
// such as a pending task whose path does not resolve.
type InvariantError struct {
	Path []ClusterID
	Err  error
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("cluster invariant violated at path %v: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvariantError) Unwrap() error {
	return e.Err
}
