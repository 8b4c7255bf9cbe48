// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generate drives sequence generation with the cluster engine as a
// complexity oracle.
//
// Single generates one voice: every step simulates each candidate value and
// keeps the one whose normalised complexity is closest to the step target.
// Polyphonic generates several dimensions of several voices per step, using
// a global set-valued manager per dimension together with a stream pool.
// Analyse clusters an existing series.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/motif/services/motif/cluster"
	"github.com/AleutianAI/motif/services/motif/dissonance"
	"github.com/AleutianAI/motif/services/motif/stream"
)

// ErrInvalidRequest is returned for requests that fail validation.
var ErrInvalidRequest = errors.New("invalid generation request")

// =============================================================================
// Shared Validator Instance
// =============================================================================

var requestValidate = validator.New()

func validateRequest(req any) error {
	if err := requestValidate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// DefaultMinWindow is the root window used when a request leaves it unset.
const DefaultMinWindow = 2

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithReporter adds a progress reporter. Several reporters all receive
// every update.
func WithReporter(r Reporter) Option {
	return func(g *Generator) {
		if r != nil {
			g.reporters = append(g.reporters, r)
		}
	}
}

// WithClusterOptions are passed to every cluster.Manager the generator
// creates.
func WithClusterOptions(opts ...cluster.Option) Option {
	return func(g *Generator) {
		g.clusterOpts = append(g.clusterOpts, opts...)
	}
}

// WithMaxCandidates caps the candidate chords evaluated per polyphonic
// dimension and step.
func WithMaxCandidates(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxCandidates = n
		}
	}
}

// WithMaxPermutationSize bounds exhaustive stream mapping; see
// stream.WithMaxPermutationSize.
func WithMaxPermutationSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxPermutation = n
		}
	}
}

// WithSTMConfig sets the short-term memory used for voicing roughness.
func WithSTMConfig(cfg dissonance.STMConfig) Option {
	return func(g *Generator) {
		g.stm = cfg
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(g *Generator) {
		if next != nil {
			g.newID = next
		}
	}
}

// Generator runs analyses and generations.
//
// # Thread Safety
//
// A Generator holds no per-run state and is safe for concurrent use.
type Generator struct {
	logger         *slog.Logger
	reporters      multiReporter
	clusterOpts    []cluster.Option
	maxCandidates  int
	maxPermutation int
	stm            dissonance.STMConfig
	newID          func() string
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		logger:         slog.Default().With("component", "generator"),
		maxCandidates:  DefaultMaxCandidates,
		maxPermutation: stream.DefaultMaxPermutationSize,
		stm:            dissonance.DefaultSTMConfig(),
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type runIDKey struct{}

// ContextWithRunID makes the next run started with ctx use id instead of a
// generated one, so callers can poll progress before the run returns.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the id set by ContextWithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

func (g *Generator) runID(ctx context.Context) string {
	if id, ok := RunIDFromContext(ctx); ok {
		return id
	}
	return g.newID()
}

func (g *Generator) clusterOptions(extra ...cluster.Option) []cluster.Option {
	return slices.Concat(g.clusterOpts, extra)
}
