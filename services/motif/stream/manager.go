// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream assigns simultaneous values to a pool of parallel voices,
// each clustered by its own cluster.Manager.
//
// A Manager prices every (stream, value) pairing, resolves the cheapest
// assignment, and commits it. Surplus values spawn new streams cloned from
// a parent; surplus streams are retired and never reactivated.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/motif/services/motif/cluster"
	"github.com/AleutianAI/motif/services/motif/dissonance"
)

// DefaultMaxPermutationSize is the largest equal-size assignment solved by
// exhaustive permutation.
const DefaultMaxPermutationSize = 8

// Container is one voice in the pool.
type Container struct {
	ID        int
	Manager   *cluster.Manager
	Active    bool
	LastValue float64
	Strength  float64
}

func (c *Container) append(ctx context.Context, v float64) error {
	if err := c.Manager.Commit(ctx, cluster.Scalar(v)); err != nil {
		return fmt.Errorf("stream %d: %w", c.ID, err)
	}
	c.LastValue = v
	return nil
}

// StreamInfo is a read-only view of a Container.
type StreamInfo struct {
	ID        int     `json:"id"`
	Active    bool    `json:"active"`
	LastValue float64 `json:"last_value"`
	Strength  float64 `json:"strength"`
	Length    int     `json:"length"`
	Clusters  int     `json:"clusters"`
}

func (c *Container) info() StreamInfo {
	return StreamInfo{
		ID:        c.ID,
		Active:    c.Active,
		LastValue: c.LastValue,
		Strength:  c.Strength,
		Length:    c.Manager.Len(),
		Clusters:  c.Manager.ClusterCount(),
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithStrategy sets the assignment strategy. Defaults to ComplexityStrategy.
func WithStrategy(s Strategy) Option {
	return func(m *Manager) {
		if s != nil {
			m.strategy = s
		}
	}
}

// WithCostFunc records an external cost for every precalculated pairing.
// The function may be called from several goroutines at once.
func WithCostFunc(f dissonance.CostFunc) Option {
	return func(m *Manager) {
		m.costFunc = f
	}
}

// WithMaxPermutationSize bounds exhaustive search for equal-size
// assignments. Larger sets are resolved greedily.
func WithMaxPermutationSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxPerm = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClusterOptions are passed to every per-stream cluster.Manager.
func WithClusterOptions(opts ...cluster.Option) Option {
	return func(m *Manager) {
		m.clusterOpts = append(m.clusterOpts, opts...)
	}
}

// Manager owns the stream pool.
//
// # Description
//
// Streams are kept in creation order. Retired streams stay in the pool but
// are excluded from ActiveStreams, and stream ids are never reused. Cost
// tables and assignments are indexed by position among the active streams
// at the time they were produced.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	pool      []*Container
	nextID    int
	ratio     float64
	minWindow int

	strategy    Strategy
	costFunc    dissonance.CostFunc
	maxPerm     int
	clusterOpts []cluster.Option
	logger      *slog.Logger
}

// NewManager builds one clustered stream per history column.
//
// # Inputs
//
//   - history: Rows are steps, columns are voices. Ragged rows carry each
//     voice's previous value forward, or 0 before the first one.
//   - ratio: Merge ratio for every stream.
//   - minWindow: Root window for every stream.
//   - opts: Functional options.
//
// # Outputs
//
//   - *Manager: A pool with every stream active and fully processed.
//   - error: cluster.ErrInvalidConfig for bad parameters.
func NewManager(history [][]float64, ratio float64, minWindow int, opts ...Option) (*Manager, error) {
	if minWindow < 1 || math.IsNaN(ratio) || ratio < 0 {
		return nil, fmt.Errorf("ratio %v, min window %d: %w", ratio, minWindow, cluster.ErrInvalidConfig)
	}
	m := &Manager{
		ratio:     ratio,
		minWindow: minWindow,
		strategy:  ComplexityStrategy{},
		maxPerm:   DefaultMaxPermutationSize,
		logger:    slog.Default().With("component", "stream_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, voice := range transposeHistory(history) {
		cm, err := cluster.NewManager(cluster.ScalarSeries(voice), ratio, minWindow, m.clusterOpts...)
		if err != nil {
			return nil, fmt.Errorf("stream %d: %w", m.nextID, err)
		}
		if err := cm.ProcessAll(context.Background()); err != nil {
			return nil, fmt.Errorf("stream %d: %w", m.nextID, err)
		}
		last := 0.0
		if len(voice) > 0 {
			last = voice[len(voice)-1]
		}
		m.pool = append(m.pool, &Container{ID: m.nextID, Manager: cm, Active: true, LastValue: last})
		m.nextID++
	}
	m.reportGauges()
	return m, nil
}

// transposeHistory turns step rows into voice columns.
func transposeHistory(history [][]float64) [][]float64 {
	width := 0
	for _, row := range history {
		width = max(width, len(row))
	}
	if width == 0 {
		return nil
	}
	voices := make([][]float64, width)
	for _, row := range history {
		for i := range voices {
			switch {
			case i < len(row):
				voices[i] = append(voices[i], row[i])
			case len(voices[i]) > 0:
				voices[i] = append(voices[i], voices[i][len(voices[i])-1])
			default:
				voices[i] = append(voices[i], 0)
			}
		}
	}
	return voices
}

// Strategy returns the assignment strategy.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// ActiveStreams returns the active streams in pool order.
func (m *Manager) ActiveStreams() []StreamInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	actives := m.activeLocked()
	out := make([]StreamInfo, len(actives))
	for i, c := range actives {
		out[i] = c.info()
	}
	return out
}

// Pool returns every stream, retired ones included, in creation order.
func (m *Manager) Pool() []StreamInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StreamInfo, len(m.pool))
	for i, c := range m.pool {
		out[i] = c.info()
	}
	return out
}

// Series returns the samples of the stream with the given id.
func (m *Manager) Series(id int) ([]float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byIDLocked(id)
	if c == nil {
		return nil, false
	}
	points := c.Manager.Series()
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value()
	}
	return out, true
}

// Timelines returns each stream's cluster timeline keyed by stream id.
func (m *Manager) Timelines() map[int][]cluster.TimelineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int][]cluster.TimelineEntry, len(m.pool))
	for _, c := range m.pool {
		out[c.ID] = c.Manager.Timeline()
	}
	return out
}

func (m *Manager) activeLocked() []*Container {
	var out []*Container
	for _, c := range m.pool {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) byIDLocked(id int) *Container {
	for _, c := range m.pool {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// PrecalculateCosts simulates every candidate on every active stream.
//
// # Description
//
// Streams are evaluated concurrently, one goroutine each. Each goroutine
// writes only its own row of the table, so the result does not depend on
// scheduling. When a cost function is configured it is called with the
// rounded value and the stream length as timestamp.
//
// # Inputs
//
//   - ctx: Cancels the evaluation between candidates.
//   - candidates: Values to price. Repeats are priced once.
//   - weights: Position weights passed to Simulate.
//
// # Outputs
//
//   - *CostTable: Costs by active-stream position and value.
//   - error: The first simulate error or the context error.
func (m *Manager) PrecalculateCosts(ctx context.Context, candidates []float64, weights []int) (*CostTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	actives := m.activeLocked()
	table := newCostTable(len(actives), candidates)

	g, gctx := errgroup.WithContext(ctx)
	for s, c := range actives {
		g.Go(func() error {
			row := table.costs[s]
			for vi, v := range table.values {
				if err := gctx.Err(); err != nil {
					return err
				}
				score, err := c.Manager.Simulate(gctx, cluster.Scalar(v), weights)
				if err != nil {
					return fmt.Errorf("stream %d value %v: %w", c.ID, v, err)
				}
				row[vi] = Cost{Score: score}
				if m.costFunc != nil {
					row[vi].External = m.costFunc([]int{int(math.Round(v))}, float64(c.Manager.Len()))
					row[vi].HasExternal = true
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	costDuration.Observe(time.Since(start).Seconds())
	m.logger.Debug("costs precalculated",
		slog.Int("streams", len(actives)),
		slog.Int("values", len(table.values)),
		slog.Duration("duration", time.Since(start)),
	)
	return table, nil
}

// CommitOption configures a Commit.
type CommitOption func(*commitConfig)

type commitConfig struct {
	useStrength bool
	target      float64
	spread      float64
}

// WithStrength steers parent choice when streams spawn and keeper choice
// when streams retire. Both parameters are clamped to [0, 1].
func WithStrength(target, spread float64) CommitOption {
	return func(c *commitConfig) {
		c.useStrength = true
		c.target = target
		c.spread = spread
	}
}

// Commit applies a resolved assignment to the pool.
//
// # Description
//
// Equal counts append each value to its stream. Surplus values first clone
// their parents, before any stream receives this step's value, then append
// to the clones. Surplus streams are retired. Afterwards the caches of every
// active stream are refreshed with weights.
//
// Cancellation is checked once, before the pool changes. The stream commits
// themselves ignore later cancellation so a step is never half applied.
// Spawned streams join the pool only after every append succeeded.
//
// # Inputs
//
//   - ctx: Checked for cancellation, then passed without its deadline to
//     every stream commit.
//   - a: An assignment from ResolveMapping against the current pool.
//   - weights: Position weights for the cache refresh.
//   - opts: Optional strength steering.
//
// # Outputs
//
//   - error: ErrStaleAssignment, ErrInvalidAssignment or a stream error.
func (m *Manager) Commit(ctx context.Context, a Assignment, weights []int, opts ...CommitOption) error {
	if ctx == nil {
		return cluster.ErrNilContext
	}
	var cfg commitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	actives := m.activeLocked()
	if a.Streams != len(actives) {
		return fmt.Errorf("resolved against %d streams, %d active: %w", a.Streams, len(actives), ErrStaleAssignment)
	}
	if len(a.Pairs) == 0 || len(actives) == 0 {
		return nil
	}

	existing, extra, err := splitPairs(a, len(actives))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	switch {
	case len(extra) > 0:
		err = m.spawn(ctx, actives, existing, extra, cfg)
	case len(existing) < len(actives):
		err = m.retire(ctx, actives, existing, cfg)
	default:
		for _, p := range existing {
			if err = actives[p.StreamIndex].append(ctx, p.Value); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}

	for _, c := range m.activeLocked() {
		if err := c.Manager.UpdateCaches(weights); err != nil {
			return fmt.Errorf("stream %d: %w", c.ID, err)
		}
	}
	m.reportGauges()
	return nil
}

// splitPairs separates pairs bound to existing streams from surplus values
// and checks the indices.
func splitPairs(a Assignment, streams int) (existing, extra []Pair, err error) {
	seen := make(map[int]bool, streams)
	for _, p := range a.Pairs {
		if p.StreamIndex < 0 {
			if p.ParentIndex < 0 || p.ParentIndex >= streams {
				return nil, nil, fmt.Errorf("parent %d of %d streams: %w", p.ParentIndex, streams, ErrInvalidAssignment)
			}
			extra = append(extra, p)
			continue
		}
		if p.StreamIndex >= streams || seen[p.StreamIndex] {
			return nil, nil, fmt.Errorf("stream index %d: %w", p.StreamIndex, ErrInvalidAssignment)
		}
		seen[p.StreamIndex] = true
		existing = append(existing, p)
	}
	if len(extra) > 0 && len(existing) != streams {
		return nil, nil, fmt.Errorf("%d surplus values with %d of %d streams bound: %w",
			len(extra), len(existing), streams, ErrInvalidAssignment)
	}
	return existing, extra, nil
}

func (m *Manager) spawn(ctx context.Context, actives []*Container, existing, extra []Pair, cfg commitConfig) error {
	var parents []*Container
	if cfg.useStrength {
		parents = pickParents(actives, len(extra), cfg.target, cfg.spread)
	} else {
		parents = make([]*Container, len(extra))
		for i, p := range extra {
			parents[i] = actives[p.ParentIndex]
		}
	}

	// Clone before any stream receives this step's value.
	clones := make([]*Container, len(extra))
	for i, parent := range parents {
		clones[i] = &Container{
			ID:        m.nextID + i,
			Manager:   parent.Manager.Clone(),
			Active:    true,
			LastValue: parent.LastValue,
		}
	}

	for _, p := range existing {
		if err := actives[p.StreamIndex].append(ctx, p.Value); err != nil {
			return err
		}
	}
	for i, p := range extra {
		if err := clones[i].append(ctx, p.Value); err != nil {
			return err
		}
	}

	for i, c := range clones {
		m.pool = append(m.pool, c)
		m.logger.Info("stream spawned", slog.Int("id", c.ID), slog.Int("parent", parents[i].ID))
	}
	m.nextID += len(clones)
	streamsSpawned.Add(float64(len(clones)))
	return nil
}

func (m *Manager) retire(ctx context.Context, actives []*Container, existing []Pair, cfg commitConfig) error {
	kept := make(map[*Container]bool, len(existing))

	if cfg.useStrength {
		keepers := selectByStrength(actives, len(existing), cfg.target, cfg.spread)
		if len(keepers) < len(existing) {
			keepers = actives[:len(existing)]
		}
		available := append([]*Container(nil), keepers...)
		for _, p := range existing {
			best := closestByLastValue(available, p.Value)
			if err := available[best].append(ctx, p.Value); err != nil {
				return err
			}
			kept[available[best]] = true
			available = append(available[:best], available[best+1:]...)
		}
	} else {
		for _, p := range existing {
			c := actives[p.StreamIndex]
			if err := c.append(ctx, p.Value); err != nil {
				return err
			}
			kept[c] = true
		}
	}

	retired := 0
	for _, c := range actives {
		if !kept[c] {
			c.Active = false
			retired++
			m.logger.Info("stream retired", slog.Int("id", c.ID), slog.Float64("last_value", c.LastValue))
		}
	}
	streamsRetired.Add(float64(retired))
	return nil
}

// closestByLastValue returns the index of the first stream whose last value
// is nearest to v.
func closestByLastValue(streams []*Container, v float64) int {
	best, bestD := 0, math.Inf(1)
	for i, c := range streams {
		if d := math.Abs(c.LastValue - v); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

func (m *Manager) reportGauges() {
	activeGauge.Set(float64(len(m.activeLocked())))
	poolGauge.Set(float64(len(m.pool)))
}
