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
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

// Task is a cluster that received a subsequence in the previous step and
// may be extended by one sample in the next.
type Task struct {
	Path  []ClusterID `json:"path"`
	Depth int         `json:"depth"`
}

func cloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = Task{Path: slices.Clone(t.Path), Depth: t.Depth}
	}
	return out
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetric sets the distance metric. Defaults to EuclideanMetric.
func WithMetric(metric Metric) Option {
	return func(m *Manager) {
		m.metric = metric
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

// WithTracer sets the tracer used for simulate and commit spans.
func WithTracer(tracer *Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// Manager incrementally clusters the subsequences of one growing series.
//
// # Description
//
// Every appended sample extends the clusters that received a subsequence in
// the previous step (the tasks) and offers the newest MinWindow-length
// subsequence to the roots. Simulate runs the same mutation path under a
// journal and always rolls it back, so callers can score candidate values
// without disturbing the forest.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. A simulation holds the
// manager lock from mutation to rollback.
type Manager struct {
	mu sync.Mutex

	series    []Point
	ratio     float64
	minWindow int
	metric    Metric

	forest    *Forest
	tasks     []Task
	processed int
	updated   updateSet
	cache     caches
	journal   journal

	logger *slog.Logger
	tracer *Tracer
}

// NewManager creates a manager seeded with one root holding start 0.
//
// # Inputs
//
//   - series: Initial samples. Copied.
//   - ratio: Merge threshold as a fraction of the metric scale. Must be >= 0.
//   - minWindow: Root subsequence length. Must be >= 1.
//   - opts: Functional options.
//
// # Outputs
//
//   - *Manager: The manager. Call ProcessAll to cluster the initial series.
//   - error: ValidationError wrapping ErrInvalidConfig on bad parameters.
func NewManager(series []Point, ratio float64, minWindow int, opts ...Option) (*Manager, error) {
	if minWindow < 1 {
		return nil, &ValidationError{Op: "new manager", Detail: fmt.Sprintf("min window %d < 1", minWindow), Err: ErrInvalidConfig}
	}
	if math.IsNaN(ratio) || ratio < 0 {
		return nil, &ValidationError{Op: "new manager", Detail: fmt.Sprintf("merge ratio %v", ratio), Err: ErrInvalidConfig}
	}

	m := &Manager{
		series:    clonePoints(series),
		ratio:     ratio,
		minWindow: minWindow,
		metric:    EuclideanMetric{},
		forest:    newForest(),
		processed: minWindow,
		updated:   newUpdateSet(),
		cache:     newCaches(),
		logger:    slog.Default().With("component", "cluster_manager"),
		tracer:    NewTracer(nil, false),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metric == nil {
		return nil, &ValidationError{Op: "new manager", Detail: "nil metric", Err: ErrInvalidConfig}
	}
	for i, p := range m.series {
		if err := m.validatePoint(p); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	var centroid []Point
	if len(m.series) >= minWindow {
		c, err := m.centroidOf([]int{0}, minWindow)
		if err != nil {
			return nil, err
		}
		centroid = c
	}
	root := m.forest.add(NoParent, minWindow, []int{0}, centroid)
	m.updated.mark(root.Depth, root.ID)
	return m, nil
}

// ProcessAll clusters every sample not yet incorporated.
func (m *Manager) ProcessAll(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	if err := m.advance(ctx); err != nil {
		return err
	}
	m.logger.Debug("series processed",
		slog.Int("samples", len(m.series)),
		slog.Int("clusters", m.forest.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Commit permanently appends one sample and clusters it.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - value: The sample to append. Copied.
//
// # Outputs
//
//   - error: ValidationError for a malformed point, InvariantError for
//     corrupt task bookkeeping, or the context error. On error the manager
//     is unchanged.
func (m *Manager) Commit(ctx context.Context, value Point) (err error) {
	if ctx == nil {
		return ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.journal.active {
		return ErrTransactionActive
	}
	if err := m.validatePoint(value); err != nil {
		return err
	}

	ctx, span := m.tracer.StartCommit(ctx, len(m.series))
	before := m.forest.Len()
	defer func() {
		recordCommit(ctx, m.forest.Len()-before, err == nil)
		m.tracer.EndCommit(span, m.forest.Len(), err)
	}()

	// Journalled like Simulate so a failed extension leaves no trace.
	snap := m.beginTx()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("commit panicked: %v", r)
		}
		if err != nil {
			undone := m.rollbackTx(snap)
			m.logger.Warn("commit rolled back", slog.Int("undone", undone), slog.String("error", err.Error()))
			return
		}
		m.keepTx(snap)
	}()

	m.appendSample(value)
	return m.advance(ctx)
}

// Simulate scores a candidate as if it were appended, then restores the
// manager exactly.
//
// # Description
//
// Opens a journal, appends the candidate, clusters it, refreshes the caches
// of the clusters it touched and reads the score. The deferred rollback
// runs on success, on error and on panic.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - candidate: The value to try.
//   - weights: Position weights for the quantity score, indexed by start.
//
// # Outputs
//
//   - Score: Distance and quantity scores of this step only.
//   - error: ErrTransactionActive, a ValidationError or an extension error.
func (m *Manager) Simulate(ctx context.Context, candidate Point, weights []int) (score Score, err error) {
	if ctx == nil {
		return Score{}, ErrNilContext
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.journal.active {
		return Score{}, ErrTransactionActive
	}
	if err := m.validatePoint(candidate); err != nil {
		return Score{}, err
	}

	start := time.Now()
	ctx, span := m.tracer.StartSimulate(ctx, len(m.series), candidate)
	defer func() { m.tracer.EndSimulate(span, score, err) }()

	snap := m.beginTx()
	defer func() {
		if r := recover(); r != nil {
			score = Score{}
			err = fmt.Errorf("simulate panicked: %v", r)
			m.logger.Error("simulate panicked, rolling back", slog.Any("panic", r))
		}
		undone := m.rollbackTx(snap)
		recordSimulate(ctx, time.Since(start), undone, err == nil)
	}()

	m.appendSample(candidate)
	if err := m.advance(ctx); err != nil {
		return Score{}, err
	}
	if err := m.refreshCaches(weights); err != nil {
		return Score{}, err
	}
	return m.updatedScore(), nil
}

// UpdateCaches refreshes the caches of every cluster changed since the last
// refresh and clears the update set.
func (m *Manager) UpdateCaches(weights []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshCaches(weights); err != nil {
		return err
	}
	m.updated = newUpdateSet()
	return nil
}

// Clone returns a fully independent deep copy.
func (m *Manager) Clone() *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &Manager{
		series:    clonePoints(m.series),
		ratio:     m.ratio,
		minWindow: m.minWindow,
		metric:    m.metric,
		forest:    m.forest.clone(),
		tasks:     cloneTasks(m.tasks),
		processed: m.processed,
		updated:   m.updated.clone(),
		cache:     m.cache.clone(),
		logger:    m.logger,
		tracer:    m.tracer,
	}
}

// Len returns the series length.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.series)
}

// Series returns a copy of the series.
func (m *Manager) Series() []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePoints(m.series)
}

// Last returns a copy of the newest sample, or nil for an empty series.
func (m *Manager) Last() Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.series) == 0 {
		return nil
	}
	return m.series[len(m.series)-1].Clone()
}

// Tasks returns a copy of the pending tasks.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTasks(m.tasks)
}

// ClusterCount returns the number of clusters created so far.
func (m *Manager) ClusterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forest.Len()
}

// Cluster returns a copy of one cluster.
func (m *Manager) Cluster(id ClusterID) (Cluster, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.forest.Get(id)
	if !ok {
		return Cluster{}, false
	}
	return *c.clone(), true
}

// Roots returns the root ids in creation order.
func (m *Manager) Roots() []ClusterID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forest.Roots()
}

// MinWindow returns the root subsequence length.
func (m *Manager) MinWindow() int {
	return m.minWindow
}

// Ratio returns the merge threshold ratio.
func (m *Manager) Ratio() float64 {
	return m.ratio
}

// -----------------------------------------------------------------------------
// Mutation path
// -----------------------------------------------------------------------------

func (m *Manager) validatePoint(p Point) error {
	if _, ok := m.metric.(EuclideanMetric); !ok {
		return nil
	}
	if len(p) == 0 {
		return &ValidationError{Op: "append", Detail: "empty point", Err: ErrLengthMismatch}
	}
	if len(m.series) > 0 && len(p) != len(m.series[0]) {
		return &ValidationError{
			Op:     "append",
			Detail: fmt.Sprintf("point dimension %d, series dimension %d", len(p), len(m.series[0])),
			Err:    ErrLengthMismatch,
		}
	}
	return nil
}

func (m *Manager) appendSample(p Point) {
	m.journal.record(journalEntry{op: opSeriesAppend})
	m.series = append(m.series, p.Clone())
}

// advance runs extend for every sample index not yet processed.
func (m *Manager) advance(ctx context.Context) error {
	for m.processed < len(m.series) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.extend(m.processed); err != nil {
			return fmt.Errorf("extend at %d: %w", m.processed, err)
		}
		m.processed++
	}
	return nil
}

// extend incorporates the sample at dataIndex into the forest.
func (m *Manager) extend(dataIndex int) error {
	if err := m.ensureSeedCentroid(); err != nil {
		return err
	}
	scale := m.metric.Scale(m.series[:dataIndex+1])

	current := m.tasks
	m.tasks = nil
	for _, task := range current {
		if err := m.extendTask(task, dataIndex, scale); err != nil {
			return err
		}
	}
	return m.admitRoot(dataIndex, scale)
}

// ensureSeedCentroid fills the seed root's centroid once the series is long
// enough, for managers created with fewer than minWindow samples.
func (m *Manager) ensureSeedCentroid() error {
	seed := m.forest.clusters[0]
	if seed.Centroid != nil || len(m.series) < m.minWindow {
		return nil
	}
	return m.recomputeCentroid(seed)
}

func (m *Manager) extendTask(task Task, dataIndex int, scale float64) error {
	parent, err := m.forest.Resolve(task.Path)
	if err != nil {
		return &InvariantError{Path: slices.Clone(task.Path), Err: err}
	}

	length := parent.Depth + 1
	start := dataIndex - length + 1
	if start < 0 {
		return nil
	}

	var extendable []int
	for _, s := range parent.Members {
		if s != start && s+length <= dataIndex+1 {
			extendable = append(extendable, s)
		}
	}
	if len(extendable) == 0 {
		return nil
	}

	candidate := m.series[start : dataIndex+1]
	if len(parent.Children) > 0 {
		return m.joinNearestChild(parent, task.Path, start, candidate, scale)
	}
	return m.branch(parent, task.Path, start, extendable, candidate, scale)
}

// joinNearestChild adds the candidate to the closest child when it is within
// the threshold, otherwise starts a new sibling. Ties go to the child seen
// last.
func (m *Manager) joinNearestChild(parent *Cluster, path []ClusterID, start int, candidate []Point, scale float64) error {
	best := NoParent
	minDist := math.Inf(1)
	for _, id := range parent.Children {
		d, err := SequenceDistance(m.metric, m.forest.clusters[id].Centroid, candidate)
		if err != nil {
			return err
		}
		if d <= minDist {
			minDist = d
			best = id
		}
	}

	if best != NoParent && withinRatio(minDist, scale, m.ratio) {
		if err := m.addMember(m.forest.clusters[best], start); err != nil {
			return err
		}
		m.enqueue(path, best, len(candidate))
		return nil
	}

	c, err := m.createCluster(parent.ID, len(candidate), []int{start})
	if err != nil {
		return err
	}
	m.enqueue(path, c.ID, len(candidate))
	return nil
}

// branch splits a childless parent's extendable members into those close to
// the candidate, which join it in one new child, and the rest, which each
// get a singleton child.
func (m *Manager) branch(parent *Cluster, path []ClusterID, start int, extendable []int, candidate []Point, scale float64) error {
	length := len(candidate)
	var valid, invalid []int
	for _, s := range extendable {
		d, err := SequenceDistance(m.metric, m.series[s:s+length], candidate)
		if err != nil {
			return err
		}
		if withinRatio(d, scale, m.ratio) {
			valid = append(valid, s)
		} else {
			invalid = append(invalid, s)
		}
	}

	c, err := m.createCluster(parent.ID, length, append(valid, start))
	if err != nil {
		return err
	}
	m.enqueue(path, c.ID, length)

	for _, s := range invalid {
		if _, err := m.createCluster(parent.ID, length, []int{s}); err != nil {
			return err
		}
	}
	return nil
}

// admitRoot offers the newest minWindow-length subsequence to the roots.
// The first strictly closest root that does not already hold the start
// wins.
func (m *Manager) admitRoot(dataIndex int, scale float64) error {
	start := dataIndex - m.minWindow + 1
	candidate := m.series[start : dataIndex+1]

	best := NoParent
	minDist := math.Inf(1)
	for _, id := range m.forest.roots {
		root := m.forest.clusters[id]
		if root.HasMember(start) {
			continue
		}
		d, err := SequenceDistance(m.metric, root.Centroid, candidate)
		if err != nil {
			return err
		}
		if d < minDist {
			minDist = d
			best = id
		}
	}

	if best != NoParent && withinRatio(minDist, scale, m.ratio) {
		if err := m.addMember(m.forest.clusters[best], start); err != nil {
			return err
		}
		m.enqueue(nil, best, m.minWindow)
		return nil
	}

	c, err := m.createCluster(NoParent, m.minWindow, []int{start})
	if err != nil {
		return err
	}
	m.enqueue(nil, c.ID, m.minWindow)
	return nil
}

func (m *Manager) enqueue(parentPath []ClusterID, id ClusterID, depth int) {
	path := make([]ClusterID, 0, len(parentPath)+1)
	path = append(path, parentPath...)
	path = append(path, id)
	m.tasks = append(m.tasks, Task{Path: path, Depth: depth})
}

func (m *Manager) addMember(c *Cluster, start int) error {
	if c.HasMember(start) {
		return nil
	}
	m.journal.record(journalEntry{op: opMemberAdd, cluster: c.ID})
	c.Members = append(c.Members, start)
	return m.recomputeCentroid(c)
}

func (m *Manager) recomputeCentroid(c *Cluster) error {
	centroid, err := m.centroidOf(c.Members, c.Depth)
	if err != nil {
		return err
	}
	m.journal.record(journalEntry{op: opCentroidSet, cluster: c.ID, prevCentroid: c.Centroid})
	c.Centroid = centroid
	m.updated.mark(c.Depth, c.ID)
	return nil
}

func (m *Manager) createCluster(parent ClusterID, depth int, members []int) (*Cluster, error) {
	centroid, err := m.centroidOf(members, depth)
	if err != nil {
		return nil, err
	}
	c := m.forest.add(parent, depth, members, centroid)
	m.journal.record(journalEntry{op: opClusterCreate, cluster: c.ID})
	m.updated.mark(depth, c.ID)
	return c, nil
}

// centroidOf returns the per-position mean of the members' subsequences.
func (m *Manager) centroidOf(members []int, length int) ([]Point, error) {
	out := make([]Point, length)
	column := make([]Point, len(members))
	for pos := 0; pos < length; pos++ {
		for i, s := range members {
			column[i] = m.series[s+pos]
		}
		mean, err := m.metric.Mean(column)
		if err != nil {
			return nil, err
		}
		out[pos] = mean
	}
	return out, nil
}

// withinRatio reports whether dist/scale is within the threshold. A zero
// scale always merges.
func withinRatio(dist, scale, ratio float64) bool {
	r := 0.0
	if scale != 0 {
		r = dist / scale
	}
	return r <= ratio
}
