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
	"log/slog"
	"sync"
	"time"
)

// Reporter receives progress for one run.
type Reporter interface {
	Start(runID string)
	Progress(runID string, percent int)
	Done(runID string)
}

// Percent returns floor(current*100/total), or 100 when total is zero.
func Percent(current, total int) int {
	if total <= 0 {
		return 100
	}
	return current * 100 / total
}

// NopReporter discards progress.
type NopReporter struct{}

// Start implements Reporter.
func (NopReporter) Start(string) {}

// Progress implements Reporter.
func (NopReporter) Progress(string, int) {}

// Done implements Reporter.
func (NopReporter) Done(string) {}

// LogReporter writes progress to a logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Start implements Reporter.
func (r LogReporter) Start(runID string) {
	r.logger().Info("run started", slog.String("run_id", runID))
}

// Progress implements Reporter.
func (r LogReporter) Progress(runID string, percent int) {
	r.logger().Debug("run progress", slog.String("run_id", runID), slog.Int("percent", percent))
}

// Done implements Reporter.
func (r LogReporter) Done(runID string) {
	r.logger().Info("run done", slog.String("run_id", runID))
}

// ProgressEvent is one recorded progress update.
type ProgressEvent struct {
	Status  string `json:"status"`
	Percent int    `json:"progress,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DefaultRetention is how long a Tracker remembers finished runs.
const DefaultRetention = 15 * time.Minute

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithRetention sets how long done and failed runs stay visible. Running
// runs never expire.
func WithRetention(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

type trackedRun struct {
	event    ProgressEvent
	finished time.Time
}

// Tracker keeps the latest progress of every run in memory.
//
// # Description
//
// Finished runs are dropped once they are older than the retention. Expired
// entries are hidden from Get at once and removed by a sweep that runs at
// most once per retention period, on write.
//
// # Thread Safety
//
// Safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	runs      map[string]trackedRun
	retention time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		runs:      make(map[string]trackedRun),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastSweep = t.now()
	return t
}

// Start implements Reporter.
func (t *Tracker) Start(runID string) {
	t.set(runID, ProgressEvent{Status: "start"})
}

// Progress implements Reporter.
func (t *Tracker) Progress(runID string, percent int) {
	t.set(runID, ProgressEvent{Status: "progress", Percent: percent})
}

// Done implements Reporter.
func (t *Tracker) Done(runID string) {
	t.set(runID, ProgressEvent{Status: "done", Percent: 100})
}

// Fail marks a run as failed. Runs report no failure through Reporter, so
// callers that own the run record it here.
func (t *Tracker) Fail(runID string, err error) {
	ev := ProgressEvent{Status: "failed"}
	if err != nil {
		ev.Error = err.Error()
	}
	t.set(runID, ev)
}

// Forget drops a run.
func (t *Tracker) Forget(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, runID)
}

// Get returns the latest event of a run.
func (t *Tracker) Get(runID string) (ProgressEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok || t.expired(run, t.now()) {
		return ProgressEvent{}, false
	}
	return run.event, true
}

// Len returns the number of runs held, expired ones not yet swept included.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}

func (t *Tracker) set(runID string, ev ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	run := trackedRun{event: ev}
	if ev.Status == "done" || ev.Status == "failed" {
		run.finished = now
	}
	t.runs[runID] = run

	if now.Sub(t.lastSweep) >= t.retention {
		for id, r := range t.runs {
			if t.expired(r, now) {
				delete(t.runs, id)
			}
		}
		t.lastSweep = now
	}
}

func (t *Tracker) expired(run trackedRun, now time.Time) bool {
	return !run.finished.IsZero() && now.Sub(run.finished) >= t.retention
}

// multiReporter fans progress out to several reporters.
type multiReporter []Reporter

func (m multiReporter) Start(runID string) {
	for _, r := range m {
		r.Start(runID)
	}
}

func (m multiReporter) Progress(runID string, percent int) {
	for _, r := range m {
		r.Progress(runID, percent)
	}
}

func (m multiReporter) Done(runID string) {
	for _, r := range m {
		r.Done(runID)
	}
}
