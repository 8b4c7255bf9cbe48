// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrNotFound is returned when no run has the requested id.
	ErrNotFound = errors.New("run not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("archive closed")
)

var archiveOps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "motif",
		Subsystem: "archive",
		Name:      "operations_total",
		Help:      "Archive operations by kind and outcome",
	},
	[]string{"op", "status"},
)

const keyPrefix = "run/"

// Kind names the operation that produced a run.
type Kind string

const (
	KindAnalyse    Kind = "analyse"
	KindSingle     Kind = "single"
	KindPolyphonic Kind = "polyphonic"
)

// Record is one archived run. Request and Result hold the JSON encoding of
// whatever the caller stored.
type Record struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Request   json.RawMessage `json:"request"`
	Result    json.RawMessage `json:"result"`
}

// Summary is the listing view of a Record.
type Summary struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes run records.
//
// # Thread Safety
//
// Safe for concurrent use. Close must not race with other calls.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
	closed bool
}

// Open opens the archive described by cfg.
//
// # Description
//
// Persistent archives also start a value log GC runner when
// cfg.GCInterval is positive.
//
// # Outputs
//
//   - *Store: Call Close when done.
//   - error: Non-nil if the directory or database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		ttl:    cfg.TTL,
		logger: logger.With("component", "archive"),
		now:    time.Now,
	}
	if cfg.GCInterval > 0 && !cfg.inMemory() {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Close stops GC and closes the database. Later calls are no-ops.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Put stores request and result under id. An empty id gets a fresh uuid.
func (s *Store) Put(ctx context.Context, id string, kind Kind, request, result any) (Record, error) {
	if s.closed {
		return Record{}, ErrClosed
	}
	if id == "" {
		id = uuid.NewString()
	}
	rec := Record{ID: id, Kind: kind, CreatedAt: s.now().UTC()}

	var err error
	if rec.Request, err = sonic.Marshal(request); err != nil {
		return Record{}, fmt.Errorf("encode request of run %s: %w", id, err)
	}
	if rec.Result, err = sonic.Marshal(result); err != nil {
		return Record{}, fmt.Errorf("encode result of run %s: %w", id, err)
	}
	data, err := sonic.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode run %s: %w", id, err)
	}

	err = withTxn(ctx, s.db, func(txn *badger.Txn) error {
		entry := badger.NewEntry(runKey(id), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	observe("put", err)
	if err != nil {
		return Record{}, fmt.Errorf("store run %s: %w", id, err)
	}
	s.logger.Debug("run archived", "run_id", id, "kind", kind, "bytes", len(data))
	return rec, nil
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	if s.closed {
		return Record{}, ErrClosed
	}
	var rec Record
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return sonic.Unmarshal(val, &rec)
		})
	})
	observe("get", err)
	return rec, err
}

// List returns summaries newest first. An empty kind lists every run and a
// non-positive limit returns all of them.
func (s *Store) List(ctx context.Context, kind Kind, limit int) ([]Summary, error) {
	if s.closed {
		return nil, ErrClosed
	}
	var out []Summary
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sum Summary
			if err := it.Item().Value(func(val []byte) error {
				return sonic.Unmarshal(val, &sum)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if kind == "" || sum.Kind == kind {
				out = append(out, sum)
			}
		}
		return nil
	})
	observe("list", err)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the run with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.closed {
		return ErrClosed
	}
	err := withTxn(ctx, s.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		return txn.Delete(runKey(id))
	})
	observe("delete", err)
	return err
}

func runKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func observe(op string, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	archiveOps.WithLabelValues(op, status).Inc()
}
