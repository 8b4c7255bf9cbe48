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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult struct {
	Series []float64 `json:"series"`
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func clockFrom(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestStore_PutGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	rec, err := s.Put(ctx, "run-1", KindSingle, map[string]any{"seed": []int{1, 2}}, fakeResult{Series: []float64{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.ID)

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, KindSingle, got.Kind)
	assert.JSONEq(t, `{"seed":[1,2]}`, string(got.Request))
	assert.JSONEq(t, `{"series":[1,2,3]}`, string(got.Result))
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestStore_GeneratesID(t *testing.T) {
	s := openMemory(t)
	rec, err := s.Put(context.Background(), "", KindAnalyse, nil, nil)
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)
}

func TestStore_NotFound(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openMemory(t)
	s.now = clockFrom(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, p := range []struct {
		id   string
		kind Kind
	}{{"a", KindAnalyse}, {"b", KindPolyphonic}, {"c", KindAnalyse}} {
		_, err := s.Put(ctx, p.id, p.kind, nil, nil)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	analyses, err := s.List(ctx, KindAnalyse, 0)
	require.NoError(t, err)
	require.Len(t, analyses, 2)
	assert.Equal(t, "c", analyses[0].ID)

	limited, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Delete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "gone", KindSingle, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "gone"))

	_, err = s.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "x", KindSingle, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	_, err = s.Put(ctx, "kept", KindAnalyse, nil, fakeResult{Series: []float64{4}})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	_, err = s.Get(ctx, "kept")
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Get(ctx, "kept")
	require.NoError(t, err)
	assert.JSONEq(t, `{"series":[4]}`, string(rec.Result))
}
