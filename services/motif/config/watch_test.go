// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "motif.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan MotifConfig, 4)
	require.NoError(t, Watch(ctx, path, nil, func(c MotifConfig) { changes <- c }))

	// An invalid edit is skipped.
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644))
	time.Sleep(3 * reloadDebounce)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644))

	select {
	case c := <-changes:
		assert.Equal(t, "debug", c.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644))
	select {
	case c := <-changes:
		t.Fatalf("unexpected reload: %+v", c.Logging)
	case <-time.After(3 * reloadDebounce):
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent", "motif.yaml"), nil, func(MotifConfig) {})
	assert.Error(t, err)
}
