// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/motif/services/motif/generate"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "motif.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// =============================================================================
// Parsing helpers
// =============================================================================

func TestParseFloats(t *testing.T) {
	got, err := parseFloats("1, 2.5,3")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5, 3}, got)

	got, err = parseFloats("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseFloats("1,x")
	assert.Error(t, err)
}

func TestParseInts(t *testing.T) {
	got, err := parseInts("2,3,1")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1}, got)

	_, err = parseInts("2,3.5")
	assert.Error(t, err)
}

func TestReadRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.yaml")
	require.NoError(t, os.WriteFile(path, []byte("series: [1, 2, 1, 2]\nmin_window: 3\n"), 0644))

	var req struct {
		Series    []float64 `yaml:"series"`
		MinWindow int       `yaml:"min_window"`
	}
	cmd := newRootCmd()
	require.NoError(t, readRequest(cmd, path, &req))
	assert.Equal(t, []float64{1, 2, 1, 2}, req.Series)
	assert.Equal(t, 3, req.MinWindow)

	// JSON is valid YAML.
	cmd.SetIn(strings.NewReader(`{"series": [5, 6], "min_window": 2}`))
	require.NoError(t, readRequest(cmd, "-", &req))
	assert.Equal(t, []float64{5, 6}, req.Series)

	assert.Error(t, readRequest(cmd, filepath.Join(dir, "missing.yaml"), &req))
}

// =============================================================================
// Commands
// =============================================================================

func TestAnalyseCommand(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "motif.yaml")

	out, err := runCLI(t, "--config", configPath, "--no-archive", "analyse", "--series", "3,3,3,3", "--merge-ratio", "0.5")
	require.NoError(t, err)

	var res struct {
		RunID  string    `json:"run_id"`
		Series []float64 `json:"series"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []float64{3, 3, 3, 3}, res.Series)
}

func TestAnalyseCommand_RequestFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "motif.yaml")
	reqPath := filepath.Join(dir, "req.yaml")
	require.NoError(t, os.WriteFile(reqPath, []byte("series: [1, 2, 1, 2, 1, 2]\n"), 0644))

	out, err := runCLI(t, "--config", configPath, "--no-archive", "analyse", "-r", reqPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"series":[1,2,1,2,1,2]`)
}

func TestAnalyseCommand_InvalidRequest(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "motif.yaml")
	_, err := runCLI(t, "--config", configPath, "--no-archive", "analyse")
	assert.Error(t, err)
}

func TestGenerateCommand_DissonanceOutlineNeedsRanks(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "motif.yaml")
	_, err := runCLI(t, "--config", configPath, "--no-archive", "generate",
		"--seed", "60,62,64", "--targets", "0.5", "--min", "55", "--max", "72", "--outline", "dissonance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dissonance.ranks")
}

func TestPolyphonicCommand_MappingFlags(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "motif.yaml")

	_, err := runCLI(t, "--config", configPath, "--no-archive", "polyphonic", "--counts", "1", "--mapping", "nearest")
	assert.ErrorIs(t, err, generate.ErrInvalidRequest)

	out, err := runCLI(t, "--config", configPath, "--no-archive", "polyphonic", "--counts", "1", "--mapping", "pitch_distance")
	require.NoError(t, err)
	assert.Contains(t, out, `"dimensions"`)
}

func TestRunsCommands(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "archive:\n  enabled: true\n  path: "+filepath.Join(dir, "runs")+"\n")

	out, err := runCLI(t, "--config", configPath, "analyse", "--series", "1,2,1,2")
	require.NoError(t, err)
	var res struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	out, err = runCLI(t, "--config", configPath, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, res.RunID)
	assert.Contains(t, out, "analyse")

	out, err = runCLI(t, "--config", configPath, "runs", "show", res.RunID)
	require.NoError(t, err)
	var rec struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, res.RunID, rec.ID)
	assert.Equal(t, "analyse", rec.Kind)

	_, err = runCLI(t, "--config", configPath, "runs", "delete", res.RunID)
	require.NoError(t, err)

	_, err = runCLI(t, "--config", configPath, "runs", "show", res.RunID)
	assert.Error(t, err)
}

func TestRunsCommands_NoArchive(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "motif.yaml")
	_, err := runCLI(t, "--config", configPath, "runs", "list")
	assert.ErrorIs(t, err, errNoArchive)
}

func TestConfigCommands(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "motif.yaml")

	out, err := runCLI(t, "--config", configPath, "config", "init")
	require.NoError(t, err)
	assert.Equal(t, configPath, strings.TrimSpace(out))
	assert.FileExists(t, configPath)

	out, err = runCLI(t, "--config", configPath, "--log-level", "debug", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "merge_ratio: 0.1")
	assert.Contains(t, out, "level: debug")
}

func TestRootCommand_InvalidLogLevel(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "motif.yaml")
	_, err := runCLI(t, "--config", configPath, "--log-level", "loud", "config", "show")
	assert.Error(t, err)
}
