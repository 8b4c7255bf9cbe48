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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a loaded config fails validation.
var ErrInvalidConfig = errors.New("invalid motif config")

var configValidate = validator.New()

// Environment variables that override file values.
const (
	EnvServerAddr       = "MOTIF_ADDR"
	EnvArchivePath      = "MOTIF_ARCHIVE_PATH"
	EnvTelemetry        = "MOTIF_TELEMETRY"
	EnvTelemetryAddress = "MOTIF_OTLP_ENDPOINT"
	EnvLogLevel         = "MOTIF_LOG_LEVEL"
	EnvMergeRatio       = "MOTIF_MERGE_RATIO"
)

// DefaultPath returns ~/.aleutian/motif.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "motif.yaml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied before validation.
func Load(path string) (MotifConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read the config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOrCreate loads path, writing the defaults there first if it does not
// exist.
func LoadOrCreate(path string) (MotifConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return MotifConfig{}, err
		}
	}
	return Load(path)
}

// Validate checks every section.
func Validate(cfg MotifConfig) error {
	if err := configValidate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyEnv overrides file values from the environment.
func ApplyEnv(cfg *MotifConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvServerAddr); ok && v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := lookup(EnvArchivePath); ok {
		cfg.Archive.Path = v
	}
	if v, ok := lookup(EnvTelemetry); ok && v != "" {
		cfg.Telemetry.Exporter = v
	}
	if v, ok := lookup(EnvTelemetryAddress); ok && v != "" {
		cfg.Telemetry.Endpoint = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := lookup(EnvMergeRatio); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvMergeRatio, v, err)
		}
		cfg.Engine.MergeRatio = r
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
