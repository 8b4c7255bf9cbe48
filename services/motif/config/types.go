// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the motif YAML configuration.
package config

import "github.com/AleutianAI/motif/services/motif/dissonance"

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// MotifConfig is the root of motif.yaml.
type MotifConfig struct {
	Meta       MetaConfig           `yaml:"meta"`
	Engine     EngineConfig         `yaml:"engine"`
	Dissonance dissonance.STMConfig `yaml:"dissonance"`
	Server     ServerConfig         `yaml:"server"`
	Archive    ArchiveConfig        `yaml:"archive"`
	Telemetry  TelemetryConfig      `yaml:"telemetry"`
	Logging    LoggingConfig        `yaml:"logging"`
}

// MetaConfig identifies the file format.
type MetaConfig struct {
	Version string `yaml:"version" validate:"required"`
}

// EngineConfig sets clustering and generation defaults.
type EngineConfig struct {
	MergeRatio         float64 `yaml:"merge_ratio" validate:"gte=0"`
	MinWindow          int     `yaml:"min_window" validate:"gte=1"`
	MaxPermutationSize int     `yaml:"max_permutation_size" validate:"gte=1,lte=10"`
	MaxCandidates      int     `yaml:"max_candidates" validate:"gte=1"`
}

// ServerConfig configures `motif serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	Mode string `yaml:"mode" validate:"oneof=debug release test"`
}

// ArchiveConfig configures the run archive. An empty path keeps runs in
// memory.
type ArchiveConfig struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// TelemetryConfig selects the metrics and trace exporter.
type TelemetryConfig struct {
	Exporter    string `yaml:"exporter" validate:"oneof=none stdout otlp prometheus"`
	Endpoint    string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() MotifConfig {
	return MotifConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Engine: EngineConfig{
			MergeRatio:         0.1,
			MinWindow:          2,
			MaxPermutationSize: 8,
			MaxCandidates:      2000,
		},
		Dissonance: dissonance.DefaultSTMConfig(),
		Server: ServerConfig{
			Addr: ":8090",
			Mode: "release",
		},
		Archive: ArchiveConfig{Enabled: true},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "motif",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
