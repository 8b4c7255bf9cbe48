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
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/motif/pkg/logging"
	"github.com/AleutianAI/motif/services/motif/archive"
	"github.com/AleutianAI/motif/services/motif/config"
	"github.com/AleutianAI/motif/services/motif/generate"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	jsonLogs   bool
	noArchive  bool

	cfg    config.MotifConfig
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	defaultPath, err := config.DefaultPath()
	if err != nil {
		defaultPath = "motif.yaml"
	}

	root := &cobra.Command{
		Use:   "motif",
		Short: "Analyse and generate sequences by hierarchical motif clustering",
		Long: `motif clusters repeated subsequences of a series into a forest of
motifs and uses the resulting complexity scores to generate new material,
either one voice at a time or as several dimensions of a stream pool.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", defaultPath, "path to motif.yaml")
	flags.StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flags.BoolVar(&a.jsonLogs, "json-logs", false, "write logs as JSON")
	flags.BoolVar(&a.noArchive, "no-archive", false, "do not archive finished runs")

	root.AddCommand(
		newAnalyseCmd(a),
		newGenerateCmd(a),
		newPolyphonicCmd(a),
		newServeCmd(a),
		newRunsCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.jsonLogs {
		cfg.Logging.JSON = true
	}
	a.cfg = cfg

	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		LogDir:  cfg.Logging.Dir,
		Service: "motif",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// generator builds a Generator from the engine and dissonance sections.
func (a *app) generator(opts ...generate.Option) *generate.Generator {
	base := []generate.Option{
		generate.WithLogger(a.logger.With("component", "generator")),
		generate.WithMaxCandidates(a.cfg.Engine.MaxCandidates),
		generate.WithMaxPermutationSize(a.cfg.Engine.MaxPermutationSize),
		generate.WithSTMConfig(a.cfg.Dissonance),
	}
	return generate.New(append(base, opts...)...)
}

// openArchive opens the configured on-disk archive. It returns nil when
// archiving is disabled or no path is configured.
func (a *app) openArchive() (*archive.Store, error) {
	if a.noArchive || !a.cfg.Archive.Enabled || a.cfg.Archive.Path == "" {
		return nil, nil
	}
	cfg := archive.DefaultConfig(a.cfg.Archive.Path)
	cfg.Logger = a.logger.With("component", "badger")
	return archive.Open(cfg)
}

// archiveRun stores a finished CLI run when an archive is configured.
func (a *app) archiveRun(cmd *cobra.Command, id string, kind archive.Kind, req, res any) error {
	store, err := a.openArchive()
	if err != nil || store == nil {
		return err
	}
	defer store.Close()
	_, err = store.Put(cmd.Context(), id, kind, req, res)
	return err
}

// writeJSON prints v, indented when the destination is a terminal.
func writeJSON(w io.Writer, v any) error {
	var (
		data []byte
		err  error
	)
	if isTerminal(w) {
		data, err = sonic.ConfigStd.MarshalIndent(v, "", "  ")
	} else {
		data, err = sonic.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// readRequest decodes a YAML or JSON request file into v. "-" reads stdin.
func readRequest(cmd *cobra.Command, path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read request %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse request %s: %w", path, err)
	}
	return nil
}

// parseFloats parses a comma separated list such as "1, 2.5,3".
func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseInts parses a comma separated list of integers.
func parseInts(s string) ([]int, error) {
	floats, err := parseFloats(s)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(floats))
	for i, f := range floats {
		if f != float64(int(f)) {
			return nil, fmt.Errorf("invalid integer %v", f)
		}
		out[i] = int(f)
	}
	return out, nil
}
