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
	"errors"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/motif/services/motif/archive"
	"github.com/AleutianAI/motif/services/motif/generate"
)

// engineFlags are the clustering overrides shared by every run command.
type engineFlags struct {
	requestPath string
	mergeRatio  float64
	minWindow   int
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.requestPath, "request", "r", "", "YAML or JSON request file, - for stdin")
	cmd.Flags().Float64Var(&f.mergeRatio, "merge-ratio", 0, "override engine.merge_ratio")
	cmd.Flags().IntVar(&f.minWindow, "min-window", 0, "override engine.min_window")
}

// apply sets the merge ratio and min window: config first, then the
// request file, then flags.
func (f *engineFlags) apply(cmd *cobra.Command, a *app, req any, ratio *float64, window *int) error {
	*ratio = a.cfg.Engine.MergeRatio
	*window = a.cfg.Engine.MinWindow
	if f.requestPath != "" {
		if err := readRequest(cmd, f.requestPath, req); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("merge-ratio") {
		*ratio = f.mergeRatio
	}
	if cmd.Flags().Changed("min-window") {
		*window = f.minWindow
	}
	return nil
}

func newAnalyseCmd(a *app) *cobra.Command {
	var (
		flags  engineFlags
		series string
	)
	cmd := &cobra.Command{
		Use:   "analyse",
		Short: "Cluster an existing series and print its motif forest",
		Example: `  motif analyse --series 3,3,3,3 --merge-ratio 0.5
  motif analyse -r request.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req generate.AnalyseRequest
			if err := flags.apply(cmd, a, &req, &req.MergeRatio, &req.MinWindow); err != nil {
				return err
			}
			if series != "" {
				values, err := parseFloats(series)
				if err != nil {
					return err
				}
				req.Series = values
			}

			res, err := a.generator(generate.WithReporter(generate.LogReporter{Logger: a.logger.Slog()})).Analyse(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := a.archiveRun(cmd, res.RunID, archive.KindAnalyse, req, res); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&series, "series", "", "comma separated series, overrides the request file")
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		flags    engineFlags
		seed     string
		targets  string
		rangeMin int
		rangeMax int
		outline  string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one voice that follows a complexity curve",
		Example: `  motif generate --seed 60,62,64,60 --targets 0.2,0.5,0.9 --min 55 --max 72
  motif generate -r single.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req generate.SingleRequest
			if err := flags.apply(cmd, a, &req, &req.MergeRatio, &req.MinWindow); err != nil {
				return err
			}
			if seed != "" {
				values, err := parseFloats(seed)
				if err != nil {
					return err
				}
				req.Seed = values
			}
			if targets != "" {
				values, err := parseFloats(targets)
				if err != nil {
					return err
				}
				req.ComplexityTargets = values
			}
			if cmd.Flags().Changed("min") {
				req.RangeMin = rangeMin
			}
			if cmd.Flags().Changed("max") {
				req.RangeMax = rangeMax
			}
			if cmd.Flags().Changed("outline") {
				req.Outline = generate.Outline(outline)
			}
			if req.Outline == generate.OutlineDissonance && len(req.Dissonance.Ranks) == 0 {
				return errors.New("the dissonance outline needs dissonance.ranks in the request file")
			}

			res, err := a.generator(generate.WithReporter(generate.LogReporter{Logger: a.logger.Slog()})).Single(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := a.archiveRun(cmd, res.RunID, archive.KindSingle, req, res); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&seed, "seed", "", "comma separated seed series")
	cmd.Flags().StringVar(&targets, "targets", "", "comma separated complexity targets in [0,1]")
	cmd.Flags().IntVar(&rangeMin, "min", 0, "smallest candidate value")
	cmd.Flags().IntVar(&rangeMax, "max", 0, "largest candidate value")
	cmd.Flags().StringVar(&outline, "outline", "", "candidate outline: dissonance or duration")
	return cmd
}

func newPolyphonicCmd(a *app) *cobra.Command {
	var (
		flags        engineFlags
		counts       string
		mapping      string
		externalCost bool
	)
	cmd := &cobra.Command{
		Use:   "polyphonic",
		Short: "Generate several dimensions of a stream pool",
		Long: `Generate one value per stream and dimension for every step of the
stream count schedule. Without a request file, or when the request names no
dimensions, the default vol, octave, bri, hrd, tex and note dimensions are
used together with the default voicing.`,
		Example: `  motif polyphonic --counts 2,3,3,1
  motif polyphonic -r polyphonic.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req generate.PolyphonicRequest
			if err := flags.apply(cmd, a, &req, &req.MergeRatio, &req.MinWindow); err != nil {
				return err
			}
			if counts != "" {
				values, err := parseInts(counts)
				if err != nil {
					return err
				}
				req.StreamCounts = values
			}
			if cmd.Flags().Changed("mapping") {
				req.Mapping = mapping
			}
			if cmd.Flags().Changed("external-cost") {
				req.ExternalCost = externalCost
			}
			if len(req.Dimensions) == 0 {
				req.Dimensions = generate.DefaultDimensions()
				if req.Voicing == nil {
					req.Voicing = generate.DefaultVoicing()
				}
			}

			res, err := a.generator(generate.WithReporter(generate.LogReporter{Logger: a.logger.Slog()})).Polyphonic(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := a.archiveRun(cmd, res.RunID, archive.KindPolyphonic, req, res); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&counts, "counts", "", "comma separated stream count per generated step")
	cmd.Flags().StringVar(&mapping, "mapping", generate.MappingComplexity, "stream mapping: complexity or pitch_distance")
	cmd.Flags().BoolVar(&externalCost, "external-cost", false, "map the pitch dimension by memory roughness")
	return cmd
}
