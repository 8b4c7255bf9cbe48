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
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/motif/services/motif/cluster"
)

// AnalyseRequest clusters an existing series.
type AnalyseRequest struct {
	Series     []float64 `json:"series" yaml:"series" validate:"required,min=1"`
	MergeRatio float64   `json:"merge_ratio" yaml:"merge_ratio" validate:"gte=0"`
	MinWindow  int       `json:"min_window" yaml:"min_window" validate:"gte=1"`
}

// Validate fills defaults and checks the request.
func (r *AnalyseRequest) Validate() error {
	if r.MinWindow == 0 {
		r.MinWindow = DefaultMinWindow
	}
	return validateRequest(r)
}

// AnalyseResult is the clustered series.
type AnalyseResult struct {
	RunID             string                  `json:"run_id"`
	Series            []float64               `json:"series"`
	Timeline          []cluster.TimelineEntry `json:"timeline"`
	Clusters          []cluster.Node          `json:"clusters"`
	ProcessingSeconds float64                 `json:"processing_seconds"`
}

// Analyse clusters req.Series and exports the forest.
func (g *Generator) Analyse(ctx context.Context, req AnalyseRequest) (*AnalyseResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	runID := g.runID(ctx)
	g.reporters.Start(runID)

	m, err := cluster.NewManager(cluster.ScalarSeries(req.Series), req.MergeRatio, req.MinWindow, g.clusterOptions()...)
	if err != nil {
		return nil, err
	}
	if err := m.ProcessAll(ctx); err != nil {
		return nil, err
	}

	res := &AnalyseResult{
		RunID:             runID,
		Series:            append([]float64(nil), req.Series...),
		Timeline:          m.Timeline(),
		Clusters:          m.Tree(false),
		ProcessingSeconds: time.Since(start).Seconds(),
	}
	g.reporters.Done(runID)
	g.logger.Info("analysis complete",
		slog.String("run_id", runID),
		slog.Int("samples", len(req.Series)),
		slog.Int("clusters", m.ClusterCount()),
	)
	return res, nil
}
