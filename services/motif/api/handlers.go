// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes analysis and generation over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/motif/services/motif/archive"
	"github.com/AleutianAI/motif/services/motif/generate"
)

var apiTracer = otel.Tracer("aleutian.motif.api")

// Server holds what the handlers share.
//
// # Thread Safety
//
// Safe for concurrent use. Async runs are tracked until Shutdown returns.
type Server struct {
	gen       *generate.Generator
	tracker   *generate.Tracker
	store     *archive.Store
	logger    *slog.Logger
	minWindow int

	// runCtx parents async runs so Shutdown can cancel them.
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithArchive stores every finished run.
func WithArchive(store *archive.Store) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultMinWindow fills min_window when a request leaves it at zero.
func WithDefaultMinWindow(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.minWindow = n
		}
	}
}

// NewServer creates a Server. The tracker must also be registered as a
// reporter on gen for progress polling to work.
func NewServer(gen *generate.Generator, tracker *generate.Tracker, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		gen:       gen,
		tracker:   tracker,
		logger:    slog.Default().With("component", "api"),
		minWindow: generate.DefaultMinWindow,
		runCtx:    ctx,
		cancelRun: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shutdown cancels async runs and waits for them to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRun()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runFunc executes one run under ctx.
type runFunc func(ctx context.Context) (runID string, result any, err error)

// HandleAnalyse serves POST /v1/analyse.
func (s *Server) HandleAnalyse(c *gin.Context) {
	var req generate.AnalyseRequest
	if !s.bind(c, &req) {
		return
	}
	if req.MinWindow == 0 {
		req.MinWindow = s.minWindow
	}
	s.execute(c, archive.KindAnalyse, req, func(ctx context.Context) (string, any, error) {
		res, err := s.gen.Analyse(ctx, req)
		if err != nil {
			return "", nil, err
		}
		return res.RunID, res, nil
	})
}

// HandleSingle serves POST /v1/single.
func (s *Server) HandleSingle(c *gin.Context) {
	var req generate.SingleRequest
	if !s.bind(c, &req) {
		return
	}
	if req.MinWindow == 0 {
		req.MinWindow = s.minWindow
	}
	s.execute(c, archive.KindSingle, req, func(ctx context.Context) (string, any, error) {
		res, err := s.gen.Single(ctx, req)
		if err != nil {
			return "", nil, err
		}
		return res.RunID, res, nil
	})
}

// HandlePolyphonic serves POST /v1/polyphonic. An empty dimension list
// uses the default dimensions and voicing.
func (s *Server) HandlePolyphonic(c *gin.Context) {
	var req generate.PolyphonicRequest
	if !s.bind(c, &req) {
		return
	}
	if len(req.Dimensions) == 0 {
		req.Dimensions = generate.DefaultDimensions()
		if req.Voicing == nil {
			req.Voicing = generate.DefaultVoicing()
		}
	}
	if req.MinWindow == 0 {
		req.MinWindow = s.minWindow
	}
	s.execute(c, archive.KindPolyphonic, req, func(ctx context.Context) (string, any, error) {
		res, err := s.gen.Polyphonic(ctx, req)
		if err != nil {
			return "", nil, err
		}
		return res.RunID, res, nil
	})
}

// execute runs fn synchronously, or in the background when the request
// carries ?async=true. Async runs answer 202 with the run id; progress is
// polled on /v1/progress/:id and the result appears under /v1/runs/:id once
// archived.
func (s *Server) execute(c *gin.Context, kind archive.Kind, req any, fn runFunc) {
	ctx, span := apiTracer.Start(c.Request.Context(), "motif."+string(kind))
	defer span.End()

	// The id is fixed here so failures can be tracked under it.
	runID := uuid.NewString()
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if s.store == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "async runs need an archive"})
			return
		}
		span.SetAttributes(attribute.String("run_id", runID), attribute.Bool("async", true))
		s.tracker.Start(runID)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.finish(generate.ContextWithRunID(s.runCtx, runID), kind, req, fn)
		}()
		c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
		return
	}

	_, result, err := s.finish(generate.ContextWithRunID(ctx, runID), kind, req, fn)
	span.SetAttributes(attribute.String("run_id", runID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "run_id": runID})
		return
	}
	c.JSON(http.StatusOK, result)
}

// finish runs fn and archives the result.
func (s *Server) finish(ctx context.Context, kind archive.Kind, req any, fn runFunc) (string, any, error) {
	runID, result, err := fn(ctx)
	if err != nil {
		if id, ok := generate.RunIDFromContext(ctx); ok {
			s.tracker.Fail(id, err)
		}
		s.logger.Warn("run failed", "kind", kind, "error", err)
		return runID, nil, err
	}
	if s.store != nil {
		if _, err := s.store.Put(context.WithoutCancel(ctx), runID, kind, req, result); err != nil {
			s.logger.Error("failed to archive run", "run_id", runID, "error", err)
		}
	}
	return runID, result, nil
}

// HandleProgress serves GET /v1/progress/:id.
func (s *Server) HandleProgress(c *gin.Context) {
	ev, ok := s.tracker.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

// HandleListRuns serves GET /v1/runs?kind=&limit=.
func (s *Server) HandleListRuns(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	runs, err := s.store.List(c.Request.Context(), archive.Kind(c.Query("kind")), limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []archive.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleGetRun serves GET /v1/runs/:id.
func (s *Server) HandleGetRun(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleDeleteRun serves DELETE /v1/runs/:id.
func (s *Server) HandleDeleteRun(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	id := c.Param("id")
	if err := s.store.Delete(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.tracker.Forget(id)
	c.Status(http.StatusNoContent)
}

// HandleHealth serves GET /health.
func HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.logger.Debug("rejected request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run archive disabled"})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generate.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
