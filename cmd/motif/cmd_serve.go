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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/motif/services/motif/api"
	"github.com/AleutianAI/motif/services/motif/archive"
	"github.com/AleutianAI/motif/services/motif/config"
	"github.com/AleutianAI/motif/services/motif/generate"
	"github.com/AleutianAI/motif/services/motif/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr          string
		runsPerSecond float64
		burst         int
		archiveTTL    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve analysis and generation over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, api.RouterConfig{RunsPerSecond: runsPerSecond, Burst: burst}, archiveTTL)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override server.addr")
	cmd.Flags().Float64Var(&runsPerSecond, "runs-per-second", 0, "limit generation requests, 0 for no limit")
	cmd.Flags().IntVar(&burst, "burst", 4, "rate limiter burst")
	cmd.Flags().DurationVar(&archiveTTL, "archive-ttl", 0, "expire archived runs after this long, 0 keeps them")
	return cmd
}

func (a *app) serve(ctx context.Context, routes api.RouterConfig, archiveTTL time.Duration) error {
	logger := a.logger.With("component", "serve")
	gin.SetMode(a.cfg.Server.Mode)
	routes.ServiceName = a.cfg.Telemetry.ServiceName

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromConfig(a.cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	var opts []api.ServerOption
	if a.cfg.Archive.Enabled && !a.noArchive {
		storeCfg := archive.InMemoryConfig()
		if a.cfg.Archive.Path != "" {
			storeCfg = archive.DefaultConfig(a.cfg.Archive.Path)
		}
		storeCfg.TTL = archiveTTL
		storeCfg.Logger = a.logger.With("component", "badger")
		store, err := archive.Open(storeCfg)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, api.WithArchive(store))
	}

	tracker := generate.NewTracker()
	gen := a.generator(generate.WithReporter(tracker), generate.WithReporter(generate.LogReporter{Logger: a.logger.Slog()}))
	server := api.NewServer(gen, tracker, append(opts,
		api.WithLogger(a.logger.With("component", "api")),
		api.WithDefaultMinWindow(a.cfg.Engine.MinWindow),
	)...)

	// Only the log level is applied live; other sections need a restart.
	if err := config.Watch(ctx, a.configPath, logger, func(cfg config.MotifConfig) {
		if err := a.logger.SetLevel(cfg.Logging.Level); err != nil {
			logger.Warn("ignoring log level", "error", err)
		}
	}); err != nil {
		logger.Warn("config reload disabled", "error", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.NewRouter(server, routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn("async runs still running at shutdown", "error", err)
	}
	return nil
}
