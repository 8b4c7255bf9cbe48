// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/motif/services/motif/telemetry"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// RunsPerSecond limits the generation endpoints. Zero disables the
	// limit.
	RunsPerSecond float64

	// Burst is the limiter bucket size. Defaults to 1.
	Burst int
}

// NewRouter wires every route onto a new gin engine.
func NewRouter(s *Server, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "motif"
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(cfg.ServiceName), requestLogger(s.logger))

	router.GET("/health", HandleHealth)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	{
		runs := v1.Group("")
		if cfg.RunsPerSecond > 0 {
			burst := max(cfg.Burst, 1)
			runs.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RunsPerSecond), burst)))
		}
		runs.POST("/analyse", s.HandleAnalyse)
		runs.POST("/single", s.HandleSingle)
		runs.POST("/polyphonic", s.HandlePolyphonic)

		v1.GET("/progress/:id", s.HandleProgress)
		v1.GET("/runs", s.HandleListRuns)
		v1.GET("/runs/:id", s.HandleGetRun)
		v1.DELETE("/runs/:id", s.HandleDeleteRun)
	}
	return router
}

// RateLimit answers 429 when the limiter has no token for the request.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many runs, retry later"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
