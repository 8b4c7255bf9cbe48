// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/motif/services/motif/config"
)

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.TelemetryConfig{Exporter: "otlp", Endpoint: "collector:4317", ServiceName: "motif"}, "0.3.0")
	assert.Equal(t, Config{ServiceName: "motif", ServiceVersion: "0.3.0", Exporter: "otlp", OTLPEndpoint: "collector:4317"}, cfg)
}

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, Config{Exporter: ExporterNone})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Exporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutInstallsTracer(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "motif-test", Exporter: ExporterStdout})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := otel.Tracer("motif.test").Start(context.Background(), "probe")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}

func TestMetricsHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
