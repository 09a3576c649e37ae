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
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()

	if cfg.ServiceName != "fnpack" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "fnpack")
	}
	if cfg.TraceExporter != ExporterNone {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, ExporterNone)
	}
	if cfg.MetricExporter != ExporterPrometheus {
		t.Errorf("MetricExporter = %q, want %q", cfg.MetricExporter, ExporterPrometheus)
	}
}

func TestDefaultConfig_EnvOverride(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	if got := DefaultConfig().TraceExporter; got != "stdout" {
		t.Errorf("TraceExporter = %q, want stdout", got)
	}
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	if err != ErrNilContext {
		t.Errorf("Init(nil) error = %v, want %v", err, ErrNilContext)
	}
}

func TestInit_NoopExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"trace", func(c *Config) { c.TraceExporter = "zipkin"; c.MetricExporter = ExporterNone }},
		{"metric", func(c *Config) { c.TraceExporter = ExporterNone; c.MetricExporter = "statsd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := Init(context.Background(), cfg)
			if err == nil || !strings.Contains(err.Error(), ErrUnknownExporter.Error()) {
				t.Errorf("Init() error = %v, want %v", err, ErrUnknownExporter)
			}
		})
	}
}

func TestInit_PrometheusServesMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterPrometheus

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	counter, err := otel.Meter("fnpack.test").Int64Counter("telemetry_test_total")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 3)

	handler := MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler() = nil after prometheus Init")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "telemetry_test_total") {
		t.Errorf("metrics body missing telemetry_test_total")
	}
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	t.Run("no span", func(t *testing.T) {
		buf.Reset()
		LoggerWithTrace(context.Background(), logger).Info("hello")
		if strings.Contains(buf.String(), "trace_id") {
			t.Errorf("unexpected trace_id in %s", buf.String())
		}
	})

	t.Run("nil logger", func(t *testing.T) {
		if LoggerWithTrace(context.Background(), nil) == nil {
			t.Error("LoggerWithTrace(nil) returned nil")
		}
	})

	t.Run("with span", func(t *testing.T) {
		buf.Reset()
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())

		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		LoggerWithTrace(ctx, logger).Info("hello")
		out := buf.String()
		if !strings.Contains(out, span.SpanContext().TraceID().String()) {
			t.Errorf("log line %s missing trace id", out)
		}
		if !strings.Contains(out, "span_id") {
			t.Errorf("log line %s missing span_id", out)
		}
	})
}
