// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package closure

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for closure builds.
var (
	tracer = otel.Tracer("fnpack.closure")
	meter  = otel.Meter("fnpack.closure")
)

// Metrics for closure builds.
var (
	buildDuration  metric.Float64Histogram
	buildTotal     metric.Int64Counter
	filesTraced    metric.Int64Counter
	symlinkTargets metric.Int64Counter
	traceWarnings  metric.Int64Counter
	manifestFiles  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildDuration, err = meter.Float64Histogram(
			"closure_build_duration_seconds",
			metric.WithDescription("Duration of closure builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"closure_build_total",
			metric.WithDescription("Total number of closure builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesTraced, err = meter.Int64Counter(
			"closure_files_traced_total",
			metric.WithDescription("Total number of paths reported reachable by the tracer"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		symlinkTargets, err = meter.Int64Counter(
			"closure_symlink_targets_added_total",
			metric.WithDescription("Total number of symlink targets added to the closure"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		traceWarnings, err = meter.Int64Counter(
			"closure_trace_warnings_total",
			metric.WithDescription("Total number of non-fatal trace warnings"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		manifestFiles, err = meter.Int64Histogram(
			"closure_manifest_files",
			metric.WithDescription("Number of files in each assembled manifest"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuild records one finished build.
func recordBuild(ctx context.Context, duration time.Duration, success bool, stats Stats) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	buildDuration.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if !success {
		return
	}
	filesTraced.Add(ctx, int64(stats.Traced))
	traceWarnings.Add(ctx, int64(stats.Warnings))
	manifestFiles.Record(ctx, int64(stats.Files))
}

func recordSymlinkTargets(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	symlinkTargets.Add(ctx, int64(n))
}

// startBuildSpan creates the root span for a build.
func startBuildSpan(ctx context.Context, projectRoot string, entrypoints int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Builder.Build",
		trace.WithAttributes(
			attribute.String("closure.project_root", projectRoot),
			attribute.Int("closure.entrypoints", entrypoints),
		),
	)
}

// startStageSpan creates a child span for one build stage.
func startStageSpan(ctx context.Context, stage string, inputs int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Builder."+stage,
		trace.WithAttributes(
			attribute.String("closure.stage", stage),
			attribute.Int("closure.inputs", inputs),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, stats Stats) {
	span.SetAttributes(
		attribute.Int("closure.files", stats.Files),
		attribute.Int("closure.traced", stats.Traced),
		attribute.Int("closure.symlink_targets", stats.SymlinkTargets),
		attribute.Int("closure.warnings", stats.Warnings),
		attribute.Int64("closure.bytes", stats.Bytes),
	)
}
