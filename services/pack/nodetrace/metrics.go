// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodetrace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("fnpack.nodetrace")
	meter  = otel.Meter("fnpack.nodetrace")
)

var (
	filesScanned metric.Int64Counter
	unresolved   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		filesScanned, err = meter.Int64Counter(
			"nodetrace_files_scanned_total",
			metric.WithDescription("Total number of source files scanned for imports, by grammar"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unresolved, err = meter.Int64Counter(
			"nodetrace_unresolved_total",
			metric.WithDescription("Total number of module references that could not be resolved"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordScan(ctx context.Context, grammar Grammar) {
	if err := initMetrics(); err != nil {
		return
	}
	filesScanned.Add(ctx, 1, metric.WithAttributes(attribute.String("grammar", grammar.String())))
}

func recordUnresolved(ctx context.Context, kind RefKind) {
	if err := initMetrics(); err != nil {
		return
	}
	unresolved.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

// startTraceSpan starts a span covering one Trace call.
func startTraceSpan(ctx context.Context, base string, entries int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "nodetrace.Trace",
		trace.WithAttributes(
			attribute.String("nodetrace.base", base),
			attribute.Int("nodetrace.entries", entries),
		),
	)
}
