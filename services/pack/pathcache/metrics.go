// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathcache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("fnpack.pathcache")

// Metrics for path cache operations.
var (
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	fileLoads   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"pathcache_hits_total",
			metric.WithDescription("Total number of path cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"pathcache_misses_total",
			metric.WithDescription("Total number of path cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fileLoads, err = meter.Int64Counter(
			"pathcache_loads_total",
			metric.WithDescription("Total number of files classified from disk, by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

// recordLoad records one classify-from-disk with its outcome
// ("content", "symlink", "not_found").
func recordLoad(ctx context.Context, result string) {
	if err := initMetrics(); err != nil {
		return
	}
	fileLoads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
