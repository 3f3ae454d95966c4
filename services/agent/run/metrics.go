// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package run

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for run orchestration.
var (
	tracer = otel.Tracer("rift.run")
	meter  = otel.Meter("rift.run")
)

// Metrics for repair runs.
var (
	runLatency    metric.Float64Histogram
	runTotal      metric.Int64Counter
	runIterations metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"repair_run_duration_seconds",
			metric.WithDescription("End-to-end duration of repair runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"repair_run_total",
			metric.WithDescription("Completed repair runs by terminal status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runIterations, err = meter.Int64Histogram(
			"repair_run_iterations",
			metric.WithDescription("Test-fix iterations performed per run"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// startRunSpan starts a trace span covering one run.
func startRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "run.execute",
		trace.WithAttributes(attribute.String("run.id", runID)),
	)
}

// recordRunMetrics records the terminal outcome of one run.
func recordRunMetrics(ctx context.Context, status string, iterations int, d time.Duration) {
	if initMetrics() != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))
	runLatency.Record(ctx, d.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
	runIterations.Record(ctx, int64(iterations), attrs)
}
