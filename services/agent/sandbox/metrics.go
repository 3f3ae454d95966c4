// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for sandbox operations.
var (
	tracer = otel.Tracer("rift.sandbox")
	meter  = otel.Meter("rift.sandbox")
)

// Metrics for sandbox executions.
var (
	execLatency metric.Float64Histogram
	execTotal   metric.Int64Counter
	execTimeout metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		execLatency, err = meter.Float64Histogram(
			"sandbox_exec_duration_seconds",
			metric.WithDescription("Duration of sandboxed test executions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		execTotal, err = meter.Int64Counter(
			"sandbox_exec_total",
			metric.WithDescription("Total number of sandboxed test executions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		execTimeout, err = meter.Int64Counter(
			"sandbox_exec_timeouts_total",
			metric.WithDescription("Sandboxed executions killed on timeout"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// startSandboxSpan starts a trace span for one execution.
func startSandboxSpan(ctx context.Context, image string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sandbox.run",
		trace.WithAttributes(attribute.String("sandbox.image", image)),
	)
}

// recordSandboxMetrics records latency and outcome for one execution.
func recordSandboxMetrics(ctx context.Context, image string, d time.Duration, success, timedOut bool) {
	if initMetrics() != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("image", image),
		attribute.Bool("success", success),
	)
	execLatency.Record(ctx, d.Seconds(), attrs)
	execTotal.Add(ctx, 1, attrs)
	if timedOut {
		execTimeout.Add(ctx, 1, metric.WithAttributes(attribute.String("image", image)))
	}
}
