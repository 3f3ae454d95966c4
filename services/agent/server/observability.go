// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "rift"

// Subsystem for agent run metrics
const agentSubsystem = "agent"

// AgentMetrics holds the Prometheus metrics for the run API.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
type AgentMetrics struct {
	// RunsTotal counts submitted runs by terminal status.
	// Labels: status (Passed, Partial, Failed, error)
	RunsTotal *prometheus.CounterVec

	// RunsActive tracks runs currently executing.
	RunsActive prometheus.Gauge

	// RunsQueued tracks runs waiting on the concurrency limit.
	RunsQueued prometheus.Gauge

	// RunDurationSeconds measures end-to-end run duration.
	// Labels: status
	RunDurationSeconds *prometheus.HistogramVec

	// FixesTotal counts fix attempts by error kind and outcome.
	// Labels: kind, fixed ("true", "false")
	FixesTotal *prometheus.CounterVec

	// ProgressClientsActive tracks attached websocket observers.
	ProgressClientsActive prometheus.Gauge
}

// DefaultMetrics is the singleton instance of AgentMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AgentMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once
// at application startup.
func InitMetrics() *AgentMetrics {
	if DefaultMetrics != nil {
		return DefaultMetrics
	}

	DefaultMetrics = &AgentMetrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "runs_total",
			Help:      "Repair runs by terminal status",
		}, []string{"status"}),

		RunsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "runs_active",
			Help:      "Runs currently executing",
		}),

		RunsQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "runs_queued",
			Help:      "Runs waiting on the concurrency limit",
		}),

		RunDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "run_duration_seconds",
			Help:      "End-to-end duration of repair runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),

		FixesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "fixes_total",
			Help:      "Fix attempts by error kind and outcome",
		}, []string{"kind", "fixed"}),

		ProgressClientsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: agentSubsystem,
			Name:      "progress_clients_active",
			Help:      "Attached websocket progress observers",
		}),
	}
	return DefaultMetrics
}
