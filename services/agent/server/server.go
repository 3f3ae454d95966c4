// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the repair agent over HTTP. Runs are submitted
// with POST /v1/runs, observed live over a websocket, and their reports
// fetched back by id. Run execution is bounded by a weighted semaphore
// so a burst of submissions queues instead of saturating the host.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/rift/services/agent/progress"
	"github.com/AleutianAI/rift/services/agent/run"
)

// ===== RUN REGISTRY =====

// runPhase is the API-visible lifecycle of a submitted run.
type runPhase string

const (
	phaseQueued  runPhase = "queued"
	phaseRunning runPhase = "running"
	phaseDone    runPhase = "done"
	phaseError   runPhase = "error"
)

// runEntry is the server's record of one submitted run.
type runEntry struct {
	ID        string      `json:"id"`
	Phase     runPhase    `json:"phase"`
	Request   run.Request `json:"request"`
	Report    *run.Report `json:"report,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ===== SERVER =====

// Server ties the runner, the progress broker, and the HTTP surface
// together.
//
// Thread Safety: safe for concurrent use; the run registry is guarded
// by an internal mutex.
type Server struct {
	runner  *run.Runner
	broker  *progress.Broker
	logger  *slog.Logger
	metrics *AgentMetrics

	sem *semaphore.Weighted

	mu   sync.RWMutex
	runs map[string]*runEntry
}

// NewServer wires a Server. maxConcurrent bounds simultaneously
// executing runs; further submissions queue in FIFO-ish semaphore
// order.
func NewServer(runner *run.Runner, broker *progress.Broker, maxConcurrent int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Server{
		runner:  runner,
		broker:  broker,
		logger:  logger,
		metrics: InitMetrics(),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		runs:    make(map[string]*runEntry),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	registerValidators()

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/runs", s.SubmitRun)
		v1.GET("/runs", s.ListRuns)
		v1.GET("/runs/:id", s.GetRun)
		v1.GET("/runs/:id/ws", s.RunProgressWebSocket)
	}
	return router
}

// Serve blocks running the HTTP server on host:port.
func (s *Server) Serve(host string, port int) error {
	addr := host + ":" + strconv.Itoa(port)
	s.logger.Info("agent API listening", slog.String("addr", addr))
	return s.Router().Run(addr)
}

// registerValidators installs custom binding rules. "notblank" rejects
// strings that are empty after trimming, which "required" alone lets
// through.
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// ===== RUN EXECUTION =====

// launch queues the run and executes it once a semaphore slot frees up.
func (s *Server) launch(id string, req run.Request) {
	s.metrics.RunsQueued.Inc()
	go func() {
		// The run owns its own lifetime; there is no mid-run
		// cancellation path.
		ctx := context.Background()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.metrics.RunsQueued.Dec()
			s.finishRun(id, nil, fmt.Errorf("acquiring run slot: %w", err))
			return
		}
		defer s.sem.Release(1)
		s.metrics.RunsQueued.Dec()

		s.setPhase(id, phaseRunning)
		s.metrics.RunsActive.Inc()
		defer s.metrics.RunsActive.Dec()

		report, err := s.runner.Execute(ctx, id, req)
		s.finishRun(id, &report, err)
	}()
}

func (s *Server) setPhase(id string, phase runPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.runs[id]; ok {
		entry.Phase = phase
	}
}

func (s *Server) finishRun(id string, report *run.Report, err error) {
	s.mu.Lock()
	entry, ok := s.runs[id]
	if ok {
		if err != nil {
			entry.Phase = phaseError
			entry.Error = err.Error()
		} else {
			entry.Phase = phaseDone
			entry.Report = report
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if err != nil {
		s.metrics.RunsTotal.WithLabelValues("error").Inc()
		s.logger.Error("run failed", slog.String("run_id", id), slog.Any("error", err))
		return
	}

	status := string(report.Status)
	s.metrics.RunsTotal.WithLabelValues(status).Inc()
	s.metrics.RunDurationSeconds.WithLabelValues(status).Observe(report.Duration.Seconds())
	for _, fix := range report.Fixes {
		s.metrics.FixesTotal.WithLabelValues(
			fix.Record.Kind.String(),
			strconv.FormatBool(fix.Fixed),
		).Inc()
	}
}

// lookup returns a snapshot of the entry. The launch goroutine mutates
// entries under the lock, so callers serialize the copy, never the
// shared struct.
func (s *Server) lookup(id string) (runEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[id]
	if !ok {
		return runEntry{}, false
	}
	return *entry, true
}

func newRunID() string {
	return uuid.NewString()
}
