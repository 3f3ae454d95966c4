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
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/rift/services/agent/run"
)

// submitRequest is the POST /v1/runs body.
type submitRequest struct {
	RepoURL     string `json:"repo_url" binding:"required,url"`
	Team        string `json:"team" binding:"required,notblank"`
	Leader      string `json:"leader" binding:"required,notblank"`
	RetryBudget int    `json:"retry_budget" binding:"omitempty,min=1,max=20"`
}

// HealthCheck reports service liveness.
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitRun accepts a repair run and schedules it. Responds 202 with
// the run id; the caller observes progress over the websocket and
// fetches the report by id when done.
func (s *Server) SubmitRun(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := run.Request{
		RepoURL:     body.RepoURL,
		Team:        body.Team,
		Leader:      body.Leader,
		RetryBudget: body.RetryBudget,
	}

	id := newRunID()
	entry := &runEntry{
		ID:        id,
		Phase:     phaseQueued,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.runs[id] = entry
	s.mu.Unlock()

	s.launch(id, req)

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":       id,
		"phase":        phaseQueued,
		"progress_url": "/v1/runs/" + id + "/ws",
	})
}

// GetRun returns the registry entry for one run, including the report
// once the run is done.
func (s *Server) GetRun(c *gin.Context) {
	entry, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run id"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ListRuns returns all known runs, newest first.
func (s *Server) ListRuns(c *gin.Context) {
	s.mu.RLock()
	entries := make([]runEntry, 0, len(s.runs))
	for _, entry := range s.runs {
		entries = append(entries, *entry)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	c.JSON(http.StatusOK, gin.H{"runs": entries})
}
