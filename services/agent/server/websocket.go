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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API has no browser origin policy of its own; deployments
	// front it with their own gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

func sendJSON(ws *websocket.Conn, v interface{}) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(v)
}

// RunProgressWebSocket streams a run's progress events to the client.
// A client that attaches mid-run first receives the buffered history.
// The stream ends with a "report" frame once the run reaches a terminal
// state; transport errors only detach this observer, never the run.
func (s *Server) RunProgressWebSocket(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.lookup(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run id"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer ws.Close()

	s.metrics.ProgressClientsActive.Inc()
	defer s.metrics.ProgressClientsActive.Dec()

	events, cancel := s.broker.Subscribe(id)
	defer cancel()

	for ev := range events {
		if err := sendJSON(ws, gin.H{"type": "progress", "event": ev}); err != nil {
			s.logger.Debug("progress client dropped",
				slog.String("run_id", id),
				slog.Any("error", err))
			return
		}
	}

	// Channel closed: the run is terminal. The registry entry is
	// written just after the terminal event is published, so give it a
	// moment to land before giving up on the report frame.
	for i := 0; i < 20; i++ {
		entry, ok := s.lookup(id)
		if !ok {
			break
		}
		if entry.Report != nil || entry.Error != "" {
			_ = sendJSON(ws, gin.H{"type": "report", "report": entry.Report, "error": entry.Error})
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"),
		time.Now().Add(wsWriteTimeout))
}
