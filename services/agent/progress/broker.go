// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress delivers run status events to interested observers
// without ever blocking the run that produces them. Each run gets a
// bounded replay buffer and a set of subscribers; a subscriber that
// attaches mid-run first receives the buffered history, and a slow
// subscriber loses its oldest undelivered events rather than stalling
// the publisher.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ===== EVENT =====

// Stage identifies what part of a run an event describes.
type Stage string

const (
	StageClone     Stage = "clone"
	StageDetect    Stage = "detect"
	StageSandbox   Stage = "sandbox"
	StageTest      Stage = "test"
	StageFix       Stage = "fix"
	StageCommit    Stage = "commit"
	StagePush      Stage = "push"
	StageHeartbeat Stage = "heartbeat"
	StageDone      Stage = "done"
)

// Event is one progress update for a run.
type Event struct {
	RunID     string    `json:"run_id"`
	Seq       uint64    `json:"seq"`
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message"`
	Iteration int       `json:"iteration,omitempty"`
	Terminal  bool      `json:"terminal,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ===== BROKER =====

const (
	// replayBufferSize bounds the per-run history kept for late
	// subscribers. Oldest events are dropped first.
	replayBufferSize = 256

	// subscriberQueueSize bounds each subscriber channel.
	subscriberQueueSize = 64
)

// Broker fans run events out to subscribers.
//
// Thread Safety: safe for concurrent use. Locking is per run, so
// publishers for different runs never contend.
type Broker struct {
	mu     sync.RWMutex
	runs   map[string]*runStream
	logger *slog.Logger
}

type runStream struct {
	mu     sync.Mutex
	seq    uint64
	buffer []Event
	subs   map[chan Event]struct{}
	closed bool
}

// NewBroker creates an empty Broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		runs:   make(map[string]*runStream),
		logger: logger,
	}
}

func (b *Broker) stream(runID string) *runStream {
	b.mu.RLock()
	rs, ok := b.runs[runID]
	b.mu.RUnlock()
	if ok {
		return rs
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if rs, ok = b.runs[runID]; ok {
		return rs
	}
	rs = &runStream{subs: make(map[chan Event]struct{})}
	b.runs[runID] = rs
	return rs
}

// Publish records an event for the run and delivers it to current
// subscribers. It never blocks: when a subscriber's queue is full its
// oldest undelivered event is discarded to make room. Publishing to a
// completed run is a silent no-op.
func (b *Broker) Publish(runID string, ev Event) {
	rs := b.stream(runID)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return
	}

	rs.seq++
	ev.RunID = runID
	ev.Seq = rs.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	rs.buffer = append(rs.buffer, ev)
	if len(rs.buffer) > replayBufferSize {
		rs.buffer = rs.buffer[len(rs.buffer)-replayBufferSize:]
	}

	for ch := range rs.subs {
		deliver(ch, ev)
	}
}

// deliver enqueues without blocking, dropping the subscriber's oldest
// queued event when full.
func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Subscribe attaches an observer to a run. The returned channel first
// replays the run's buffered history, then receives live events, and is
// closed when the run completes. The cancel function detaches early and
// is safe to call more than once.
func (b *Broker) Subscribe(runID string) (<-chan Event, func()) {
	rs := b.stream(runID)

	ch := make(chan Event, subscriberQueueSize)

	rs.mu.Lock()
	for _, ev := range rs.buffer {
		deliver(ch, ev)
	}
	if rs.closed {
		rs.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	rs.subs[ch] = struct{}{}
	rs.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			rs.mu.Lock()
			if _, ok := rs.subs[ch]; ok {
				delete(rs.subs, ch)
				close(ch)
			}
			rs.mu.Unlock()
		})
	}
	return ch, cancel
}

// Complete publishes a terminal event and closes every subscriber
// channel. Further Publish calls for the run are ignored; late
// subscribers still receive the buffered history.
func (b *Broker) Complete(runID string, ev Event) {
	ev.Terminal = true
	if ev.Stage == "" {
		ev.Stage = StageDone
	}
	b.Publish(runID, ev)

	rs := b.stream(runID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return
	}
	rs.closed = true
	for ch := range rs.subs {
		delete(rs.subs, ch)
		close(ch)
	}
}

// Forget drops a run's stream entirely, releasing its replay buffer.
// Intended for use after the run report has been persisted.
func (b *Broker) Forget(runID string) {
	b.mu.Lock()
	rs, ok := b.runs[runID]
	if ok {
		delete(b.runs, runID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.closed {
		rs.closed = true
		for ch := range rs.subs {
			delete(rs.subs, ch)
			close(ch)
		}
	}
}

// ===== HEARTBEAT =====

// Heartbeat publishes a heartbeat event for the run at the given
// interval until ctx is cancelled. Run it in its own goroutine.
func (b *Broker) Heartbeat(ctx context.Context, runID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Publish(runID, Event{
				Stage:   StageHeartbeat,
				Message: "run in progress",
			})
		}
	}
}
