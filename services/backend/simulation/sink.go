// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/matrixsim/matrix-backend/services/backend/datatypes"
	"github.com/matrixsim/matrix-backend/services/backend/observability"
)

// MemoryEvent is one agent utterance headed for long-term storage.
type MemoryEvent struct {
	RunID   string
	AgentID string
	Day     int
	Content string
}

// MemorySink receives agent utterances for persistence. Implementations
// are strictly best-effort: Notify must never return an error and must
// never panic, a failed write only costs us a memory, not the run.
type MemorySink interface {
	Notify(ctx context.Context, event MemoryEvent)
}

// NopSink discards every event. Used when no memory backend is configured.
type NopSink struct{}

func (NopSink) Notify(ctx context.Context, event MemoryEvent) {
	observability.RecordMemorySinkWrite("skipped")
}

const sinkWriteTimeout = 30 * time.Second

// WeaviateSink persists agent utterances as AgentMemory objects. Writes
// run against a bounded timeout so a slow Weaviate cannot stall a round.
type WeaviateSink struct {
	client *weaviate.Client
}

// NewWeaviateSink wraps an already-connected Weaviate client.
func NewWeaviateSink(client *weaviate.Client) *WeaviateSink {
	return &WeaviateSink{client: client}
}

func (s *WeaviateSink) Notify(ctx context.Context, event MemoryEvent) {
	writeCtx, cancel := context.WithTimeout(ctx, sinkWriteTimeout)
	defer cancel()

	properties := map[string]interface{}{
		"content":   fmt.Sprintf("[Agent %s | Day %d]\n%s", event.AgentID, event.Day, event.Content),
		"agent_id":  event.AgentID,
		"run_id":    event.RunID,
		"day":       event.Day,
		"stored_at": time.Now().UnixMilli(),
	}

	_, err := s.client.Data().Creator().
		WithClassName(datatypes.AgentMemoryClass).
		WithProperties(properties).
		Do(writeCtx)
	if err != nil {
		// Log and move on. Memory persistence never blocks the simulation.
		slog.Error("Failed to save agent memory to Weaviate",
			"runId", event.RunID, "agentId", event.AgentID, "day", event.Day, "error", err)
		observability.RecordMemorySinkWrite("error")
		return
	}
	observability.RecordMemorySinkWrite("success")
}

// RecorderSink captures events in memory. Test double.
type RecorderSink struct {
	mu     sync.Mutex
	events []MemoryEvent
}

func (r *RecorderSink) Notify(ctx context.Context, event MemoryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far.
func (r *RecorderSink) Events() []MemoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MemoryEvent, len(r.events))
	copy(out, r.events)
	return out
}
