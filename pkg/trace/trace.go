// Package trace implements an append-only JSONL trail of verification run
// events, for diagnosing why a script passed or failed.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType enumerates all verification trace event types.
type EventType string

const (
	EventRunStart         EventType = "run_start"
	EventSubscribed       EventType = "subscribed"
	EventSignalReceived   EventType = "signal_received"
	EventStepMatched      EventType = "step_matched"
	EventStepFailed       EventType = "step_failed"
	EventFusionNegotiated EventType = "fusion_negotiated"
	EventRequested        EventType = "requested"
	EventAwaited          EventType = "awaited"
	EventCancelled        EventType = "cancelled"
	EventRunComplete      EventType = "run_complete"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events to an append-only JSONL stream.
type Writer struct {
	mu     sync.Mutex
	runID  string
	enc    *json.Encoder
	closer io.Closer
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{runID: runID, enc: json.NewEncoder(w)}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := NewWriter(f, runID)
	w.closer = f
	return w, nil
}

// Close releases the underlying file, if any.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.enc.Encode(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		Data:      data,
	})
}

// EmitSignal emits a signal_received event.
func (tw *Writer) EmitSignal(kind, value string) error {
	data := map[string]any{"kind": kind}
	if value != "" {
		data["value"] = value
	}
	return tw.Emit(EventSignalReceived, data)
}

// EmitStepMatched emits a step_matched event.
func (tw *Writer) EmitStepMatched(index int, desc string) error {
	return tw.Emit(EventStepMatched, map[string]any{
		"step_index": index,
		"step":       desc,
	})
}

// EmitStepFailed emits a step_failed event.
func (tw *Writer) EmitStepFailed(index int, desc, reason string) error {
	return tw.Emit(EventStepFailed, map[string]any{
		"step_index": index,
		"step":       desc,
		"reason":     reason,
	})
}

// EmitRunComplete emits the terminal run_complete event.
func (tw *Writer) EmitRunComplete(status string, elapsed time.Duration, signals int) error {
	return tw.Emit(EventRunComplete, map[string]any{
		"status":   status,
		"duration": elapsed.String(),
		"signals":  signals,
	})
}
