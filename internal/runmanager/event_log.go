package runmanager

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of run event.
type EventType string

const (
	EventTypeRunCreated      EventType = "RUN_CREATED"
	EventTypeProcessSpawned  EventType = "PROCESS_SPAWNED"
	EventTypeStateTransition EventType = "STATE_TRANSITION"
	EventTypeStopRequested   EventType = "STOP_REQUESTED"
	EventTypeProcessExited   EventType = "PROCESS_EXITED"
)

// RunEvent represents a single event in the run lifecycle.
type RunEvent struct {
	EventID     string          `json:"event_id"`
	TimestampMs int64           `json:"ts_ms"`
	RunID       string          `json:"run_id"`
	Type        EventType       `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// EventLog is an append-only log of run events with a memory limit.
type EventLog struct {
	mu        sync.RWMutex
	events    []RunEvent
	maxEvents int
	truncated bool
	runID     string
}

// NewEventLog creates a new append-only event log. Set maxEvents to 0 for
// unlimited (not recommended outside tests).
func NewEventLog(maxEvents int) *EventLog {
	return &EventLog{
		events:    make([]RunEvent, 0, 16),
		maxEvents: maxEvents,
	}
}

// Append adds an event to the log. Once the log reaches its maximum capacity
// new events are dropped and a warning is logged (once per log).
func (el *EventLog) Append(event RunEvent) error {
	if event.RunID == "" {
		return fmt.Errorf("event missing required field: run_id")
	}
	if event.Type == "" {
		return fmt.Errorf("event missing required field: type")
	}

	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.TimestampMs == 0 {
		event.TimestampMs = time.Now().UnixMilli()
	}
	if event.Payload == nil {
		event.Payload = []byte("{}")
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.runID == "" {
		el.runID = event.RunID
	}

	if el.maxEvents > 0 && len(el.events) >= el.maxEvents {
		if !el.truncated {
			el.truncated = true
			slog.Warn("event_log_truncated",
				"run_id", el.runID,
				"limit", el.maxEvents)
		}
		return nil // silently drop, never fail the operation
	}

	el.events = append(el.events, event)
	return nil
}

// Tail returns up to limit events starting from the 0-based cursor.
// Returns an empty slice if cursor is past the end.
func (el *EventLog) Tail(cursor, limit int) ([]RunEvent, error) {
	if cursor < 0 {
		return nil, fmt.Errorf("cursor must be non-negative")
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit must be non-negative")
	}

	el.mu.RLock()
	defer el.mu.RUnlock()

	if cursor >= len(el.events) {
		return []RunEvent{}, nil
	}

	end := cursor + limit
	if limit == 0 || end > len(el.events) {
		end = len(el.events)
	}

	result := make([]RunEvent, end-cursor)
	copy(result, el.events[cursor:end])
	return result, nil
}

// Len returns the number of events in the log.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// IsTruncated reports whether events were dropped due to the memory limit.
func (el *EventLog) IsTruncated() bool {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.truncated
}

var eventIDCounter atomic.Int64

// generateEventID generates a unique event ID in evt_<hex> form.
func generateEventID() string {
	ts := time.Now().UnixMilli()
	counter := eventIDCounter.Add(1)
	return fmt.Sprintf("evt_%x%x", ts, counter)
}
