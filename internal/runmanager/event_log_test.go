package runmanager

import (
	"fmt"
	"testing"
)

func TestEventLog_AppendAndTail(t *testing.T) {
	log := NewEventLog(0)

	for i := 0; i < 5; i++ {
		err := log.Append(RunEvent{
			RunID: "run_1",
			Type:  EventTypeStateTransition,
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if log.Len() != 5 {
		t.Errorf("Len = %d, want 5", log.Len())
	}

	evts, err := log.Tail(0, 0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(evts) != 5 {
		t.Errorf("Tail(0, 0) returned %d events, want 5", len(evts))
	}

	for _, e := range evts {
		if e.EventID == "" {
			t.Error("Expected generated event ID")
		}
		if e.TimestampMs == 0 {
			t.Error("Expected generated timestamp")
		}
		if string(e.Payload) != "{}" {
			t.Errorf("Payload = %s, want {}", e.Payload)
		}
	}
}

func TestEventLog_TailCursorAndLimit(t *testing.T) {
	log := NewEventLog(0)
	for i := 0; i < 10; i++ {
		log.Append(RunEvent{RunID: "run_1", Type: EventTypeStateTransition})
	}

	evts, err := log.Tail(4, 3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(evts) != 3 {
		t.Errorf("Tail(4, 3) returned %d events, want 3", len(evts))
	}

	evts, err = log.Tail(8, 10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(evts) != 2 {
		t.Errorf("Tail(8, 10) returned %d events, want 2", len(evts))
	}

	evts, err = log.Tail(100, 0)
	if err != nil {
		t.Fatalf("Tail past end failed: %v", err)
	}
	if len(evts) != 0 {
		t.Errorf("Tail past end returned %d events, want 0", len(evts))
	}
}

func TestEventLog_RejectsInvalidCursor(t *testing.T) {
	log := NewEventLog(0)

	if _, err := log.Tail(-1, 0); err == nil {
		t.Error("Tail with negative cursor returned nil, want error")
	}
	if _, err := log.Tail(0, -1); err == nil {
		t.Error("Tail with negative limit returned nil, want error")
	}
}

func TestEventLog_RequiredFields(t *testing.T) {
	log := NewEventLog(0)

	if err := log.Append(RunEvent{Type: EventTypeRunCreated}); err == nil {
		t.Error("Append without run_id returned nil, want error")
	}
	if err := log.Append(RunEvent{RunID: "run_1"}); err == nil {
		t.Error("Append without type returned nil, want error")
	}
}

func TestEventLog_DropsPastLimit(t *testing.T) {
	log := NewEventLog(3)

	for i := 0; i < 10; i++ {
		err := log.Append(RunEvent{RunID: "run_1", Type: EventTypeStateTransition})
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	if log.Len() != 3 {
		t.Errorf("Len = %d, want 3", log.Len())
	}
	if !log.IsTruncated() {
		t.Error("Expected log to report truncation")
	}
}

func TestGenerateEventID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := generateEventID()
		if seen[id] {
			t.Fatalf("Duplicate event ID: %s", id)
		}
		seen[id] = true
	}
}

func TestEventLog_PreservesPayload(t *testing.T) {
	log := NewEventLog(0)
	payload := []byte(fmt.Sprintf(`{"pid":%d}`, 4242))

	log.Append(RunEvent{RunID: "run_1", Type: EventTypeProcessSpawned, Payload: payload})

	evts, _ := log.Tail(0, 1)
	if len(evts) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(evts))
	}
	if string(evts[0].Payload) != string(payload) {
		t.Errorf("Payload = %s, want %s", evts[0].Payload, payload)
	}
}
