package runmanager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/perfbench/stressd/internal/events"
	"github.com/perfbench/stressd/internal/otel"
	"github.com/perfbench/stressd/internal/stressor"
)

func writeFakeStressor(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stress-ng")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write fake stressor: %v", err)
	}
	return path
}

func newTestManager(t *testing.T, binary string) *RunManager {
	t.Helper()
	return NewRunManager(Options{
		Binary:             binary,
		MaxDurationSeconds: 3600,
		DefaultMemorySize:  "256M",
		EventLogger:        events.NoopEventLogger(),
		Metrics:            otel.NoopMetrics(),
		Tracer:             otel.NoopTracer(),
	})
}

func waitForTerminal(t *testing.T, rm *RunManager) *RunView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if view := rm.CurrentStatus(); view != nil && view.State.Terminal() {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Run did not reach a terminal state")
	return nil
}

func TestStartTest_CompletesCleanly(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nexit 0\n")
	rm := newTestManager(t, binary)

	view, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 5})
	if err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}
	if view.State != RunStateRunning {
		t.Errorf("State = %s, want running", view.State)
	}
	if view.RunID == "" {
		t.Error("Expected non-empty run ID")
	}

	final := waitForTerminal(t, rm)
	if final.State != RunStateCompleted {
		t.Errorf("Final state = %s, want completed", final.State)
	}
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", final.ExitCode)
	}
	if final.FinishedAtMs == 0 {
		t.Error("Expected finished timestamp")
	}
}

func TestStartTest_FailedExit(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nexit 2\n")
	rm := newTestManager(t, binary)

	_, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 5})
	if err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}

	final := waitForTerminal(t, rm)
	if final.State != RunStateFailed {
		t.Errorf("Final state = %s, want failed", final.State)
	}
	if final.ExitCode == nil || *final.ExitCode != 2 {
		t.Errorf("ExitCode = %v, want 2", final.ExitCode)
	}
	if final.Error == "" {
		t.Error("Expected error description for failed run")
	}
}

func TestStartTest_ValidationError(t *testing.T) {
	rm := newTestManager(t, "/bin/true")

	_, err := rm.StartTest(context.Background(), stressor.Request{DurationSeconds: 10})
	if err == nil {
		t.Fatal("Expected validation error")
	}
	rmErr := AsRunManagerError(err)
	if rmErr == nil || rmErr.Kind != ErrKindValidation {
		t.Errorf("Expected ErrKindValidation, got %v", err)
	}

	// Nothing should be recorded for a rejected request.
	if rm.CurrentStatus() != nil {
		t.Error("Expected idle slot after validation failure")
	}
}

func TestStartTest_Conflict(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nsleep 30\n")
	rm := newTestManager(t, binary)
	defer rm.Shutdown(context.Background())

	first, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 30})
	if err != nil {
		t.Fatalf("First StartTest failed: %v", err)
	}

	_, err = rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 30})
	if !IsConflict(err) {
		t.Fatalf("Second StartTest = %v, want conflict", err)
	}
	rmErr := AsRunManagerError(err)
	if rmErr.RunID != first.RunID {
		t.Errorf("Conflict RunID = %s, want %s", rmErr.RunID, first.RunID)
	}
}

func TestStartTest_SpawnFailure(t *testing.T) {
	rm := newTestManager(t, "/nonexistent/stressor-binary")

	_, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 5})
	if err == nil {
		t.Fatal("Expected spawn error")
	}
	rmErr := AsRunManagerError(err)
	if rmErr == nil || rmErr.Kind != ErrKindSpawn {
		t.Fatalf("Expected ErrKindSpawn, got %v", err)
	}

	// The failed attempt is recorded, never passing through running.
	view := rm.CurrentStatus()
	if view == nil {
		t.Fatal("Expected recorded run after spawn failure")
	}
	if view.State != RunStateFailed {
		t.Errorf("State = %s, want failed", view.State)
	}
	if view.Error == "" {
		t.Error("Expected error description")
	}

	stats := rm.Stats()
	if stats.SpawnErrors != 1 {
		t.Errorf("SpawnErrors = %d, want 1", stats.SpawnErrors)
	}
	if stats.RunsFailed != 1 {
		t.Errorf("RunsFailed = %d, want 1", stats.RunsFailed)
	}
}

func TestStopTest_TerminatesRun(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nsleep 30\n")
	rm := newTestManager(t, binary)

	started, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 30})
	if err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	view, err := rm.StopTest(context.Background())
	if err != nil {
		t.Fatalf("StopTest failed: %v", err)
	}
	if view.RunID != started.RunID {
		t.Errorf("StopTest RunID = %s, want %s", view.RunID, started.RunID)
	}
	// Stop is asynchronous; the run stays running until the process exits.
	if view.State != RunStateRunning {
		t.Errorf("State right after stop = %s, want running", view.State)
	}

	final := waitForTerminal(t, rm)
	if final.State != RunStateFailed {
		t.Errorf("Final state = %s, want failed (killed by signal)", final.State)
	}
}

func TestStopTest_NoActiveRun(t *testing.T) {
	rm := newTestManager(t, "/bin/true")

	_, err := rm.StopTest(context.Background())
	if !IsNotFound(err) {
		t.Errorf("StopTest on idle slot = %v, want not found", err)
	}
}

func TestReset(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nexit 0\n")
	rm := newTestManager(t, binary)

	// Resetting an idle slot is a no-op.
	if err := rm.Reset(); err != nil {
		t.Errorf("Reset on idle slot = %v, want nil", err)
	}

	_, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 5})
	if err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}
	waitForTerminal(t, rm)

	if err := rm.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if rm.CurrentStatus() != nil {
		t.Error("Expected idle slot after reset")
	}
	if _, err := rm.TailEvents(0, 0); !IsNotFound(err) {
		t.Errorf("TailEvents after reset = %v, want not found", err)
	}
}

func TestReset_ActiveRunConflicts(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nsleep 30\n")
	rm := newTestManager(t, binary)
	defer rm.Shutdown(context.Background())

	if _, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 30}); err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}

	if err := rm.Reset(); !IsConflict(err) {
		t.Errorf("Reset with active run = %v, want conflict", err)
	}
}

func TestTailEvents_RunLifecycle(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nexit 0\n")
	rm := newTestManager(t, binary)

	view, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 5})
	if err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}
	waitForTerminal(t, rm)

	evts, err := rm.TailEvents(0, 0)
	if err != nil {
		t.Fatalf("TailEvents failed: %v", err)
	}

	types := make([]EventType, len(evts))
	for i, e := range evts {
		types[i] = e.Type
		if e.RunID != view.RunID {
			t.Errorf("Event %s has run_id %s, want %s", e.EventID, e.RunID, view.RunID)
		}
	}

	want := []EventType{
		EventTypeRunCreated,
		EventTypeProcessSpawned,
		EventTypeStateTransition,
		EventTypeProcessExited,
	}
	if len(types) != len(want) {
		t.Fatalf("Event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestStartTest_RecordsTraceContext(t *testing.T) {
	tracer, err := otel.NewTracer(context.Background(), &otel.Config{
		Enabled:      true,
		ServiceName:  "stressd-test",
		ExporterType: otel.ExporterStdout,
		SampleRate:   1.0,
	})
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	binary := writeFakeStressor(t, "#!/bin/sh\nexit 0\n")
	rm := NewRunManager(Options{
		Binary:             binary,
		MaxDurationSeconds: 3600,
		DefaultMemorySize:  "256M",
		EventLogger:        events.NoopEventLogger(),
		Metrics:            otel.NoopMetrics(),
		Tracer:             tracer,
	})

	if _, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 5}); err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}
	waitForTerminal(t, rm)

	evts, err := rm.TailEvents(0, 1)
	if err != nil {
		t.Fatalf("TailEvents failed: %v", err)
	}
	if len(evts) == 0 || evts[0].Type != EventTypeRunCreated {
		t.Fatalf("Expected RUN_CREATED as first event, got %v", evts)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(evts[0].Payload, &payload); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}
	traceID, _ := payload["trace_id"].(string)
	if len(traceID) != 32 {
		t.Errorf("trace_id = %q, want a 32-char trace ID", traceID)
	}
	if payload["request"] == nil {
		t.Error("Expected request in RUN_CREATED payload")
	}
}

func TestStats_CountsRuns(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nexit 0\n")
	rm := newTestManager(t, binary)

	for i := 0; i < 3; i++ {
		if _, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 5}); err != nil {
			t.Fatalf("StartTest %d failed: %v", i, err)
		}
		waitForTerminal(t, rm)
		if err := rm.Reset(); err != nil {
			t.Fatalf("Reset %d failed: %v", i, err)
		}
	}

	stats := rm.Stats()
	if stats.RunsTotal != 3 {
		t.Errorf("RunsTotal = %d, want 3", stats.RunsTotal)
	}
	if stats.RunsCompleted != 3 {
		t.Errorf("RunsCompleted = %d, want 3", stats.RunsCompleted)
	}
	if stats.ActiveRuns != 0 {
		t.Errorf("ActiveRuns = %d, want 0", stats.ActiveRuns)
	}
}

func TestGenerateRunID_Unique(t *testing.T) {
	rm := newTestManager(t, "/bin/true")

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := rm.generateRunID()
		if seen[id] {
			t.Fatalf("Duplicate run ID: %s", id)
		}
		seen[id] = true
	}
}

func TestShutdown_StopsActiveRun(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nsleep 30\n")
	rm := newTestManager(t, binary)

	if _, err := rm.StartTest(context.Background(), stressor.Request{CPUWorkers: 1, DurationSeconds: 30}); err != nil {
		t.Fatalf("StartTest failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	view := rm.CurrentStatus()
	if view == nil || !view.State.Terminal() {
		t.Error("Expected terminal run after shutdown")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RunState
		want     bool
	}{
		{RunStateRunning, RunStateCompleted, true},
		{RunStateRunning, RunStateFailed, true},
		{RunStateCompleted, RunStateRunning, false},
		{RunStateCompleted, RunStateFailed, false},
		{RunStateFailed, RunStateCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
