package stressor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFakeStressor(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stress-ng")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write fake stressor: %v", err)
	}
	return path
}

func TestRunner_CleanExit(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\necho dispatching workers\nexit 0\n")
	runner := NewRunner(binary)

	req := Request{CPUWorkers: 1, DurationSeconds: 1}
	if err := runner.Start(context.Background(), req); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if runner.PID() <= 0 {
		t.Error("Expected positive PID after Start")
	}

	result := runner.Wait()
	if !result.OK() {
		t.Errorf("Expected clean exit, got %s", result.Reason())
	}
	if !strings.Contains(result.Output, "dispatching workers") {
		t.Errorf("Output missing process stdout: %q", result.Output)
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\necho failure >&2\nexit 3\n")
	runner := NewRunner(binary)

	if err := runner.Start(context.Background(), Request{CPUWorkers: 1, DurationSeconds: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result := runner.Wait()
	if result.OK() {
		t.Fatal("Expected failed exit")
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Output, "failure") {
		t.Errorf("Output missing process stderr: %q", result.Output)
	}
}

func TestRunner_SpawnError(t *testing.T) {
	runner := NewRunner("/nonexistent/stressor-binary")

	err := runner.Start(context.Background(), Request{CPUWorkers: 1, DurationSeconds: 1})
	if err == nil {
		t.Fatal("Expected spawn error for missing binary")
	}

	spawnErr, ok := err.(*SpawnError)
	if !ok {
		t.Fatalf("Start returned %T, want *SpawnError", err)
	}
	if spawnErr.Binary != "/nonexistent/stressor-binary" {
		t.Errorf("SpawnError.Binary = %q", spawnErr.Binary)
	}
}

func TestRunner_Terminate(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nsleep 30\n")
	runner := NewRunner(binary)

	if err := runner.Start(context.Background(), Request{CPUWorkers: 1, DurationSeconds: 30}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan ExitResult, 1)
	go func() {
		done <- runner.Wait()
	}()

	// Give the shell a moment to exec before signaling.
	time.Sleep(50 * time.Millisecond)
	if err := runner.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	select {
	case result := <-done:
		if result.OK() {
			t.Error("Expected non-clean exit after Terminate")
		}
		if !result.Signaled {
			t.Errorf("Expected signaled exit, got code %d", result.ExitCode)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Process did not exit after Terminate")
	}
}

func TestRunner_StartTwice(t *testing.T) {
	binary := writeFakeStressor(t, "#!/bin/sh\nexit 0\n")
	runner := NewRunner(binary)

	if err := runner.Start(context.Background(), Request{CPUWorkers: 1, DurationSeconds: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer runner.Wait()

	if err := runner.Start(context.Background(), Request{CPUWorkers: 1, DurationSeconds: 1}); err == nil {
		t.Error("Second Start returned nil, want error")
	}
}

func TestBoundedBuffer_Truncates(t *testing.T) {
	buf := newBoundedBuffer(8)

	n, err := buf.Write([]byte("0123456789"))
	if err != nil || n != 10 {
		t.Fatalf("Write = (%d, %v), want (10, nil)", n, err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "01234567") {
		t.Errorf("Buffer kept wrong bytes: %q", out)
	}
	if !strings.Contains(out, "truncated") {
		t.Errorf("Expected truncation marker in %q", out)
	}
}
