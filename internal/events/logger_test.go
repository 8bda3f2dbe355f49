package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEventLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLoggerWithWriter("json", &buf)

	logger.LogRunStarted("run_1", 4242, []string{"stress-ng", "--cpu", "2"})

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "run_started" {
		t.Errorf("msg = %v, want run_started", record["msg"])
	}
	if record["run_id"] != "run_1" {
		t.Errorf("run_id = %v, want run_1", record["run_id"])
	}
	if record["pid"] != float64(4242) {
		t.Errorf("pid = %v, want 4242", record["pid"])
	}
}

func TestEventLogger_FailureLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLoggerWithWriter("json", &buf)

	logger.LogRunFailed("run_1", "exited with code 2", 2)
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("Expected WARN level for run_failed:\n%s", buf.String())
	}

	buf.Reset()
	logger.LogSpawnFailed("run_2", errTest("no such file"))
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("Expected ERROR level for spawn_failed:\n%s", buf.String())
	}
}

func TestEventLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLoggerWithWriter("console", &buf)

	logger.LogStopRequested("run_1", 4242)
	if !strings.Contains(buf.String(), "stop_requested") {
		t.Errorf("Console output missing message:\n%s", buf.String())
	}
}

func TestGlobalEventLogger(t *testing.T) {
	defer SetGlobalEventLogger(nil)

	if GetGlobalEventLogger() == nil {
		t.Fatal("Expected no-op logger before any Set")
	}

	var buf bytes.Buffer
	logger := NewEventLoggerWithWriter("json", &buf)
	SetGlobalEventLogger(logger)

	if GetGlobalEventLogger() != logger {
		t.Error("Expected the configured global logger")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
