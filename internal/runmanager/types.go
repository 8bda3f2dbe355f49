package runmanager

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/perfbench/stressd/internal/stressor"
)

// RunState represents the lifecycle state of a load-test run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// StateIdle is reported when no run has been recorded (or after a reset).
// It is not a RunState: idle means the slot is empty.
const StateIdle = "idle"

// Terminal reports whether a state can no longer change.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// RunRecord is the internal representation of the single tracked run.
type RunRecord struct {
	RunID         string
	Request       stressor.Request
	State         RunState
	StartedAtMs   int64
	FinishedAtMs  int64 // 0 while running
	ExitCode      *int
	Error         string
	StopRequested bool

	runner *stressor.Runner
	span   trace.Span
}

// RunView is the external representation of a run, as returned by /status.
type RunView struct {
	RunID        string           `json:"run_id"`
	State        RunState         `json:"state"`
	Request      stressor.Request `json:"request"`
	StartedAtMs  int64            `json:"started_at_ms"`
	FinishedAtMs int64            `json:"finished_at_ms,omitempty"`
	ExitCode     *int             `json:"exit_code,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// Stats is a snapshot of run counters for metrics exposition.
type Stats struct {
	RunsTotal              int64
	RunsCompleted          int64
	RunsFailed             int64
	SpawnErrors            int64
	ActiveRuns             int64
	LastRunDurationSeconds float64
}

func (r *RunRecord) view() *RunView {
	return &RunView{
		RunID:        r.RunID,
		State:        r.State,
		Request:      r.Request,
		StartedAtMs:  r.StartedAtMs,
		FinishedAtMs: r.FinishedAtMs,
		ExitCode:     r.ExitCode,
		Error:        r.Error,
	}
}
