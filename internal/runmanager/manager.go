// Package runmanager tracks the single stressor run: start, stop, reset,
// status, and the per-run event log.
package runmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perfbench/stressd/internal/config"
	"github.com/perfbench/stressd/internal/events"
	"github.com/perfbench/stressd/internal/otel"
	"github.com/perfbench/stressd/internal/stressor"
)

// Options configures a RunManager.
type Options struct {
	// Binary is the stressor executable (name on PATH or a direct path).
	Binary string

	// MaxDurationSeconds is the ceiling applied to requested durations.
	MaxDurationSeconds int

	// DefaultMemorySize fills memory_size when memory workers are requested
	// without an explicit size.
	DefaultMemorySize string

	// MaxEvents bounds the per-run event log. 0 uses the default limit.
	MaxEvents int

	// EventLogger receives lifecycle log records. Nil uses the global logger.
	EventLogger *events.EventLogger

	// Metrics receives run counters and durations. Nil uses the global instance.
	Metrics *otel.Metrics

	// Tracer records a span per run lifecycle. Nil uses the global instance.
	Tracer *otel.Tracer

	// PIDTracker, when set, is told the stressor PID while a run is active
	// so system snapshots can include process metrics.
	PIDTracker PIDTracker
}

// PIDTracker receives the stressor PID for the duration of a run.
type PIDTracker interface {
	SetTargetPID(pid int)
}

// RunManager owns the single tracked load-test run. All public methods are
// safe for concurrent use.
type RunManager struct {
	binary             string
	maxDurationSeconds int
	defaultMemorySize  string
	maxEvents          int
	eventLogger        *events.EventLogger
	metrics            *otel.Metrics
	tracer             *otel.Tracer
	pidTracker         PIDTracker

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	current  *RunRecord
	eventLog *EventLog
	wg       sync.WaitGroup

	runCounter atomic.Int64

	runsTotal      atomic.Int64
	runsCompleted  atomic.Int64
	runsFailed     atomic.Int64
	spawnErrors    atomic.Int64
	lastDurationMs atomic.Int64
}

// NewRunManager creates a RunManager with the given options.
func NewRunManager(opts Options) *RunManager {
	if opts.MaxEvents == 0 {
		opts.MaxEvents = config.DefaultEventLogLimit
	}
	if opts.EventLogger == nil {
		opts.EventLogger = events.GetGlobalEventLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = otel.GetGlobalMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.GetGlobalTracer()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RunManager{
		binary:             opts.Binary,
		maxDurationSeconds: opts.MaxDurationSeconds,
		defaultMemorySize:  opts.DefaultMemorySize,
		maxEvents:          opts.MaxEvents,
		eventLogger:        opts.EventLogger,
		metrics:            opts.Metrics,
		tracer:             opts.Tracer,
		pidTracker:         opts.PIDTracker,
		ctx:                ctx,
		cancel:             cancel,
	}
}

// StartTest validates the request, spawns the stressor process, and begins
// tracking the run. Returns the new run's view on success. A run already in
// the running state yields a conflict error; a spawn failure records a failed
// run and returns a spawn error.
func (rm *RunManager) StartTest(ctx context.Context, req stressor.Request) (*RunView, error) {
	req.ApplyDefaults(rm.defaultMemorySize)
	if err := req.Validate(rm.maxDurationSeconds); err != nil {
		return nil, NewValidationError(err)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.current != nil && rm.current.State == RunStateRunning {
		return nil, NewConflictError(rm.current.RunID)
	}

	runID := rm.generateRunID()
	eventLog := NewEventLog(rm.maxEvents)
	now := time.Now().UnixMilli()

	runCtx, span := rm.tracer.StartRunSpan(rm.ctx, otel.RunSpanOptions{
		RunID:         runID,
		Operation:     "stress",
		CPUWorkers:    req.CPUWorkers,
		MemoryWorkers: req.MemoryWorkers,
		Duration:      req.DurationSeconds,
	})
	traceID, _ := otel.GetTraceInfo(runCtx)

	runner := stressor.NewRunner(rm.binary)
	if err := runner.Start(runCtx, req); err != nil {
		otel.RecordError(span, err, "spawn", false)
		span.End()
		// The process never existed, so the record goes straight to failed.
		rm.current = &RunRecord{
			RunID:        runID,
			Request:      req,
			State:        RunStateFailed,
			StartedAtMs:  now,
			FinishedAtMs: now,
			Error:        err.Error(),
		}
		rm.eventLog = eventLog
		rm.appendEvent(eventLog, RunEvent{
			RunID:   runID,
			Type:    EventTypeRunCreated,
			Payload: createdPayload(req, traceID),
		})
		rm.appendEvent(eventLog, RunEvent{
			RunID:   runID,
			Type:    EventTypeStateTransition,
			Payload: transitionPayload("", RunStateFailed),
		})
		rm.runsTotal.Add(1)
		rm.runsFailed.Add(1)
		rm.spawnErrors.Add(1)
		rm.eventLogger.LogSpawnFailed(runID, err)
		rm.metrics.RecordSpawnError(ctx)
		return nil, NewSpawnError(runID, err)
	}

	record := &RunRecord{
		RunID:       runID,
		Request:     req,
		State:       RunStateRunning,
		StartedAtMs: now,
		runner:      runner,
		span:        span,
	}
	rm.current = record
	rm.eventLog = eventLog
	rm.runsTotal.Add(1)

	rm.appendEvent(eventLog, RunEvent{
		RunID:   runID,
		Type:    EventTypeRunCreated,
		Payload: createdPayload(req, traceID),
	})
	rm.appendEvent(eventLog, RunEvent{
		RunID:   runID,
		Type:    EventTypeProcessSpawned,
		Payload: spawnPayload(runner.PID()),
	})

	rm.eventLogger.LogRunStarted(runID, runner.PID(), runner.Args())
	rm.metrics.SetRunActive(true)
	if rm.pidTracker != nil {
		rm.pidTracker.SetTargetPID(runner.PID())
	}

	rm.wg.Add(1)
	go rm.watch(record, eventLog)

	return record.view(), nil
}

// watch reaps the stressor process and records the terminal state.
func (rm *RunManager) watch(record *RunRecord, eventLog *EventLog) {
	defer rm.wg.Done()

	result := record.runner.Wait()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	// The slot may have been reset and reused while we waited.
	if rm.current == nil || rm.current.RunID != record.RunID {
		return
	}

	to := RunStateCompleted
	if !result.OK() {
		to = RunStateFailed
	}
	if !CanTransition(record.State, to) {
		return
	}

	record.State = to
	record.FinishedAtMs = time.Now().UnixMilli()
	code := result.ExitCode
	record.ExitCode = &code
	if to == RunStateFailed {
		record.Error = result.Reason()
	}

	rm.appendEvent(eventLog, RunEvent{
		RunID:   record.RunID,
		Type:    EventTypeStateTransition,
		Payload: transitionPayload(RunStateRunning, to),
	})
	rm.appendEvent(eventLog, RunEvent{
		RunID:   record.RunID,
		Type:    EventTypeProcessExited,
		Payload: exitPayload(result),
	})

	durationSec := float64(record.FinishedAtMs-record.StartedAtMs) / 1000.0
	rm.lastDurationMs.Store(record.FinishedAtMs - record.StartedAtMs)

	if to == RunStateCompleted {
		rm.runsCompleted.Add(1)
		rm.eventLogger.LogRunCompleted(record.RunID, durationSec)
	} else {
		rm.runsFailed.Add(1)
		rm.eventLogger.LogRunFailed(record.RunID, result.Reason(), result.ExitCode)
	}

	rm.metrics.SetRunActive(false)
	rm.metrics.RecordRunFinished(rm.ctx, string(to), durationSec)
	if record.span != nil {
		if to == RunStateFailed {
			otel.RecordError(record.span, errors.New(result.Reason()), "run", false)
		}
		record.span.End()
	}
	if rm.pidTracker != nil {
		rm.pidTracker.SetTargetPID(0)
	}
}

// StopTest requests termination of the active run. The run stays in the
// running state until the process actually exits; the watcher records the
// terminal state.
func (rm *RunManager) StopTest(ctx context.Context) (*RunView, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.current == nil || rm.current.State != RunStateRunning {
		return nil, NewNotFoundError("stop")
	}

	record := rm.current
	if !record.StopRequested {
		record.StopRequested = true
		rm.appendEvent(rm.eventLog, RunEvent{
			RunID:   record.RunID,
			Type:    EventTypeStopRequested,
			Payload: spawnPayload(record.runner.PID()),
		})
		rm.eventLogger.LogStopRequested(record.RunID, record.runner.PID())
		if err := record.runner.Terminate(); err != nil {
			return nil, NewInternalError(fmt.Errorf("terminate run %s: %w", record.RunID, err))
		}
	}

	return record.view(), nil
}

// Reset clears a finished run so the slot reads as idle again. Resetting an
// active run is a conflict; resetting an already idle slot is a no-op.
func (rm *RunManager) Reset() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.current == nil {
		return nil
	}
	if rm.current.State == RunStateRunning {
		return NewConflictError(rm.current.RunID)
	}

	rm.current = nil
	rm.eventLog = nil
	return nil
}

// CurrentStatus returns the tracked run, or nil when the slot is idle.
func (rm *RunManager) CurrentStatus() *RunView {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.current == nil {
		return nil
	}
	return rm.current.view()
}

// TailEvents returns up to limit events of the current run starting at the
// 0-based cursor. An idle slot yields a not-found error.
func (rm *RunManager) TailEvents(cursor, limit int) ([]RunEvent, error) {
	rm.mu.RLock()
	eventLog := rm.eventLog
	rm.mu.RUnlock()

	if eventLog == nil {
		return nil, NewNotFoundError("tail events")
	}

	evts, err := eventLog.Tail(cursor, limit)
	if err != nil {
		return nil, NewValidationError(err)
	}
	return evts, nil
}

// Stats returns a snapshot of run counters.
func (rm *RunManager) Stats() Stats {
	rm.mu.RLock()
	active := int64(0)
	if rm.current != nil && rm.current.State == RunStateRunning {
		active = 1
	}
	rm.mu.RUnlock()

	return Stats{
		RunsTotal:              rm.runsTotal.Load(),
		RunsCompleted:          rm.runsCompleted.Load(),
		RunsFailed:             rm.runsFailed.Load(),
		SpawnErrors:            rm.spawnErrors.Load(),
		ActiveRuns:             active,
		LastRunDurationSeconds: float64(rm.lastDurationMs.Load()) / 1000.0,
	}
}

// Shutdown stops any active run and waits for the watcher to finish.
// The context bounds the wait.
func (rm *RunManager) Shutdown(ctx context.Context) error {
	rm.mu.Lock()
	if rm.current != nil && rm.current.State == RunStateRunning {
		rm.current.StopRequested = true
		rm.current.runner.Terminate()
	}
	rm.mu.Unlock()

	// Cancelling the manager context kills the child via CommandContext if
	// the SIGTERM grace path has not reaped it yet.
	defer rm.cancel()

	done := make(chan struct{})
	go func() {
		rm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		rm.cancel()
		return errors.New("shutdown timed out waiting for active run")
	}
}

// appendEvent appends to the per-run log, ignoring capacity drops.
func (rm *RunManager) appendEvent(eventLog *EventLog, event RunEvent) {
	_ = eventLog.Append(event)
}

// generateRunID generates a unique run ID in run_<hex> form.
func (rm *RunManager) generateRunID() string {
	ts := time.Now().UnixMilli()
	counter := rm.runCounter.Add(1)
	return fmt.Sprintf("run_%016x%04x", ts, counter&0xFFFF)
}

func createdPayload(req stressor.Request, traceID string) json.RawMessage {
	payload := map[string]any{"request": req}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

func spawnPayload(pid int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"pid":%d}`, pid))
}

func transitionPayload(from, to RunState) json.RawMessage {
	payload := map[string]string{"from": string(from), "to": string(to)}
	if from == "" {
		payload["from"] = StateIdle
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

func exitPayload(result stressor.ExitResult) json.RawMessage {
	payload := map[string]any{
		"exit_code": result.ExitCode,
		"signaled":  result.Signaled,
	}
	if result.Signal != "" {
		payload["signal"] = result.Signal
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}
