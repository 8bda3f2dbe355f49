// Package events provides structured logging for key stressd events.
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// EventLogger provides structured logging for load-test lifecycle events.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an EventLogger writing to stdout. format is "json"
// (machine-readable, the default in containers) or "console" (tint-colored,
// for development).
func NewEventLogger(format string) *EventLogger {
	return NewEventLoggerWithWriter(format, os.Stdout)
}

// NewEventLoggerWithWriter creates an EventLogger with a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(format string, w io.Writer) *EventLogger {
	var handler slog.Handler
	if format == "console" {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &EventLogger{logger: slog.New(handler)}
}

// LogRunStarted logs the start of a load test.
func (el *EventLogger) LogRunStarted(runID string, pid int, args []string) {
	el.logger.Info("run_started",
		"run_id", runID,
		"pid", pid,
		"argv", args,
	)
}

// LogRunCompleted logs a clean exit of the stressor process.
func (el *EventLogger) LogRunCompleted(runID string, durationSeconds float64) {
	el.logger.Info("run_completed",
		"run_id", runID,
		"duration_seconds", durationSeconds,
	)
}

// LogRunFailed logs a non-zero or signaled exit of the stressor process.
func (el *EventLogger) LogRunFailed(runID, reason string, exitCode int) {
	el.logger.Warn("run_failed",
		"run_id", runID,
		"reason", reason,
		"exit_code", exitCode,
	)
}

// LogSpawnFailed logs a failure to launch the stressor process.
func (el *EventLogger) LogSpawnFailed(runID string, err error) {
	el.logger.Error("spawn_failed",
		"run_id", runID,
		"error", err.Error(),
	)
}

// LogStopRequested logs an operator stop request against the active run.
func (el *EventLogger) LogStopRequested(runID string, pid int) {
	el.logger.Info("stop_requested",
		"run_id", runID,
		"pid", pid,
	)
}

// LogMetricsSampleFailed logs a degraded system-metrics read.
func (el *EventLogger) LogMetricsSampleFailed(source string, err error) {
	el.logger.Warn("metrics_sample_failed",
		"source", source,
		"error", err.Error(),
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns an event logger that discards all events.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &EventLogger{logger: slog.New(handler)}
}
