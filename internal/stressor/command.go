// Package stressor builds and runs invocations of the external
// load-generation tool (stress-ng compatible).
package stressor

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Request describes one load test: how many CPU and memory workers to spawn,
// for how long, and how much memory each memory worker should allocate.
type Request struct {
	CPUWorkers      int    `json:"cpu_workers"`
	MemoryWorkers   int    `json:"memory_workers"`
	DurationSeconds int    `json:"duration"`
	MemorySize      string `json:"memory_size,omitempty"`
}

// ValidationError reports a request field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Message)
}

// ApplyDefaults fills memory_size when memory workers are requested without
// an explicit size.
func (r *Request) ApplyDefaults(defaultMemorySize string) {
	if r.MemoryWorkers > 0 && r.MemorySize == "" {
		r.MemorySize = defaultMemorySize
	}
}

// Validate checks the request against the configured duration ceiling.
// At least one worker count must be positive, the duration must be a positive
// number of seconds not exceeding maxDurationSeconds, and memory_size must
// parse as a byte quantity when memory workers are requested.
func (r *Request) Validate(maxDurationSeconds int) error {
	if r.CPUWorkers < 0 {
		return &ValidationError{Field: "cpu_workers", Message: "must be non-negative"}
	}
	if r.MemoryWorkers < 0 {
		return &ValidationError{Field: "memory_workers", Message: "must be non-negative"}
	}
	if r.CPUWorkers == 0 && r.MemoryWorkers == 0 {
		return &ValidationError{Field: "cpu_workers", Message: "at least one of cpu_workers or memory_workers must be positive"}
	}
	if r.DurationSeconds <= 0 {
		return &ValidationError{Field: "duration", Message: "must be a positive number of seconds"}
	}
	if r.DurationSeconds > maxDurationSeconds {
		return &ValidationError{
			Field:   "duration",
			Message: fmt.Sprintf("must not exceed %d seconds", maxDurationSeconds),
		}
	}
	if r.MemoryWorkers > 0 {
		if r.MemorySize == "" {
			return &ValidationError{Field: "memory_size", Message: "required when memory_workers is positive"}
		}
		if _, err := humanize.ParseBytes(r.MemorySize); err != nil {
			return &ValidationError{
				Field:   "memory_size",
				Message: fmt.Sprintf("not a byte quantity (e.g. 512M): %v", err),
			}
		}
	}
	return nil
}

// BuildArgs derives the stressor command line from the request. The mapping
// is deterministic: cpu_workers -> --cpu, memory_workers/memory_size ->
// --vm/--vm-bytes, duration -> --timeout.
func BuildArgs(r Request) []string {
	args := []string{}
	if r.CPUWorkers > 0 {
		args = append(args, "--cpu", strconv.Itoa(r.CPUWorkers))
	}
	if r.MemoryWorkers > 0 {
		args = append(args, "--vm", strconv.Itoa(r.MemoryWorkers), "--vm-bytes", r.MemorySize)
	}
	args = append(args,
		"--timeout", fmt.Sprintf("%ds", r.DurationSeconds),
		"--metrics-brief",
		"--verbose",
	)
	return args
}

// CheckBinary reports whether the stressor binary can be resolved on PATH
// (or as a direct path). Used by the readiness probe.
func CheckBinary(binary string) error {
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("stressor binary not available: %w", err)
	}
	return nil
}
