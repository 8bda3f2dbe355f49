package stressor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/perfbench/stressd/internal/config"
)

// SpawnError indicates the stressor process could not be started at all
// (binary missing, not executable). It is distinct from a non-zero exit.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn stressor %q: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitResult describes how a stressor process ended.
type ExitResult struct {
	ExitCode int
	Signaled bool
	Signal   string
	Output   string
}

// OK reports whether the process exited cleanly.
func (r ExitResult) OK() bool { return !r.Signaled && r.ExitCode == 0 }

// Reason returns a short diagnostic for a failed exit.
func (r ExitResult) Reason() string {
	if r.Signaled {
		return fmt.Sprintf("terminated by signal %s", r.Signal)
	}
	return fmt.Sprintf("exited with code %d", r.ExitCode)
}

// Runner owns a single stressor child process: spawn, wait, terminate.
// Start may be called once; Wait must be called exactly once after a
// successful Start and is the only place the process is reaped.
type Runner struct {
	binary      string
	outputLimit int

	mu     sync.Mutex
	cmd    *exec.Cmd
	output *boundedBuffer
	done   chan struct{}
}

// NewRunner creates a runner for the given stressor binary.
func NewRunner(binary string) *Runner {
	return &Runner{
		binary:      binary,
		outputLimit: config.DefaultOutputLimitBytes,
	}
}

// Start spawns the stressor with arguments derived from the request.
// Combined stdout/stderr is captured into a bounded buffer for diagnostics.
// Returns a *SpawnError if the process cannot be started.
func (r *Runner) Start(ctx context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return errors.New("runner already started")
	}

	args := BuildArgs(req)
	cmd := exec.CommandContext(ctx, r.binary, args...)

	buf := newBoundedBuffer(r.outputLimit)
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		return &SpawnError{Binary: r.binary, Err: err}
	}

	r.cmd = cmd
	r.output = buf
	r.done = make(chan struct{})
	return nil
}

// PID returns the child process ID, or 0 before Start.
func (r *Runner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Args returns the derived command line, for logging.
func (r *Runner) Args() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return nil
	}
	return r.cmd.Args
}

// Wait blocks until the child exits and returns the exit result.
func (r *Runner) Wait() ExitResult {
	r.mu.Lock()
	cmd := r.cmd
	done := r.done
	buf := r.output
	r.mu.Unlock()

	if cmd == nil {
		return ExitResult{ExitCode: -1, Output: ""}
	}

	err := cmd.Wait()
	close(done)

	result := ExitResult{Output: buf.String()}
	if err == nil {
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signaled = true
			result.Signal = ws.Signal().String()
			result.ExitCode = -1
			return result
		}
		result.ExitCode = exitErr.ExitCode()
		return result
	}

	result.ExitCode = -1
	result.Output = err.Error()
	return result
}

// Terminate asks the child to stop with SIGTERM and escalates to SIGKILL
// after a grace period if the process has not been reaped by then. It does
// not wait for exit; the caller's Wait observes the result.
func (r *Runner) Terminate() error {
	r.mu.Lock()
	cmd := r.cmd
	done := r.done
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return errors.New("no process to terminate")
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	go func() {
		select {
		case <-done:
		case <-time.After(config.DefaultKillGrace):
			cmd.Process.Kill()
		}
	}()

	return nil
}

// boundedBuffer collects process output up to a fixed limit; excess bytes are
// dropped. Safe for the shared stdout/stderr writer.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limit - len(b.buf)
	if remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	// Report full write so the child never sees a pipe error.
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.buf) + "\n...[output truncated]"
	}
	return string(b.buf)
}
