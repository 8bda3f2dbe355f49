package sysinfo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/perfbench/stressd/internal/events"
)

func TestReader_Read(t *testing.T) {
	r := NewReader(time.Second, events.NoopEventLogger())

	m := r.Read(context.Background())
	if m == nil {
		t.Fatal("Read returned nil")
	}
	if m.TimestampMs == 0 {
		t.Error("Expected non-zero timestamp")
	}
	if !m.Stale && m.Host == nil {
		t.Error("Expected host metrics in a fresh snapshot")
	}
}

func TestReader_HostMetricsBestEffort(t *testing.T) {
	r := NewReader(time.Second, events.NoopEventLogger())

	m := r.Read(context.Background())
	if m.Stale {
		t.Skip("Sampling missed its deadline on this host")
	}
	if m.Host == nil {
		t.Fatal("Expected host metrics in a fresh snapshot")
	}

	// Memory and process sampling succeed independently of CPU sampling.
	if m.Host.MemTotal == 0 {
		t.Error("Expected non-zero total memory")
	}
	if m.Host.ProcessCount == 0 {
		t.Error("Expected non-zero process count")
	}
}

func TestReader_CachesSnapshot(t *testing.T) {
	r := NewReader(time.Second, events.NoopEventLogger())

	if r.Cached() != nil {
		t.Error("Expected empty cache before first read")
	}

	r.Read(context.Background())
	if r.Cached() == nil {
		t.Error("Expected cached snapshot after read")
	}
}

func TestReader_ProcessMetrics(t *testing.T) {
	r := NewReader(time.Second, events.NoopEventLogger())

	r.SetTargetPID(os.Getpid())
	m := r.Read(context.Background())
	if m.Stale {
		t.Skip("Sampling missed its deadline on this host")
	}
	if m.Process == nil {
		t.Fatal("Expected process metrics for own PID")
	}
	if m.Process.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", m.Process.PID, os.Getpid())
	}
	if m.Process.MemRSS == 0 {
		t.Error("Expected non-zero RSS for running process")
	}

	r.SetTargetPID(0)
	m = r.Read(context.Background())
	if !m.Stale && m.Process != nil {
		t.Error("Expected no process metrics after clearing PID")
	}
}

func TestReader_BackgroundSampler(t *testing.T) {
	r := NewReader(10*time.Millisecond, events.NoopEventLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Cached() != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Sampler never primed the cache")
}
