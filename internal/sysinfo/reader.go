// Package sysinfo reads host and stressor-process metrics via gopsutil.
package sysinfo

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/perfbench/stressd/internal/config"
	"github.com/perfbench/stressd/internal/events"
)

// HostMetrics holds a snapshot of host-level resource usage. Each field is
// sampled independently; an unavailable source leaves its fields zero.
type HostMetrics struct {
	CPUPercent   float64 `json:"cpu_percent"`
	MemTotal     uint64  `json:"memory_total"`
	MemUsed      uint64  `json:"memory_used"`
	MemAvailable uint64  `json:"memory_available"`
	MemPercent   float64 `json:"memory_percent"`
	SwapUsed     uint64  `json:"swap_used"`
	LoadAvg1     float64 `json:"load_avg_1"`
	LoadAvg5     float64 `json:"load_avg_5"`
	LoadAvg15    float64 `json:"load_avg_15"`
	ProcessCount int     `json:"process_count"`
}

// ProcessMetrics holds a snapshot of the stressor process, when one is running.
type ProcessMetrics struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemRSS     uint64  `json:"memory_rss"`
	MemVMS     uint64  `json:"memory_vms"`
	NumThreads int     `json:"num_threads"`
}

// SystemMetrics is the full snapshot returned by the metrics endpoint.
type SystemMetrics struct {
	TimestampMs int64           `json:"ts_ms"`
	Stale       bool            `json:"stale,omitempty"`
	Host        *HostMetrics    `json:"host"`
	Process     *ProcessMetrics `json:"process,omitempty"`
}

// Reader samples system metrics. A background sampler keeps a cached snapshot
// so reads stay fast even when the host is under heavy load; Read falls back
// to the cache when a fresh sample misses its deadline.
type Reader struct {
	interval    time.Duration
	readTimeout time.Duration
	logger      *events.EventLogger

	mu     sync.RWMutex
	cached *SystemMetrics

	pidMu     sync.RWMutex
	targetPID int
}

// NewReader creates a Reader sampling at the given interval.
func NewReader(interval time.Duration, logger *events.EventLogger) *Reader {
	if logger == nil {
		logger = events.GetGlobalEventLogger()
	}
	return &Reader{
		interval:    interval,
		readTimeout: config.DefaultMetricsReadTimeout,
		logger:      logger,
	}
}

// SetTargetPID sets the stressor PID to include in snapshots. 0 clears it.
func (r *Reader) SetTargetPID(pid int) {
	r.pidMu.Lock()
	defer r.pidMu.Unlock()
	r.targetPID = pid
}

// TargetPID returns the currently tracked stressor PID, or 0.
func (r *Reader) TargetPID() int {
	r.pidMu.RLock()
	defer r.pidMu.RUnlock()
	return r.targetPID
}

// Start launches the background sampler. It returns immediately; the sampler
// stops when ctx is cancelled.
func (r *Reader) Start(ctx context.Context) {
	go func() {
		// Prime the cache so the first read never misses.
		r.refresh()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refresh()
			}
		}
	}()
}

// Read returns a fresh snapshot, or the cached one marked stale when sampling
// does not finish before the deadline.
func (r *Reader) Read(ctx context.Context) *SystemMetrics {
	fresh := make(chan *SystemMetrics, 1)
	go func() {
		fresh <- r.sample()
	}()

	timer := time.NewTimer(r.readTimeout)
	defer timer.Stop()

	select {
	case m := <-fresh:
		r.mu.Lock()
		r.cached = m
		r.mu.Unlock()
		return m
	case <-timer.C:
	case <-ctx.Done():
	}

	r.mu.RLock()
	cached := r.cached
	r.mu.RUnlock()

	if cached == nil {
		// Nothing cached yet; return an empty snapshot rather than block.
		return &SystemMetrics{TimestampMs: time.Now().UnixMilli(), Stale: true}
	}

	stale := *cached
	stale.Stale = true
	return &stale
}

// Cached returns the last snapshot taken by the sampler, or nil.
func (r *Reader) Cached() *SystemMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cached
}

func (r *Reader) refresh() {
	m := r.sample()
	r.mu.Lock()
	r.cached = m
	r.mu.Unlock()
}

func (r *Reader) sample() *SystemMetrics {
	m := &SystemMetrics{
		TimestampMs: time.Now().UnixMilli(),
	}

	host := &HostMetrics{}

	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		r.logger.LogMetricsSampleFailed("cpu", err)
	} else if len(cpuPercent) > 0 {
		host.CPUPercent = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		host.MemTotal = memInfo.Total
		host.MemUsed = memInfo.Used
		host.MemAvailable = memInfo.Available
		host.MemPercent = memInfo.UsedPercent
	}

	if swapInfo, err := mem.SwapMemory(); err == nil && swapInfo != nil {
		host.SwapUsed = swapInfo.Used
	}

	// Load average (Unix systems)
	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		host.LoadAvg1 = loadAvg.Load1
		host.LoadAvg5 = loadAvg.Load5
		host.LoadAvg15 = loadAvg.Load15
	}

	if pids, err := process.Pids(); err == nil {
		host.ProcessCount = len(pids)
	}

	m.Host = host

	if pid := r.TargetPID(); pid > 0 {
		proc, err := process.NewProcess(int32(pid))
		if err == nil {
			cpuPct, _ := proc.CPUPercent()
			numThreads, _ := proc.NumThreads()

			m.Process = &ProcessMetrics{
				PID:        pid,
				CPUPercent: cpuPct,
				NumThreads: int(numThreads),
			}

			if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
				m.Process.MemRSS = memInfo.RSS
				m.Process.MemVMS = memInfo.VMS
			}
		}
	}

	return m
}
