// Package metrics provides Prometheus metrics exposition for stressd.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/perfbench/stressd/internal/runmanager"
	"github.com/perfbench/stressd/internal/sysinfo"
)

// StatsProvider provides run counters for metrics collection.
type StatsProvider interface {
	Stats() runmanager.Stats
}

// SystemProvider provides the last sampled system snapshot.
type SystemProvider interface {
	Cached() *sysinfo.SystemMetrics
}

// Collector collects and exposes stressd metrics in Prometheus format.
// Thread-safe for concurrent access.
type Collector struct {
	mu sync.RWMutex

	statsProvider  StatsProvider
	systemProvider SystemProvider

	// Cached data synced from providers
	stats  runmanager.Stats
	system *sysinfo.SystemMetrics

	requestCounts map[requestKey]int64

	// Time function for testing
	nowFunc func() time.Time
}

// requestKey is a composite key for HTTP request metrics.
type requestKey struct {
	path   string
	status int
}

// NewCollector creates a new metrics Collector.
func NewCollector() *Collector {
	return &Collector{
		requestCounts: make(map[requestKey]int64),
		nowFunc:       time.Now,
	}
}

// SetStatsProvider sets the run stats provider for metrics collection.
func (c *Collector) SetStatsProvider(p StatsProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsProvider = p
}

// SetSystemProvider sets the system snapshot provider for metrics collection.
func (c *Collector) SetSystemProvider(p SystemProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemProvider = p
}

// RecordRequest records a served HTTP request.
func (c *Collector) RecordRequest(path string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCounts[requestKey{path: path, status: status}]++
}

// SyncFromProviders synchronizes metrics from configured providers.
// This should be called on-demand before metrics exposition.
func (c *Collector) SyncFromProviders() {
	c.mu.Lock()
	statsProvider := c.statsProvider
	systemProvider := c.systemProvider
	c.mu.Unlock()

	var stats runmanager.Stats
	if statsProvider != nil {
		stats = statsProvider.Stats()
	}

	var system *sysinfo.SystemMetrics
	if systemProvider != nil {
		system = systemProvider.Cached()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if statsProvider != nil {
		c.stats = stats
	}
	if systemProvider != nil {
		c.system = system
	}
}

// Expose returns the metrics in Prometheus text exposition format.
func (c *Collector) Expose() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	timestamp := c.nowFunc().UnixMilli()

	c.writeRunCounters(&sb, timestamp)
	c.writeRunGauges(&sb, timestamp)
	c.writeRequestCounts(&sb, timestamp)
	c.writeSystemGauges(&sb, timestamp)

	return sb.String()
}

func (c *Collector) writeRunCounters(sb *strings.Builder, timestamp int64) {
	sb.WriteString("# HELP stressd_runs_total Total number of load-test runs by terminal state\n")
	sb.WriteString("# TYPE stressd_runs_total counter\n")
	fmt.Fprintf(sb, "stressd_runs_total{state=%q} %d %d\n", "completed", c.stats.RunsCompleted, timestamp)
	fmt.Fprintf(sb, "stressd_runs_total{state=%q} %d %d\n", "failed", c.stats.RunsFailed, timestamp)

	sb.WriteString("# HELP stressd_spawn_errors_total Total number of stressor launch failures\n")
	sb.WriteString("# TYPE stressd_spawn_errors_total counter\n")
	fmt.Fprintf(sb, "stressd_spawn_errors_total %d %d\n", c.stats.SpawnErrors, timestamp)
}

func (c *Collector) writeRunGauges(sb *strings.Builder, timestamp int64) {
	sb.WriteString("# HELP stressd_run_active Whether a load test is currently running\n")
	sb.WriteString("# TYPE stressd_run_active gauge\n")
	fmt.Fprintf(sb, "stressd_run_active %d %d\n", c.stats.ActiveRuns, timestamp)

	sb.WriteString("# HELP stressd_last_run_duration_seconds Duration of the most recently finished run\n")
	sb.WriteString("# TYPE stressd_last_run_duration_seconds gauge\n")
	fmt.Fprintf(sb, "stressd_last_run_duration_seconds %.3f %d\n", c.stats.LastRunDurationSeconds, timestamp)
}

func (c *Collector) writeRequestCounts(sb *strings.Builder, timestamp int64) {
	sb.WriteString("# HELP stressd_http_requests_total Total number of HTTP requests served\n")
	sb.WriteString("# TYPE stressd_http_requests_total counter\n")

	keys := make([]requestKey, 0, len(c.requestCounts))
	for k := range c.requestCounts {
		keys = append(keys, k)
	}
	sortRequestKeys(keys)
	for _, k := range keys {
		count := c.requestCounts[k]
		fmt.Fprintf(sb, "stressd_http_requests_total{path=%q,status=\"%d\"} %d %d\n", k.path, k.status, count, timestamp)
	}
}

func (c *Collector) writeSystemGauges(sb *strings.Builder, timestamp int64) {
	if c.system == nil || c.system.Host == nil {
		return
	}
	host := c.system.Host

	sb.WriteString("# HELP stressd_system_cpu_percent Host CPU usage percentage\n")
	sb.WriteString("# TYPE stressd_system_cpu_percent gauge\n")
	fmt.Fprintf(sb, "stressd_system_cpu_percent %.2f %d\n", host.CPUPercent, timestamp)

	sb.WriteString("# HELP stressd_system_memory_percent Host memory usage percentage\n")
	sb.WriteString("# TYPE stressd_system_memory_percent gauge\n")
	fmt.Fprintf(sb, "stressd_system_memory_percent %.2f %d\n", host.MemPercent, timestamp)

	sb.WriteString("# HELP stressd_system_memory_used_bytes Host memory in use\n")
	sb.WriteString("# TYPE stressd_system_memory_used_bytes gauge\n")
	fmt.Fprintf(sb, "stressd_system_memory_used_bytes %d %d\n", host.MemUsed, timestamp)

	sb.WriteString("# HELP stressd_system_load1 Host load average over one minute\n")
	sb.WriteString("# TYPE stressd_system_load1 gauge\n")
	fmt.Fprintf(sb, "stressd_system_load1 %.2f %d\n", host.LoadAvg1, timestamp)
}

func sortRequestKeys(keys []requestKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].path != keys[j].path {
			return keys[i].path < keys[j].path
		}
		return keys[i].status < keys[j].status
	})
}

// Reset clears all collected metrics.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats = runmanager.Stats{}
	c.system = nil
	c.requestCounts = make(map[requestKey]int64)
}
