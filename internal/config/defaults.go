package config

import "time"

// Default tunables for the run watcher and metrics reader.
const (
	// DefaultOutputLimitBytes bounds how much combined stdout/stderr of the
	// stressor child is retained for diagnostics.
	DefaultOutputLimitBytes = 64 * 1024

	// DefaultKillGrace is how long Terminate waits after SIGTERM before
	// escalating to SIGKILL.
	DefaultKillGrace = 5 * time.Second

	// DefaultMetricsReadTimeout bounds a single system-metrics read.
	DefaultMetricsReadTimeout = 500 * time.Millisecond

	// DefaultEventLogLimit caps the per-run event log.
	DefaultEventLogLimit = 1000
)
