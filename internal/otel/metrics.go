// Package otel provides OpenTelemetry metrics integration for stressd.
package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "stressd",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with stressd-specific helpers.
type Metrics struct {
	config         *MetricsConfig
	meterProvider  *sdkmetric.MeterProvider
	meter          metric.Meter
	shutdown       func(context.Context) error
	mu             sync.RWMutex
	activeRun      atomic.Int64
	activeGauge    metric.Int64ObservableGauge
	activeGaugeReg metric.Registration

	// Metric instruments
	runCounter      metric.Int64Counter
	runDuration     metric.Float64Histogram
	spawnErrors     metric.Int64Counter
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	// Run counter with terminal state attribute
	m.runCounter, err = m.meter.Int64Counter(
		"stressd.runs",
		metric.WithDescription("Count of finished load-test runs by state"),
	)
	if err != nil {
		return fmt.Errorf("failed to create run counter: %w", err)
	}

	// Run duration histogram (in seconds)
	m.runDuration, err = m.meter.Float64Histogram(
		"stressd.run.duration",
		metric.WithDescription("Duration of load-test runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	// Spawn error counter
	m.spawnErrors, err = m.meter.Int64Counter(
		"stressd.spawn.errors",
		metric.WithDescription("Count of stressor process launch failures"),
	)
	if err != nil {
		return fmt.Errorf("failed to create spawn error counter: %w", err)
	}

	// HTTP request counter
	m.requestCounter, err = m.meter.Int64Counter(
		"stressd.http.requests",
		metric.WithDescription("Count of HTTP requests by path and status"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request counter: %w", err)
	}

	// HTTP request latency histogram (in milliseconds)
	m.requestDuration, err = m.meter.Float64Histogram(
		"stressd.http.duration",
		metric.WithDescription("Latency of HTTP requests"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	// Active run observable gauge
	m.activeGauge, err = m.meter.Int64ObservableGauge(
		"stressd.run.active",
		metric.WithDescription("Whether a load test is currently running"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active run gauge: %w", err)
	}

	m.activeGaugeReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.activeGauge, m.activeRun.Load())
			return nil
		},
		m.activeGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register active run gauge callback: %w", err)
	}

	return nil
}

// RecordRunFinished records a terminal run with its state and duration.
func (m *Metrics) RecordRunFinished(ctx context.Context, state string, durationSeconds float64) {
	if m.runCounter != nil {
		m.runCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", state),
		))
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, durationSeconds, metric.WithAttributes(
			attribute.String("state", state),
		))
	}
}

// RecordSpawnError increments the spawn error counter.
func (m *Metrics) RecordSpawnError(ctx context.Context) {
	if m.spawnErrors == nil {
		return
	}

	m.spawnErrors.Add(ctx, 1)
}

// RecordHTTPRequest records an HTTP request with its path, status and latency.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, path string, status int, latencyMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.Int("status", status),
	}

	if m.requestCounter != nil {
		m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.requestDuration != nil {
		m.requestDuration.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
	}
}

// SetRunActive sets the active run gauge value.
// This is thread-safe and will be read by the gauge callback.
func (m *Metrics) SetRunActive(active bool) {
	if active {
		m.activeRun.Store(1)
	} else {
		m.activeRun.Store(0)
	}
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeGaugeReg != nil {
		if err := m.activeGaugeReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister active run callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
