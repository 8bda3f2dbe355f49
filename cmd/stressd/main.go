package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perfbench/stressd/internal/api"
	"github.com/perfbench/stressd/internal/config"
	"github.com/perfbench/stressd/internal/events"
	"github.com/perfbench/stressd/internal/metrics"
	"github.com/perfbench/stressd/internal/otel"
	"github.com/perfbench/stressd/internal/runmanager"
	"github.com/perfbench/stressd/internal/sysinfo"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional .env file with configuration overrides")
	devMode := flag.Bool("dev", false, "Development mode: binds to loopback, console logs, disables rate limiting")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if *devMode {
		cfg.Host = "127.0.0.1"
		cfg.LogFormat = "console"
		cfg.RateLimitRPS = 0
		fmt.Println("Development mode: loopback only, rate limiting disabled")
	}

	logger := events.NewEventLogger(cfg.LogFormat)
	events.SetGlobalEventLogger(logger)

	ctx := context.Background()

	tracer, err := otel.NewTracer(ctx, &otel.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "stressd",
		ExporterType: otel.ExporterType(cfg.OTelExporter),
		OTLPEndpoint: cfg.OTelEndpoint,
		OTLPInsecure: cfg.OTelInsecure,
		SampleRate:   1.0,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating tracer: %v\n", err)
		os.Exit(1)
	}
	otel.SetGlobalTracer(tracer)

	otelMetrics, err := otel.NewMetrics(ctx, &otel.MetricsConfig{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "stressd",
		ExporterType: otel.ExporterType(cfg.OTelExporter),
		OTLPEndpoint: cfg.OTelEndpoint,
		OTLPInsecure: cfg.OTelInsecure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating metrics: %v\n", err)
		os.Exit(1)
	}
	otel.SetGlobalMetrics(otelMetrics)

	samplerCtx, stopSampler := context.WithCancel(ctx)
	defer stopSampler()

	reader := sysinfo.NewReader(cfg.MetricsSampleInterval, logger)
	reader.Start(samplerCtx)

	rm := runmanager.NewRunManager(runmanager.Options{
		Binary:             cfg.StressBinary,
		MaxDurationSeconds: cfg.MaxDurationSeconds,
		DefaultMemorySize:  cfg.DefaultMemorySize,
		EventLogger:        logger,
		Metrics:            otelMetrics,
		Tracer:             tracer,
		PIDTracker:         reader,
	})

	collector := metrics.NewCollector()
	collector.SetStatsProvider(rm)
	collector.SetSystemProvider(reader)

	server := api.NewServer(cfg.Addr(), rm)
	server.SetSystemReader(reader)
	server.SetMetricsCollector(collector)
	server.SetStressorBinary(cfg.StressBinary)
	server.SetTracer(tracer)
	server.SetOTelMetrics(otelMetrics)
	server.SetRateLimiterConfig(&api.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		Enabled:           cfg.RateLimitRPS > 0,
	})

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("stressd listening on %s\n", server.URL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	if err := rm.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping active run: %v\n", err)
	}
	stopSampler()

	tracer.Shutdown(shutdownCtx)
	otelMetrics.Shutdown(shutdownCtx)

	fmt.Println("Server stopped")
}
