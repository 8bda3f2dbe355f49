// Package config loads stressd configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the full service configuration. All values come from
// environment variables so the service can be configured the same way in a
// container and on a developer machine.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`

	// StressBinary is the external load-generation executable. It must accept
	// stress-ng compatible flags (--cpu, --vm, --vm-bytes, --timeout).
	StressBinary string `env:"STRESS_BINARY" envDefault:"stress-ng"`

	// MaxDurationSeconds caps the duration of a single load test.
	MaxDurationSeconds int `env:"MAX_DURATION_SECONDS" envDefault:"3600"`

	// DefaultMemorySize is used when a request enables memory workers but
	// omits memory_size.
	DefaultMemorySize string `env:"DEFAULT_MEMORY_SIZE" envDefault:"256M"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"100"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"200"`

	// MetricsSampleInterval controls the background system-metrics sampler.
	MetricsSampleInterval time.Duration `env:"METRICS_SAMPLE_INTERVAL" envDefault:"5s"`

	// LogFormat is "json" or "console".
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelExporter string `env:"OTEL_EXPORTER" envDefault:"none"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelInsecure bool   `env:"OTEL_INSECURE" envDefault:"false"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads optional .env files and parses the configuration from the
// environment. Missing .env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("failed to load env files %v: %w", existing, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in [0, 65535], got %d", c.Port)
	}
	if c.MaxDurationSeconds <= 0 {
		return fmt.Errorf("MAX_DURATION_SECONDS must be positive, got %d", c.MaxDurationSeconds)
	}
	if c.StressBinary == "" {
		return fmt.Errorf("STRESS_BINARY must not be empty")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be non-negative, got %f", c.RateLimitRPS)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got %q", c.LogFormat)
	}
	return nil
}
