// Package config handles environment variable loading for database
// strings, sandbox limits, and worker tuning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// Sandbox policy: permitted executable tokens for rule commands.
	AllowedCommands []string

	// Per-rule subprocess timeout.
	MaxRuleRuntime time.Duration

	// Per-job deadline stamped at claim time.
	MaxScanRuntimePerJob time.Duration

	// Per-tenant cap on live (pending+claimed+running) jobs.
	MaxConcurrentJobsPerOrg int

	// Synchronous scan triggers allowed per tenant per minute (0 = unlimited).
	ScanRatePerMinute int

	// Directory for report artifacts.
	ArtifactsDir string

	// Directory holding benchmark YAML documents.
	BenchmarkDir string

	// Worker-specific configuration
	WorkerConcurrency  int
	WorkerPollInterval time.Duration

	// Scheduler tick interval
	SchedulerTickInterval time.Duration

	// OTLP collector endpoint for traces (empty disables tracing).
	OTELEndpoint string

	// Port for the worker's Prometheus metrics endpoint.
	MetricsPort int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:           dbURL,
		AllowedCommands:       splitList(os.Getenv("ALLOWED_COMMANDS")),
		ArtifactsDir:          envDefault("ARTIFACTS_DIR", "artifacts"),
		BenchmarkDir:          envDefault("BENCHMARK_DIR", "benchmarks"),
		OTELEndpoint:          os.Getenv("OTEL_ENDPOINT"),
		MaxRuleRuntime:        15 * time.Second,
		MaxScanRuntimePerJob:  900 * time.Second,
		WorkerPollInterval:    1 * time.Second,
		SchedulerTickInterval: 1 * time.Minute,
	}

	var err error
	if cfg.MaxRuleRuntime, err = envSeconds("MAX_RULE_RUNTIME", cfg.MaxRuleRuntime); err != nil {
		return nil, err
	}
	if cfg.MaxScanRuntimePerJob, err = envSeconds("MAX_SCAN_RUNTIME_PER_JOB", cfg.MaxScanRuntimePerJob); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentJobsPerOrg, err = envInt("MAX_CONCURRENT_JOBS_PER_ORG", 3); err != nil {
		return nil, err
	}
	if cfg.ScanRatePerMinute, err = envInt("SCAN_RATE_PER_MINUTE", 0); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = envInt("WORKER_CONCURRENCY", 1); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = envInt("METRICS_PORT", 6162); err != nil {
		return nil, err
	}
	if cfg.WorkerPollInterval, err = envDuration("WORKER_POLL_INTERVAL", cfg.WorkerPollInterval); err != nil {
		return nil, err
	}
	if cfg.SchedulerTickInterval, err = envDuration("SCHEDULER_TICK_INTERVAL", cfg.SchedulerTickInterval); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
