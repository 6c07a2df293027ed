// Package main is the entry point for the compliancepulse worker.
// The worker claims queued scan jobs, executes benchmark rules under the
// sandbox policy, and persists scored reports.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"compliancepulse/internal/config"
	"compliancepulse/internal/engine"
	"compliancepulse/internal/logger"
	"compliancepulse/internal/observability"
	"compliancepulse/internal/scan"
	"compliancepulse/internal/store/postgres"
	"compliancepulse/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "compliancepulse-worker", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slogger.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slogger.Error("failed to shutdown metrics", "error", err)
		}
	}()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	artifacts, err := scan.NewArtifactWriter(cfg.ArtifactsDir)
	if err != nil {
		log.Fatalf("Failed to prepare artifact directory: %v", err)
	}

	ruleEngine := engine.New(engine.Config{
		AllowedCommands: cfg.AllowedCommands,
		MaxRuleRuntime:  cfg.MaxRuleRuntime,
	})
	executor := scan.NewExecutor(db, ruleEngine, artifacts, slogger)

	hostname, _ := os.Hostname()
	agent := worker.New(db, db, executor, worker.AgentConfig{
		ID:            hostname,
		Concurrency:   cfg.WorkerConcurrency,
		PollInterval:  cfg.WorkerPollInterval,
		JobRuntime:    cfg.MaxScanRuntimePerJob,
		MaxJobsPerOrg: cfg.MaxConcurrentJobsPerOrg,
	}, slogger)

	go agent.Run(ctx)

	// Dedicated metrics server alongside the pull loop.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		slogger.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slogger.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogger.Info("shutting down worker")
	cancel()

	<-agent.Done()
}
