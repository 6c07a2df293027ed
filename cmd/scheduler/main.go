// Package main is the entry point for the compliancepulse scheduler.
// It runs a single-threaded tick that enqueues scan jobs for due
// schedules; it never executes rules itself.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"compliancepulse/internal/config"
	"compliancepulse/internal/logger"
	"compliancepulse/internal/schedule"
	"compliancepulse/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	manager := schedule.New(db, schedule.Config{
		TickInterval:  cfg.SchedulerTickInterval,
		MaxJobsPerOrg: cfg.MaxConcurrentJobsPerOrg,
	}, slogger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		manager.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogger.Info("shutting down scheduler")
	cancel()
	<-done
}
