package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"compliancepulse/internal/config"
	"compliancepulse/internal/engine"
	"compliancepulse/internal/logger"
	"compliancepulse/internal/scan"
	"compliancepulse/internal/service"
	"compliancepulse/internal/store"
	"compliancepulse/internal/store/postgres"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// client bundles everything a subcommand needs: the store connection,
// the service surface, and the caller's tenant context.
type client struct {
	db      *postgres.Store
	service *service.Service
	tenant  store.TenantContext
}

// newClient connects to the database configured via viper and resolves
// the tenant context. pulsectl is an admin tool and talks to the store
// directly; there is no HTTP hop.
func newClient(ctx context.Context) (*client, error) {
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL not set. Use --database-url or the PULSE_DATABASE_URL environment variable")
	}

	orgRaw := viper.GetString("org")
	if orgRaw == "" {
		return nil, fmt.Errorf("organization not set. Use --org or the PULSE_ORG environment variable")
	}
	orgID, err := uuid.Parse(orgRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid organization id %q: %w", orgRaw, err)
	}

	db, err := postgres.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Sandbox limits come from the same environment the worker uses, so
	// a synchronous pulsectl scan behaves like a queued one.
	var (
		allowed     []string
		ruleRuntime = 15 * time.Second
		artifacts   = "artifacts"
		maxPerOrg   = 3
	)
	if cfg, err := loadEnvConfig(databaseURL); err == nil {
		allowed = cfg.AllowedCommands
		ruleRuntime = cfg.MaxRuleRuntime
		artifacts = cfg.ArtifactsDir
		maxPerOrg = cfg.MaxConcurrentJobsPerOrg
	}

	writer, err := scan.NewArtifactWriter(artifacts)
	if err != nil {
		db.Close()
		return nil, err
	}

	slogger := logger.New()
	ruleEngine := engine.New(engine.Config{AllowedCommands: allowed, MaxRuleRuntime: ruleRuntime})
	executor := scan.NewExecutor(db, ruleEngine, writer, slogger)
	svc := service.New(db, executor, service.Config{MaxJobsPerOrg: maxPerOrg}, slogger)

	return &client{
		db:      db,
		service: svc,
		tenant:  store.TenantContext{OrgID: orgID},
	}, nil
}

func (c *client) Close() error {
	return c.db.Close()
}

// loadEnvConfig reads the worker environment config, filling in
// DATABASE_URL from the CLI's own setting when the variable is unset.
func loadEnvConfig(databaseURL string) (*config.Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		os.Setenv("DATABASE_URL", databaseURL)
	}
	return config.Load()
}
