package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/quantumclaw/quantumclaw/internal/config"
)

// testPostgresConnection pings dsn with a short timeout, used by auto-onboard
// to confirm the database container is reachable before running migrations.
func testPostgresConnection(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// seedManagedData inserts the default agent and provider rows managed mode
// expects to find on first boot. It is idempotent: a conflict on the unique
// key is treated as "already seeded", not an error.
func seedManagedData(dsn string, cfg *config.Config) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = db.ExecContext(ctx, `
		INSERT INTO agents (agent_key, agent_type, display_name, provider, model, workspace)
		VALUES ('default', 'primary', 'GoClaw', $1, $2, $3)
		ON CONFLICT (agent_key) DO NOTHING
	`, cfg.Agents.Defaults.Provider, cfg.Agents.Defaults.Model, cfg.Agents.Defaults.Workspace)
	if err != nil {
		return fmt.Errorf("seed default agent: %w", err)
	}

	apiKey := resolveProviderAPIKey(cfg, cfg.Agents.Defaults.Provider)
	if apiKey != "" {
		_, err = db.ExecContext(ctx, `
			INSERT INTO providers (name, api_key, api_base)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
		`, cfg.Agents.Defaults.Provider, apiKey, resolveProviderAPIBase(cfg.Agents.Defaults.Provider))
		if err != nil {
			return fmt.Errorf("seed default provider: %w", err)
		}
	}
	return nil
}
