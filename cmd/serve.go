package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/auth"
	"github.com/nextlevelbuilder/agentgate/internal/backend"
	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/executor"
	"github.com/nextlevelbuilder/agentgate/internal/server"
	"github.com/nextlevelbuilder/agentgate/internal/session"
	"github.com/nextlevelbuilder/agentgate/internal/task"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	shutdownTracing := initTracing(ctx, cfg)
	defer shutdownTracing()

	gate, err := buildAuthGate(ctx, cfg)
	if err != nil {
		return err
	}

	remote := backend.NewCopilotClient(cfg.TokenURL(), cfg.ClientID, cfg.ClientSecret, cfg.EnvironmentID, cfg.AgentSchema)

	sessions, err := buildRegistry(cfg, remote)
	if err != nil {
		return err
	}

	store, err := buildTaskStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	exec := executor.New(sessions, remote, store, cfg.RemoteTimeout, cfg.Cancel)
	return server.New(cfg, gate, exec, store, sessions).ListenAndServe(ctx)
}

// buildAuthGate selects the auth strategy from the configured credentials.
// In bearer mode the signing key set is fetched once, before the first
// request; a failure here aborts startup.
func buildAuthGate(ctx context.Context, cfg *config.Config) (*auth.Middleware, error) {
	switch cfg.AuthMode() {
	case config.AuthModeBearer:
		slog.Info("Copilot Studio credentials detected, using bearer token auth")
		keys, err := auth.FetchKeySet(ctx, cfg.JWKSURL())
		if err != nil {
			return nil, fmt.Errorf("load signing keys: %w", err)
		}
		return auth.NewBearer(auth.NewValidator(keys, cfg.ClientID), cfg.TenantID, cfg.ClientID), nil
	case config.AuthModeAPIKey:
		slog.Info("using API key auth")
		return auth.NewAPIKey(cfg.APIKey), nil
	default:
		return auth.Disabled(), nil
	}
}

func buildRegistry(cfg *config.Config, remote *backend.CopilotClient) (*session.Registry, error) {
	if cfg.Eviction == config.EvictLRU {
		reg, err := session.NewRegistryLRU(remote, cfg.SessionCap)
		if err != nil {
			return nil, fmt.Errorf("session registry: %w", err)
		}
		return reg, nil
	}
	return session.NewRegistry(remote), nil
}

func buildTaskStore(cfg *config.Config) (task.Store, error) {
	if cfg.TaskDBPath == "" {
		return task.NewMemoryStore(), nil
	}
	store, err := task.NewSQLiteStore(cfg.TaskDBPath)
	if err != nil {
		return nil, fmt.Errorf("task store: %w", err)
	}
	return store, nil
}
