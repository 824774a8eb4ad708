package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/agent/providers"
	"github.com/classpilot/classpilot/internal/artifacts"
	"github.com/classpilot/classpilot/internal/config"
	"github.com/classpilot/classpilot/internal/external"
	"github.com/classpilot/classpilot/internal/gateway"
	"github.com/classpilot/classpilot/internal/observability"
	"github.com/classpilot/classpilot/internal/sessions"
	"github.com/classpilot/classpilot/internal/tokens"
	"github.com/classpilot/classpilot/internal/tools/analysis"
	"github.com/classpilot/classpilot/internal/tools/artifactops"
	"github.com/classpilot/classpilot/internal/tools/basedata"
	"github.com/classpilot/classpilot/internal/tools/generation"
	"github.com/classpilot/classpilot/internal/tools/platform"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the classpilot gateway server",
		Long: `Start the gateway: HTTP API, agent runtime, tool registry and
stores. Shuts down gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func loadConfig(flagPath string) (*config.Config, error) {
	return config.Load(resolveConfigPath(flagPath))
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	metrics := observability.NewMetrics()

	sessionStore, err := buildSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	artifactStore, err := buildArtifactStore(cfg, logger)
	if err != nil {
		return err
	}
	defer artifactStore.Close()

	dataAPI := buildDataAPI(cfg, logger)

	// Platform write operations may live on a separate service from the
	// read-side data API.
	platformAPI := dataAPI
	if cfg.External.PlatformBaseURL != "" {
		platformAPI = external.NewHTTPClient(cfg.External.PlatformBaseURL, cfg.External.DataTimeout, logger)
	}

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	registry := agent.NewRegistry()
	registry.RegisterAll(basedata.Definitions(dataAPI))
	registry.RegisterAll(analysis.Definitions(dataAPI))
	registry.RegisterAll(generation.Definitions(artifactStore, dataAPI))
	registry.RegisterAll(artifactops.Definitions(artifactStore, cfg.Artifact.ExternalizeBytes))
	registry.RegisterAll(platform.Definitions(platformAPI, artifactStore))
	logger.Info("tool registry ready", "tools", len(registry.Names()))

	estimator := tokens.NewEstimator(cfg.Model.DefaultModel, logger)
	truncator := sessions.NewTruncator(estimator, cfg.Sessions.TokenBudget,
		cfg.Sessions.TriggerRatio, cfg.Sessions.TargetRatio, registry.IsGeneration, logger)

	var summarizer sessions.Summarizer
	if cfg.Sessions.SummaryEnabled {
		summaryModel := cfg.Model.FastModel
		if summaryModel == "" {
			summaryModel = cfg.Model.DefaultModel
		}
		summarizer = agent.NewModelSummarizer(provider, summaryModel,
			cfg.Sessions.SummaryMaxTokens, logger)
	}

	executor := agent.NewExecutor(registry, cfg.Agent.PerToolTimeout, metrics, logger)
	runtime := agent.NewRuntime(provider, registry, executor, sessionStore, truncator,
		summarizer, metrics, logger, agent.RuntimeConfig{
			Model:           cfg.Model.DefaultModel,
			MaxToolCalls:    cfg.Agent.MaxToolCalls,
			MaxTurnDuration: cfg.Agent.MaxTurnDuration,
			MaxOutputTokens: cfg.Agent.MaxOutputTokens,
			MaxInputTokens:  cfg.Agent.MaxInputTokens,
			Estimator:       estimator,
			Debug:           cfg.Agent.Debug,
		})

	server := gateway.NewServer(cfg, runtime, sessionStore, artifactStore, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sessions.Store, error) {
	switch cfg.Sessions.StoreType {
	case "remote-kv":
		store, err := sessions.NewRedisStore(ctx, cfg.Sessions.RedisURL, cfg.Sessions.TTL, logger)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		return store, nil
	default:
		return sessions.NewMemoryStore(cfg.Sessions.TTL, logger), nil
	}
}

func buildArtifactStore(cfg *config.Config, logger *slog.Logger) (artifacts.Store, error) {
	url := cfg.Artifact.StoreURL
	if url == "" || url == "memory" {
		return artifacts.NewMemoryStore(), nil
	}
	path := strings.TrimPrefix(url, "file:")
	store, err := artifacts.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	return store, nil
}

func buildDataAPI(cfg *config.Config, logger *slog.Logger) external.DataAPI {
	if cfg.External.DataBaseURL == "" && cfg.Agent.Debug {
		logger.Warn("no data API configured, serving mock platform data")
		return external.NewMockClient()
	}
	return external.NewHTTPClient(cfg.External.DataBaseURL, cfg.External.DataTimeout, logger)
}

func buildProvider(cfg *config.Config, logger *slog.Logger) (agent.ModelProvider, error) {
	build := func(name string) (agent.ModelProvider, error) {
		switch name {
		case "anthropic":
			return providers.NewAnthropicProvider(cfg.Model.AnthropicAPIKey, logger)
		case "openai":
			return providers.NewOpenAIProvider(cfg.Model.OpenAIAPIKey, logger)
		default:
			return nil, fmt.Errorf("unknown model provider %q", name)
		}
	}

	primary, err := build(cfg.Model.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.Model.FallbackProvider == "" || cfg.Model.FallbackProvider == cfg.Model.Provider {
		return primary, nil
	}
	secondary, err := build(cfg.Model.FallbackProvider)
	if err != nil {
		logger.Warn("fallback provider unavailable", "provider", cfg.Model.FallbackProvider, "error", err)
		return primary, nil
	}
	return providers.NewFallbackProvider(logger, primary, secondary)
}
