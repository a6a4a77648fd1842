package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/dailymatch/internal/config"
	"github.com/kalambet/dailymatch/internal/eligibility"
	"github.com/kalambet/dailymatch/internal/engine"
	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/metrics"
	"github.com/kalambet/dailymatch/internal/oracle"
	"github.com/kalambet/dailymatch/internal/pipeline"
	"github.com/kalambet/dailymatch/internal/storage"
)

// app is the wired set of components a command works with.
type app struct {
	cfg     config.Config
	store   *storage.Store
	metrics *metrics.Manager
	runner  *pipeline.Runner
}

// loadConfig loads configuration, applies an oracle provider override and
// configures logging.
func loadConfig(provider string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if provider != "" {
		cfg.Oracle.Provider = provider
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

// openStore opens storage only, for commands that never run the oracle.
func openStore() (*storage.Store, config.Config, error) {
	cfg, err := loadConfig("")
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("opening storage: %w", err)
	}
	return store, cfg, nil
}

// newApp opens storage and builds the matching runner. progress receives
// backend readiness output; nil discards it.
func newApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	m := metrics.NewManager()
	orc, err := newOracle(ctx, cfg, m, progress)
	if err != nil {
		store.Close()
		return nil, err
	}

	selector := eligibility.NewSelector(store, store, cfg.Matching.ExcludeIDs)
	runner := pipeline.New(store, selector, orc, pipeline.Config{
		MaxAttempts:    cfg.Oracle.MaxAttempts,
		InitialBackoff: cfg.Oracle.InitialBackoff,
		OracleTimeout:  cfg.Oracle.Timeout,
		LockLease:      cfg.Matching.LockLease,
	}, pipeline.WithRecorder(m))

	return &app{cfg: cfg, store: store, metrics: m, runner: runner}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

// newOracle builds the configured clustering oracle. The fake provider
// needs no backend and is meant for local runs and demos.
func newOracle(ctx context.Context, cfg config.Config, m *metrics.Manager, progress io.Writer) (oracle.Oracle, error) {
	if cfg.Oracle.Provider == "fake" {
		slog.Warn("using the offline fake oracle", "component", "cli")
		return oracle.Fake{}, nil
	}

	eng, err := engine.New(ctx, engine.Options{
		Provider:          cfg.Oracle.Provider,
		Model:             cfg.Oracle.Model,
		OllamaBaseURL:     cfg.Ollama.BaseURL,
		OpenRouterAPIKey:  cfg.OpenRouter.APIKey,
		OpenRouterBaseURL: cfg.OpenRouter.BaseURL,
		GeminiAPIKey:      cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", cfg.Oracle.Provider, err)
	}
	if progress == nil {
		progress = io.Discard
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Oracle.Model, progress); err != nil {
		return nil, match.Wrap(match.CodeOracleUnavailable, err, "%s backend not ready", eng.Name())
	}

	return oracle.NewLLM(eng, cfg.Oracle.Model,
		oracle.WithTimeout(cfg.Oracle.Timeout),
		oracle.WithStateListener(m.BreakerStateChanged),
	), nil
}
