// Package main is the entrypoint for the Triagent API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilbarthwal/triagent/internal/agent"
	"github.com/nikhilbarthwal/triagent/internal/analysis"
	"github.com/nikhilbarthwal/triagent/internal/api"
	"github.com/nikhilbarthwal/triagent/internal/api/handler"
	mw "github.com/nikhilbarthwal/triagent/internal/api/middleware"
	"github.com/nikhilbarthwal/triagent/internal/cache"
	"github.com/nikhilbarthwal/triagent/internal/config"
	"github.com/nikhilbarthwal/triagent/internal/evidence"
	"github.com/nikhilbarthwal/triagent/internal/github"
	"github.com/nikhilbarthwal/triagent/internal/learning"
	"github.com/nikhilbarthwal/triagent/internal/loki"
	"github.com/nikhilbarthwal/triagent/internal/orchestrator"
	"github.com/nikhilbarthwal/triagent/internal/pr"
	"github.com/nikhilbarthwal/triagent/internal/sentry"
	"github.com/nikhilbarthwal/triagent/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	rateLimitPerMin = 60
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"storage_driver", cfg.Storage.Driver,
		"agent_provider", cfg.Agent.Provider,
		"env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the backing store
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Open the cache
	ca, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	// 4. Issue tracker client
	tracker := sentry.NewHTTPClient(cfg.Tracker.BaseURL, cfg.Tracker.Token,
		cfg.Tracker.Organization, cfg.Tracker.Timeout)

	// 5. Fix agent
	provider, err := agent.New(cfg.Agent)
	if err != nil {
		return fmt.Errorf("create fix agent: %w", err)
	}
	slog.Info("fix agent initialized", "provider", cfg.Agent.Provider)

	// 6. GitHub client, shared by the PR lifecycle and the code evidence
	// source
	if cfg.GitHub.Token == "" {
		slog.Warn("GITHUB_TOKEN not set, fix pull requests will fail")
	}
	host, err := github.NewClient(ctx, cfg.GitHub)
	if err != nil {
		return fmt.Errorf("create github client: %w", err)
	}

	// 7. Evidence sources. Log and code sources ship in-process; metrics and
	// sessions plug in through the same interfaces when a backend is
	// configured.
	var cloudLogs evidence.CloudLogsSource
	if cfg.Loki.BaseURL != "" {
		cloudLogs = loki.NewSource(cfg.Loki)
		slog.Info("loki evidence source enabled", "base_url", cfg.Loki.BaseURL)
	}
	var code evidence.CodeSource
	if cfg.GitHub.Token != "" {
		code = host
	}
	gatherer := evidence.NewGatherer(nil, nil, cloudLogs, code, cfg.Tracker.Timeout, logger)

	// 8. Learning store
	learner := learning.NewService(st, ca, tracker, cfg.Learning,
		cfg.Tracker.Project, cfg.Tracker.Environment, logger)

	// 9. Analysis orchestration
	broker := analysis.NewBroker()
	orch := orchestrator.New(st, ca, tracker, broker, gatherer, learner, provider,
		orchestrator.Config{
			Project:       cfg.Tracker.Project,
			Environment:   cfg.Tracker.Environment,
			MinScore:      cfg.Triage.MinScore,
			MaxConcurrent: cfg.Analysis.MaxConcurrent,
			AgentTimeout:  cfg.Agent.InferenceTimeout,
		}, logger)

	// 10. Pull request lifecycle
	prTracker := pr.NewTracker(st, ca, host, cfg.GitHub, logger)

	// 11. Router
	deps := api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(ca, rateLimitPerMin),

		HealthHandler: handler.NewHealthHandler(handler.HealthDeps{
			Store:   st,
			Cache:   ca,
			Tracker: handler.AsPinger(tracker),
		}),

		ScanHandler:      handler.NewScanHandler(orch),
		ListQueueHandler: handler.NewListQueueHandler(st),
		RemoveQueueEntry: handler.NewRemoveQueueEntryHandler(st),
		AnalyzeIssue:     handler.NewAnalyzeIssueHandler(orch),
		ListAnalyses:     handler.NewListAnalysesHandler(st),
		GetAnalysis:      handler.NewGetAnalysisHandler(st),
		StreamAnalysis:   handler.NewStreamHandler(st, broker),
		CancelAnalysis:   handler.NewCancelAnalysisHandler(orch),
		CreatePRHandler:  handler.NewCreatePRHandler(prTracker),
		GetPRHandler:     handler.NewGetPRHandler(prTracker),
		StatsHandler:     handler.NewStatsHandler(learner),
		BootstrapHandler: handler.NewBootstrapHandler(learner),
		BootstrapStatus:  handler.NewBootstrapStatusHandler(st),
		ListPatterns:     handler.NewListPatternsHandler(st),
		GitHubWebhook:    handler.NewGitHubWebhookHandler(learner, cfg.GitHub.WebhookSecret),
		CreateKeyHandler: handler.NewCreateKeyHandler(st),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
	}

	router := api.NewRouter(deps)

	// 12. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Cancel in-flight analysis units before closing listeners so their
	// event logs record the interruption.
	orch.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore opens the configured store backend. The memory driver exists for
// local development and tests; production runs on postgres.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Storage.Driver == "memory" {
		slog.Info("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database connected, migrations applied")

	return store.NewPostgresStore(pool), pool.Close, nil
}

// openCache connects to Redis and verifies it is reachable.
func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}

	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	return redisCache, func() { redisCache.Close() }, nil
}
