// Package main is the entrypoint for the copilotmeter API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/copilotmeter/internal/api"
	"github.com/kiranshivaraju/copilotmeter/internal/api/handler"
	mw "github.com/kiranshivaraju/copilotmeter/internal/api/middleware"
	"github.com/kiranshivaraju/copilotmeter/internal/api/response"
	"github.com/kiranshivaraju/copilotmeter/internal/cache"
	"github.com/kiranshivaraju/copilotmeter/internal/config"
	"github.com/kiranshivaraju/copilotmeter/internal/github"
	"github.com/kiranshivaraju/copilotmeter/internal/refresh"
	"github.com/kiranshivaraju/copilotmeter/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(newLogger(os.Getenv("LOG_LEVEL")))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "github", cfg.GitHub.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Run migrations. An unreachable database is not fatal: the server
	// starts degraded and migrations keep retrying in the background.
	dsn := cfg.Database.DSN()
	policy := store.RetryPolicyFrom(cfg.Database)
	if err := store.MigrateWithRetry(ctx, dsn, policy); err != nil {
		slog.Error("database migrations pending, starting degraded", "error", err)
		go store.KeepMigrating(ctx, dsn, policy)
	}

	// 3. Open stores. Connections are retried on use, so an unreachable
	// database is not fatal here.
	tenants := store.NewTenantStore(ctx, dsn, policy)
	registry := store.NewRegistry(dsn, policy)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := errors.Join(tenants.Close(closeCtx), registry.Close(closeCtx)); err != nil {
			slog.Warn("closing stores failed", "error", err)
		}
	}()
	slog.Info("stores opened", "tenant_store", tenants.State().String())

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. GitHub client and refresh
	client := github.NewHTTPClient(cfg.GitHub.BaseURL, cfg.GitHub.Timeout,
		github.WithLimiter(cache.NewUpstreamBudget(redisCache, cfg.GitHub.RequestsPerHour, time.Hour)),
		github.WithMaxDepth(cfg.GitHub.TeamDepth),
		github.WithConcurrency(cfg.GitHub.TeamConcurrency),
	)

	runner := refresh.NewRunner(tenants, client, refresh.RegistryStores(registry), redisCache, cfg.Refresh.TenantTimeout)
	runner.Start(ctx)
	scheduler, err := refresh.NewScheduler(cfg.Refresh.Schedule, runner)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		scheduler.Stop(stopCtx)
		runner.Stop(stopCtx)
	}()
	if cfg.Refresh.OnStart {
		runner.Trigger()
	}

	// 6. Build router with dependencies
	stores := handler.RegistryStores(registry)
	deps := api.Dependencies{
		Auth:      mw.NewAuth(cfg.API.AdminKeyHash, cfg.API.ReadKeyHash),
		RateLimit: mw.NewRateLimit(redisCache, cfg.API.RequestsPerMinute),

		HealthHandler: healthHandler(tenants, redisCache),

		ListTenants:      handler.NewListTenantsHandler(tenants),
		CreateTenant:     handler.NewCreateTenantHandler(tenants, client),
		DeleteTenant:     handler.NewDeleteTenantHandler(tenants, redisCache),
		ActivateTenant:   handler.NewSetActiveHandler(tenants, true),
		DeactivateTenant: handler.NewSetActiveHandler(tenants, false),
		ListTeams:        handler.NewListTeamsHandler(tenants, client),

		Seats: handler.NewSeatsHandler(tenants, stores),
		Usage: handler.NewUsageHandler(tenants, stores),

		RefreshStatus:  handler.NewRefreshStatusHandler(redisCache),
		TriggerRefresh: handler.NewTriggerRefreshHandler(runner),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.GitHub.Timeout,
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

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			slog.Warn("health: database ping failed", "error", err)
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			slog.Warn("health: cache ping failed", "error", err)
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
