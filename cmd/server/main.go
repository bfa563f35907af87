// Package main is the entrypoint for the SnapFind API server.
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

	"github.com/kiranshivaraju/snapfind/internal/affiliate"
	"github.com/kiranshivaraju/snapfind/internal/api"
	"github.com/kiranshivaraju/snapfind/internal/api/handler"
	mw "github.com/kiranshivaraju/snapfind/internal/api/middleware"
	"github.com/kiranshivaraju/snapfind/internal/api/response"
	"github.com/kiranshivaraju/snapfind/internal/cache"
	"github.com/kiranshivaraju/snapfind/internal/config"
	"github.com/kiranshivaraju/snapfind/internal/credentials"
	"github.com/kiranshivaraju/snapfind/internal/health"
	"github.com/kiranshivaraju/snapfind/internal/notify"
	"github.com/kiranshivaraju/snapfind/internal/refine"
	"github.com/kiranshivaraju/snapfind/internal/search"
	"github.com/kiranshivaraju/snapfind/internal/store"
	"github.com/kiranshivaraju/snapfind/internal/vision"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "vision_mode", cfg.Vision.Mode, "search_backend", cfg.Search.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

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

	// 5. Build the orchestration core
	pgStore := store.NewPostgresStore(pool)
	svc := newServices(cfg, pgStore, redisCache, newNotifier(cfg.Notify))

	if providers, err := svc.registry.Ordered(ctx); err != nil {
		slog.Warn("no vision providers active at startup", "error", err)
	} else {
		slog.Info("vision providers active", "count", len(providers))
	}

	// 6. Build router with dependencies
	router := newRouter(cfg, pgStore, redisCache, svc)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Vision.CallTimeout + 60*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
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

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// services is the wired orchestration core.
type services struct {
	creds    *credentials.Store
	tracker  *health.Tracker
	registry *vision.Registry
	vision   *vision.Orchestrator
	selector *search.Selector
	search   *search.Orchestrator
	refiner  *refine.Refiner
}

func newServices(cfg *config.Config, st store.Store, c cache.Cache, notifier notify.Notifier) *services {
	creds := credentials.NewStore(st)

	tracker := health.NewTracker(st, notifier, health.Config{
		FailureThreshold: cfg.Vision.FailureThreshold,
		GonePatterns:     cfg.Vision.GonePatterns,
	})

	registry := vision.NewRegistry(creds, tracker, cfg.Vision, vision.Catalogue(cfg.Vision))
	tracker.AddInvalidator(registry)

	visionOrch := vision.NewOrchestrator(registry, tracker, cfg.Vision.CallTimeout).WithLedger(st)

	selector := search.NewSelector(creds, cfg.Search.Backend, search.DefaultBackends(cfg.Search)).
		WithDecorator(func(b models.SearchBackend) models.SearchBackend {
			return search.NewCachedBackend(b, c, cfg.Search.CacheTTL)
		})

	searchOrch := search.NewOrchestrator(selector, search.Options{
		MaxResults:      cfg.Search.MaxResults,
		FallbackBackoff: cfg.Search.FallbackBackoff,
		MinResults:      cfg.Search.MinResultsBeforeFallback,
	}).WithLogger(st).WithTags(affiliate.NewResolver(st, creds))

	creds.OnChange(func() {
		registry.Invalidate()
		selector.Invalidate()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if n, err := c.DeletePrefix(ctx, cache.SearchPrefix("")); err != nil {
			slog.Warn("clearing search cache after credential change", "error", err)
		} else {
			slog.Info("search cache cleared after credential change", "keys", n)
		}
	})

	return &services{
		creds:    creds,
		tracker:  tracker,
		registry: registry,
		vision:   visionOrch,
		selector: selector,
		search:   searchOrch,
		refiner:  refine.New(creds, refine.DefaultCandidates()),
	}
}

func newNotifier(cfg config.NotifyConfig) notify.Notifier {
	if cfg.WebhookURL == "" {
		return notify.Log{}
	}
	return notify.NewWebhook(cfg.WebhookURL, cfg.Timeout)
}

func newRouter(cfg *config.Config, st store.Store, c cache.Cache, svc *services) http.Handler {
	identify := handler.IdentifyOptions{DefaultMode: cfg.Vision.Mode, MaxImageBytes: cfg.Server.MaxImageBytes}
	searchDefaults := handler.SearchDefaults{MaxResults: cfg.Search.MaxResults, EligibleOnly: cfg.Search.EligibleOnly}

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(c, cfg.RateLimit.RequestsPerMinute),

		HealthHandler:   healthHandler(st, c),
		IdentifyHandler: handler.NewIdentifyHandler(svc.vision, identify),
		SearchHandler:   handler.NewSearchHandler(svc.search, svc.refiner, searchDefaults),
		FindHandler:     handler.NewFindHandler(svc.vision, svc.search, identify, searchDefaults),

		ListProviders:  handler.NewListProvidersHandler(svc.registry, svc.tracker, svc.selector),
		EnableProvider: handler.NewEnableProviderHandler(svc.tracker),

		ListCredentials:  handler.NewListCredentialsHandler(svc.creds),
		SetCredential:    handler.NewSetCredentialHandler(svc.creds),
		DeleteCredential: handler.NewDeleteCredentialHandler(svc.creds),

		UsageHandler: handler.NewUsageHandler(st),

		ListTags:       handler.NewListTagsHandler(st),
		CreateTag:      handler.NewCreateTagHandler(st),
		ActivateTag:    handler.NewActivateTagHandler(st),
		DeleteTag:      handler.NewDeleteTagHandler(st),
		DeactivateTags: handler.NewDeactivateTagsHandler(st),

		CreateKeyHandler: handler.NewCreateKeyHandler(st),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
	})
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
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
