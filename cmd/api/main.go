// Package main is the entry point for the PostPilot API server.
//
// It loads configuration, selects the entitlement store backend (Postgres
// when DATABASE_URL is set, in-memory otherwise), wires the quota meter,
// payment reconciler, and external clients, and starts the HTTP server.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"postpilot/internal/api/handlers"
	"postpilot/internal/billing"
	"postpilot/internal/config"
	"postpilot/internal/core"
	"postpilot/internal/db"
	"postpilot/internal/external"
	"postpilot/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("postpilot API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"durable_store", cfg.Database.Enabled(),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Entitlement store backend. The meter and reconciler are agnostic to
	// which one is wired.
	store, err := buildStore(cfg, srv, logger)
	if err != nil {
		return fmt.Errorf("initializing entitlement store: %w", err)
	}

	catalog := billing.NewStaticPlanCatalog()
	meterCfg := billing.MeterConfig{
		DailyWindow:   cfg.Quota.DailyWindow,
		MonthlyWindow: cfg.Quota.MonthlyWindow,
	}
	meter := billing.NewMeter(store, catalog, meterCfg, logger)
	reconciler := billing.NewReconciler(store, catalog, meterCfg, logger)

	generator := external.NewAnthropicClient(
		&http.Client{Timeout: cfg.Anthropic.Timeout},
		external.AnthropicClientConfig{
			APIKey:    cfg.Anthropic.APIKey.Unmask(),
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			Logger:    logger,
		},
	)

	checkout := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		external.StripeClientConfig{
			SecretKey:   cfg.Stripe.SecretKey.Unmask(),
			PriceByPlan: priceByPlan(cfg.Stripe),
			SuccessURL:  cfg.Server.FrontendURL + "/billing/success",
			CancelURL:   cfg.Server.FrontendURL + "/billing/cancel",
			Logger:      logger,
		},
	)

	// Client-facing API under /v1.
	generateHandler := handlers.NewGenerateHandler(meter, generator, srv.Validator, logger)
	usageHandler := handlers.NewUsageHandler(meter, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(checkout, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		generateHandler.RegisterRoutes,
		usageHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)

	// Payment provider callbacks under /webhooks.
	stripeWebhook := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{}, reconciler, cfg.Stripe.WebhookSecret.Unmask(), logger)
	coinbaseWebhook := handlers.NewCoinbaseWebhookHandler(
		&external.CoinbaseVerifier{}, reconciler, cfg.Coinbase.WebhookSecret.Unmask(), logger)
	srv.WebhookRouteRegistrars = append(srv.WebhookRouteRegistrars,
		stripeWebhook.RegisterRoutes,
		coinbaseWebhook.RegisterRoutes,
	)

	srv.MountRoutes()

	addr := net.JoinHostPort("", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// buildStore selects the entitlement store backend. With DATABASE_URL set it
// connects a pgx pool, ensures the schema, registers the health probe, and
// returns the durable repo; otherwise it returns the volatile in-memory
// store (single instance, no persistence across restarts).
func buildStore(cfg *config.Config, srv *core.Server, logger *slog.Logger) (billing.EntitlementStore, error) {
	if !cfg.Database.Enabled() {
		logger.Warn("DATABASE_URL not set; using in-memory entitlement store")
		return billing.NewMemoryStore(), nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	database := db.WrapPool(pool)
	if err := db.EnsureSchema(ctx, database); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	srv.HealthProbes = append(srv.HealthProbes, db.NewHealthProbe(database))
	srv.AddCloser(pool.Close)

	logger.Info("durable entitlement store connected",
		"max_conns", cfg.Database.MaxConns,
	)
	return db.NewEntitlementRepo(database, logger), nil
}

// priceByPlan builds the paid-tier price mapping from configuration. Tiers
// with no configured price ID are omitted; checkout for them is rejected.
func priceByPlan(cfg config.StripeConfig) map[types.PlanTier]string {
	prices := make(map[types.PlanTier]string, 4)
	for tier, id := range map[types.PlanTier]string{
		types.PlanStarter:   cfg.StarterPriceID,
		types.PlanPro:       cfg.ProPriceID,
		types.PlanUnlimited: cfg.UnlimitedPriceID,
		types.PlanYearly:    cfg.YearlyPriceID,
	} {
		if id != "" {
			prices[tier] = id
		}
	}
	return prices
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
