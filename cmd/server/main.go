package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rowanhale/quotagate/internal"
	"github.com/rowanhale/quotagate/internal/billing"
	"github.com/rowanhale/quotagate/internal/domain"
	"github.com/rowanhale/quotagate/internal/handler"
	"github.com/rowanhale/quotagate/internal/metrics"
	"github.com/rowanhale/quotagate/internal/middleware"
	"github.com/rowanhale/quotagate/internal/repository"
	"github.com/rowanhale/quotagate/internal/service"
	"github.com/rowanhale/quotagate/internal/syncer"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Run migrations over a short-lived database/sql connection; the
	// application itself talks to Postgres through pgxpool.
	migrateDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := migrateDB.PingContext(ctx); err != nil {
		migrateDB.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := internal.RunMigrations(migrateDB); err != nil {
		migrateDB.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	migrateDB.Close()

	pool, err := repository.NewPool(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database pool failed: %w", err)
	}
	defer pool.Close()
	logger.Info("Database ready")

	// Redis backs the tier resolution cache. The resolver degrades to
	// uncached if Redis is down, so startup does not ping it.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	// Initialize repositories
	usageRepo := repository.NewUsageRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	tokenRepo := repository.NewTokenRepo(pool)

	// Initialize Stripe billing (optional)
	var billingService billing.Service
	if cfg.BillingEnabled() {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			ProMonthlyPriceID:    cfg.StripeProMonthlyPriceID,
			ProYearlyPriceID:     cfg.StripeProYearlyPriceID,
			MasterMonthlyPriceID: cfg.StripeMasterMonthlyPriceID,
			MasterYearlyPriceID:  cfg.StripeMasterYearlyPriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing disabled; all users resolve to the free tier")
	}

	// Initialize services
	var priceTiers map[string]domain.PlanTier
	if billingService != nil {
		priceTiers = billingService.PriceTiers()
	}
	catalog := service.NewPlanCatalog(cfg.PlanCatalogURL, cfg.PlanCatalogTTL, logger)
	tierCache := service.NewRedisTierCache(redisClient, cfg.TierCacheTTL, logger)
	resolver := service.NewTierResolver(subscriptionRepo, tierCache, priceTiers, logger)
	ledger := service.NewUsageLedger(usageRepo, logger)
	gate := service.NewGate(catalog, resolver, ledger, cfg.GateTimeout, logger)

	// Billing event synchronizer
	syncConfig := syncer.DefaultConfig()
	syncConfig.Concurrency = cfg.SyncConcurrency
	syncConfig.QueueSize = cfg.SyncQueueSize
	sync, err := syncer.New(subscriptionRepo, billingService, resolver, syncConfig, logger)
	if err != nil {
		return fmt.Errorf("synchronizer initialization failed: %w", err)
	}
	sync.Start(ctx)

	// Initialize middleware
	authMw := middleware.NewAuthMiddleware(tokenRepo, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	// Initialize handlers
	entitlementHandler := handler.NewEntitlementHandler(gate, logger)
	billingHandler := handler.NewBillingHandler(billingService, subscriptionRepo, cfg.BaseURL, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, sync, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Stripe webhooks (signature-verified, not token-authed)
	webhookHandler.RegisterRoutes(mux)

	// Authenticated API
	requireUser := middleware.Stack(authMw.RequireUser)
	entitlementHandler.RegisterRoutes(mux, requireUser)
	billingHandler.RegisterRoutes(mux, requireUser)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: loggingMw.Handler(metrics.Middleware(mux)),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// Drain queued billing events after the HTTP listener stops
	// accepting new ones.
	sync.Stop()

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
