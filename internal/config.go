package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Redis (tier resolution cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Plan catalog
	PlanCatalogURL string        // External JSON config resource; empty falls back to built-in defaults
	PlanCatalogTTL time.Duration // How long a fetched catalog snapshot is served before refresh

	// Entitlement gate
	TierCacheTTL time.Duration // Per-user tier resolution cache TTL
	GateTimeout  time.Duration // Per-call deadline for CanUse/RecordUse; fail-closed on expiry

	// Billing Event Synchronizer
	SyncConcurrency int
	SyncQueueSize   int

	// Stripe Billing Configuration
	// These are required when billing is enabled in production.
	// In development, the webhook endpoint rejects everything if these are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for subscription plans
	StripeProMonthlyPriceID    string
	StripeProYearlyPriceID     string
	StripeMasterMonthlyPriceID string
	StripeMasterYearlyPriceID  string

	// Application base URL (for checkout redirect links)
	BaseURL string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PlanCatalogURL: getEnv("PLAN_CATALOG_URL", ""),
		PlanCatalogTTL: getEnvDuration("PLAN_CATALOG_TTL", 5*time.Minute),

		TierCacheTTL: getEnvDuration("TIER_CACHE_TTL", 30*time.Second),
		GateTimeout:  getEnvDuration("GATE_TIMEOUT", 800*time.Millisecond),

		SyncConcurrency: getEnvInt("SYNC_CONCURRENCY", 2),
		SyncQueueSize:   getEnvInt("SYNC_QUEUE_SIZE", 256),

		// Stripe billing (webhook endpoint is inert without these)
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		// Stripe price IDs (required when billing is enabled)
		StripeProMonthlyPriceID:    getEnv("STRIPE_PRO_MONTHLY_PRICE_ID", ""),
		StripeProYearlyPriceID:     getEnv("STRIPE_PRO_YEARLY_PRICE_ID", ""),
		StripeMasterMonthlyPriceID: getEnv("STRIPE_MASTER_MONTHLY_PRICE_ID", ""),
		StripeMasterYearlyPriceID:  getEnv("STRIPE_MASTER_YEARLY_PRICE_ID", ""),

		// Base URL defaults to localhost for development
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SyncConcurrency < 1 {
		return nil, fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", cfg.SyncConcurrency)
	}
	if cfg.SyncQueueSize < 1 {
		return nil, fmt.Errorf("SYNC_QUEUE_SIZE must be at least 1, got %d", cfg.SyncQueueSize)
	}
	if cfg.GateTimeout < 50*time.Millisecond || cfg.GateTimeout > 5*time.Second {
		return nil, fmt.Errorf("GATE_TIMEOUT must be between 50ms and 5s, got %v", cfg.GateTimeout)
	}

	// Stripe configuration is all-or-nothing
	if (cfg.StripeSecretKey == "") != (cfg.StripeWebhookSecret == "") {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET must be set together")
	}

	return cfg, nil
}

// BillingEnabled reports whether Stripe credentials are configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
