package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries every tunable this service reads. It is loaded once in
// main() and passed by value into each component's constructor; nothing
// outside this package reads the environment for behavior.
type Config struct {
	Port string

	Shopify ShopifyConfig
	Pricing PricingConfig
	Windows WindowConfig

	PricingBatchLimit int
}

type ShopifyConfig struct {
	// Host is the myshopify domain, e.g. "example.myshopify.com".
	Host        string
	AccessToken string
	APIVersion  string
	// RateLimit is the number of GraphQL calls allowed per second.
	RateLimit int
}

type PricingConfig struct {
	// MaxChangePercent vetoes any single adjustment larger than this.
	MaxChangePercent float64
	// MinInventoryThreshold vetoes adjustments on thin inventory.
	MinInventoryThreshold int
	DryRun                bool
}

type WindowConfig struct {
	// MetricDays is the trailing window the pricing engine scores over.
	MetricDays int
	// ReconciliationDays is the order window re-synced by reconciliation runs.
	ReconciliationDays int
	// IngestOrderDays is the order window for the initial full ingestion.
	IngestOrderDays int
}

func init() {
	// Load env from .env; real env always wins.
	godotenv.Load()
}

// Load builds the Config from the environment. It fails when the Shopify
// credentials are missing since every background task needs them.
func Load() (Config, error) {
	cfg := Config{
		Port: envStringDefault("PORT", "8080"),
		Shopify: ShopifyConfig{
			Host:        strings.TrimSpace(os.Getenv("SHOPIFY_HOST")),
			AccessToken: strings.TrimSpace(os.Getenv("SHOPIFY_ACCESS_TOKEN")),
			APIVersion:  envStringDefault("SHOPIFY_API_VERSION", "2024-10"),
			RateLimit:   envIntDefault("SHOPIFY_API_RATE_LIMIT", 2),
		},
		Pricing: PricingConfig{
			MaxChangePercent:      envFloatDefault("PRICING_MAX_CHANGE_PERCENT", 5),
			MinInventoryThreshold: envIntDefault("PRICING_MIN_INVENTORY_THRESHOLD", 10),
			DryRun:                envBoolDefault("PRICING_DRY_RUN", false),
		},
		Windows: WindowConfig{
			MetricDays:         envIntDefault("METRIC_WINDOW_DAYS", 30),
			ReconciliationDays: envIntDefault("RECONCILIATION_WINDOW_DAYS", 30),
			IngestOrderDays:    envIntDefault("INGEST_ORDER_WINDOW_DAYS", 90),
		},
		PricingBatchLimit: envIntDefault("PRICING_BATCH_LIMIT", 1000),
	}

	if cfg.Shopify.Host == "" {
		return cfg, errors.New("SHOPIFY_HOST is required")
	}
	if cfg.Shopify.AccessToken == "" {
		return cfg, errors.New("SHOPIFY_ACCESS_TOKEN is required")
	}
	if cfg.Shopify.RateLimit <= 0 {
		cfg.Shopify.RateLimit = 2
	}
	return cfg, nil
}

func envStringDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloatDefault(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBoolDefault(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
