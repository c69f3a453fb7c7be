package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    string

	StripeSecretKey     string
	StripeWebhookSecret string
	SupabaseJWTSecret   string

	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
	AllowedOrigin      string

	SyncConcurrency int
	RateLimitMax    int

	// TrustProxy makes client IPs come from X-Forwarded-For. Only set it
	// behind a proxy that overwrites the header.
	TrustProxy bool
}

// Load reads .env when it exists and then builds the config from the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
			log.Printf("no %s file, reading configuration from environment", envFile)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from a lookup function so tests can pass a map.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:                valueOr(getenv("PORT"), "8080"),
		DatabaseURL:         strings.TrimSpace(getenv("DATABASE_URL")),
		RedisURL:            strings.TrimSpace(getenv("REDIS_URL")),
		LogLevel:            valueOr(getenv("LOG_LEVEL"), "info"),
		StripeSecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET")),
		SupabaseJWTSecret:   strings.TrimSpace(getenv("SUPABASE_JWT_SECRET")),
		CheckoutSuccessURL:  valueOr(getenv("CHECKOUT_SUCCESS_URL"), "http://localhost:5173/payment-success?session_id={CHECKOUT_SESSION_ID}"),
		CheckoutCancelURL:   valueOr(getenv("CHECKOUT_CANCEL_URL"), "http://localhost:5173/billing"),
		PortalReturnURL:     valueOr(getenv("PORTAL_RETURN_URL"), "http://localhost:5173/billing"),
		AllowedOrigin:       valueOr(getenv("ALLOWED_ORIGIN"), "*"),
	}

	var err error
	if cfg.SyncConcurrency, err = intOr(getenv("SYNC_CONCURRENCY"), 1); err != nil {
		return nil, fmt.Errorf("SYNC_CONCURRENCY: %w", err)
	}
	if cfg.RateLimitMax, err = intOr(getenv("RATE_LIMIT_MAX"), 100); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_MAX: %w", err)
	}

	if cfg.TrustProxy, err = boolOr(getenv("TRUST_PROXY"), false); err != nil {
		return nil, fmt.Errorf("TRUST_PROXY: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.SupabaseJWTSecret == "" {
		missing = append(missing, "SUPABASE_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.SyncConcurrency)
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX must be at least 1, got %d", c.RateLimitMax)
	}
	return nil
}

func valueOr(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func intOr(v string, def int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func boolOr(v string, def bool) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}
