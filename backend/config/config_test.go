package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":        "postgres://localhost/depo?sslmode=disable",
		"REDIS_URL":           "redis://localhost:6379/0",
		"STRIPE_SECRET_KEY":   "sk_test_123",
		"SUPABASE_JWT_SECRET": "jwt-secret",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envFrom(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1, cfg.SyncConcurrency)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, "*", cfg.AllowedOrigin)
	assert.False(t, cfg.TrustProxy)
	assert.Contains(t, cfg.CheckoutSuccessURL, "{CHECKOUT_SESSION_ID}")
}

func TestFromEnvOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "9000"
	env["SYNC_CONCURRENCY"] = "4"
	env["CHECKOUT_CANCEL_URL"] = "https://depo.app/pricing"
	env["TRUST_PROXY"] = "true"

	cfg, err := FromEnv(envFrom(env))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 4, cfg.SyncConcurrency)
	assert.Equal(t, "https://depo.app/pricing", cfg.CheckoutCancelURL)
	assert.True(t, cfg.TrustProxy)
}

func TestFromEnvMissingRequired(t *testing.T) {
	_, err := FromEnv(envFrom(map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	assert.Contains(t, err.Error(), "SUPABASE_JWT_SECRET")
}

func TestFromEnvBadConcurrency(t *testing.T) {
	env := baseEnv()
	env["SYNC_CONCURRENCY"] = "zero"
	_, err := FromEnv(envFrom(env))
	require.Error(t, err)

	env["SYNC_CONCURRENCY"] = "0"
	_, err = FromEnv(envFrom(env))
	require.Error(t, err)
}

func TestFromEnvBadTrustProxy(t *testing.T) {
	env := baseEnv()
	env["TRUST_PROXY"] = "sometimes"
	_, err := FromEnv(envFrom(env))
	assert.ErrorContains(t, err, "TRUST_PROXY")
}
