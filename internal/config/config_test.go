package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/pos",
		"REDIS_URL":    "redis://localhost:6379/0",
		"JWT_SECRET":   "test-secret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "USD", cfg.CurrencyCode)
	require.Equal(t, int32(0), cfg.TaxRateBps)
	require.Equal(t, int64(1), cfg.LoyaltyPointValue)
	require.Equal(t, "POS", cfg.ReceiptPrefix)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, 5*time.Second, cfg.SessionLockTTL)
	require.True(t, cfg.WebhookEnabled)
	require.Equal(t, 6, cfg.WebhookMaxAttempts)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PRICING_TAX_RATE_BPS"] = "825"
	env["CURRENCY_CODE"] = "EUR"
	env["LOYALTY_POINT_VALUE"] = "100"
	env["DRAWER_VARIANCE_ALERT"] = "500"
	env["SESSION_LOCK_TTL"] = "10s"
	env["WEBHOOK_ENABLED"] = "false"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, int32(825), cfg.TaxRateBps)
	require.Equal(t, "EUR", cfg.CurrencyCode)
	require.Equal(t, int64(100), cfg.LoyaltyPointValue)
	require.Equal(t, int64(500), cfg.VarianceAlert)
	require.Equal(t, 10*time.Second, cfg.SessionLockTTL)
	require.False(t, cfg.WebhookEnabled)
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := LoadForTests(env)
	require.Error(t, err)
}

func TestLoadRejectsTaxRateOutOfRange(t *testing.T) {
	env := baseEnv()
	env["PRICING_TAX_RATE_BPS"] = "12000"
	_, err := LoadForTests(env)
	require.Error(t, err)
}
