package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DeliveryQueue, cfg.DeliveryMode)
	assert.True(t, cfg.MaxAmount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, []string{"USD"}, cfg.AllowedCurrencies)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 5*time.Second, cfg.ResolutionGrace)
	assert.Equal(t, 60*time.Second, cfg.ResolutionWindow)
	assert.Equal(t, []time.Duration{0, 800 * time.Millisecond, 2 * time.Second, 4 * time.Second}, cfg.RetrySchedule)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DELIVERY_MODE", "WEBHOOK")
	t.Setenv("MAX_AMOUNT", "250.50")
	t.Setenv("ALLOWED_CURRENCIES", "usd, eur")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RETRY_SCHEDULE", "0s,1s")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DeliveryWebhook, cfg.DeliveryMode)
	assert.Equal(t, "250.5", cfg.MaxAmount.String())
	assert.Equal(t, []string{"USD", "EUR"}, cfg.AllowedCurrencies)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []time.Duration{0, time.Second}, cfg.RetrySchedule)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"MAX_AMOUNT":       "lots",
		"RESOLUTION_GRACE": "soon",
		"RETRY_SCHEDULE":   "0s,-1s",
		"DELIVERY_MODE":    "pigeon",
		"REDIS_DB":         "zero",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
