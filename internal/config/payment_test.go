package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidatePaymentConfig(t *testing.T) {
	assert.NoError(t, validatePaymentConfig(DefaultPaymentConfig()))

	cfg := DefaultPaymentConfig()
	cfg.SuccessRate = 1.5
	assert.Error(t, validatePaymentConfig(cfg))

	cfg = DefaultPaymentConfig()
	cfg.Latency = -time.Second
	assert.Error(t, validatePaymentConfig(cfg))

	cfg = DefaultPaymentConfig()
	cfg.DeclineMessage = "  "
	assert.Error(t, validatePaymentConfig(cfg))
}

func TestPaymentConfigHolderFallsBackToDefaults(t *testing.T) {
	var holder *PaymentConfigHolder
	assert.Equal(t, DefaultPaymentConfig(), holder.Get())

	assert.Equal(t, DefaultPaymentConfig(), (&PaymentConfigHolder{}).Get())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IDEMPOTENCY_TTL_DAYS", "")
	t.Setenv("IDEMPOTENCY_BACKEND", "REDIS")
	t.Setenv("TX_MAX_ATTEMPTS", "")

	cfg := Load()
	assert.Equal(t, 30*24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, IdempotencyBackendRedis, cfg.Idempotency.Backend)
	assert.Equal(t, 5, cfg.Tx.MaxAttempts)
}
