package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPurchaseLimiterBurst(t *testing.T) {
	client := newTestClient(t)
	limiter, err := NewPurchaseLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, PurchaseRate: 0.001, PurchaseBurst: 2},
	}, client)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.GreaterOrEqual(t, res.RetryAfter, time.Second)

	res, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestPurchaseLimiterDisabled(t *testing.T) {
	limiter, err := NewPurchaseLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "anyone")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = NewPurchaseLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true, PurchaseRate: 1, PurchaseBurst: 1}}, nil)
	assert.Error(t, err)
}

func TestLeaseIsExclusive(t *testing.T) {
	locker := NewLocker(newTestClient(t))
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "purge", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	other, err := locker.Acquire(ctx, "purge", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, lease.Release(ctx))

	again, err := locker.Acquire(ctx, "purge", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}
