package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/config"
)

const keyPurchaseClient = "seatledger:ratelimit:purchase:"

// PurchaseLimiter throttles purchase attempts per client. A nil limiter
// allows everything.
type PurchaseLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewPurchaseLimiter(cfg config.Config, client *redis.Client) (*PurchaseLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("purchase rate limit requires REDIS_ADDR")
	}
	if limitCfg.PurchaseRate <= 0 || limitCfg.PurchaseBurst <= 0 {
		return nil, errors.New("purchase rate limit must be positive")
	}
	return &PurchaseLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.PurchaseRate,
		burst:  limitCfg.PurchaseBurst,
	}, nil
}

func (l *PurchaseLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *PurchaseLimiter) Allow(ctx context.Context, clientKey string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "unknown"
	}
	return l.bucket.Allow(ctx, keyPurchaseClient+clientKey, l.rate, l.burst)
}
