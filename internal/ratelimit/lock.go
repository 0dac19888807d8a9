package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const leaseKeyPrefix = "seatledger:lease:"

// Locker hands out short exclusive leases so only one instance runs a
// periodic job at a time.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

type Lease struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(leaseReleaseScript),
	}
}

// Acquire returns nil without error when another holder has the lease.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if name == "" {
		return nil, errors.New("lease name is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lease ttl must be positive")
	}

	key := leaseKeyPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release drops the lease if it is still ours.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.locker.release.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
}
