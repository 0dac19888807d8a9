package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/idempotency/domain"
)

const redisKeyPrefix = "seatledger:idempotency:"

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "status", ARGV[1],
  "request_hash", ARGV[2],
  "trace_id", ARGV[3],
  "created_at", ARGV[4],
  "updated_at", ARGV[4],
  "expires_at", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return 1
`

const finishScript = `
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1],
  "status", ARGV[2],
  "response_body", ARGV[3],
  "status_code", ARGV[4],
  "resource_id", ARGV[5],
  "resource_type", ARGV[6],
  "updated_at", ARGV[7])
return 1
`

const discardScript = `
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`

// RedisStore keeps one hash per key. Redis key expiry is the TTL, so there
// is nothing to purge.
type RedisStore struct {
	client  *redis.Client
	clock   clock.Clock
	ttl     time.Duration
	create  *redis.Script
	finish  *redis.Script
	discard *redis.Script
}

func NewRedisStore(client *redis.Client, clk clock.Clock, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = domain.DefaultTTL
	}
	return &RedisStore{
		client:  client,
		clock:   clk,
		ttl:     ttl,
		create:  redis.NewScript(createScript),
		finish:  redis.NewScript(finishScript),
		discard: redis.NewScript(discardScript),
	}
}

func (s *RedisStore) CreateOrGet(ctx context.Context, req domain.CreateRequest) (*domain.Record, bool, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, false, domain.ErrMissingKey
	}

	for round := 0; round < maxCreateRounds; round++ {
		now := s.clock.Now()
		expiresAt := now.Add(s.ttl)
		created, err := s.create.Run(ctx, s.client, []string{redisKeyPrefix + key},
			string(domain.StatusProcessing),
			req.Fingerprint,
			req.TraceID,
			now.UnixMilli(),
			expiresAt.UnixMilli(),
			s.ttl.Milliseconds(),
		).Int()
		if err != nil {
			return nil, false, fmt.Errorf("create idempotency record: %w", err)
		}
		if created == 1 {
			return &domain.Record{
				Key:         key,
				Status:      domain.StatusProcessing,
				RequestHash: req.Fingerprint,
				TraceID:     req.TraceID,
				ExpiresAt:   time.UnixMilli(expiresAt.UnixMilli()),
				CreatedAt:   time.UnixMilli(now.UnixMilli()),
				UpdatedAt:   time.UnixMilli(now.UnixMilli()),
			}, true, nil
		}

		record, err := s.load(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if record != nil {
			return record, false, nil
		}
	}
	return nil, false, fmt.Errorf("idempotency record %s vanished during create", key)
}

func (s *RedisStore) MarkCompleted(ctx context.Context, key string, outcome domain.Outcome) error {
	return s.transition(ctx, key, domain.StatusCompleted, outcome)
}

func (s *RedisStore) MarkFailed(ctx context.Context, key string, outcome domain.Outcome) error {
	return s.transition(ctx, key, domain.StatusFailed, outcome)
}

func (s *RedisStore) transition(ctx context.Context, key string, status domain.Status, outcome domain.Outcome) error {
	applied, err := s.finish.Run(ctx, s.client, []string{redisKeyPrefix + key},
		string(domain.StatusProcessing),
		string(status),
		outcome.Body,
		outcome.StatusCode,
		outcome.ResourceID,
		outcome.ResourceType,
		s.clock.Now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("mark idempotency record %s: %w", status, err)
	}
	if applied == 0 {
		return domain.ErrNotProcessing
	}
	return nil
}

func (s *RedisStore) Discard(ctx context.Context, key string) error {
	removed, err := s.discard.Run(ctx, s.client, []string{redisKeyPrefix + key},
		string(domain.StatusProcessing),
	).Int()
	if err != nil {
		return fmt.Errorf("discard idempotency record: %w", err)
	}
	if removed == 0 {
		return domain.ErrNotProcessing
	}
	return nil
}

func (s *RedisStore) PurgeExpired(context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, key string) (*domain.Record, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	record := &domain.Record{
		Key:          key,
		Status:       domain.Status(fields["status"]),
		RequestHash:  fields["request_hash"],
		ResourceID:   fields["resource_id"],
		ResourceType: fields["resource_type"],
		TraceID:      fields["trace_id"],
		ExpiresAt:    unixMilli(fields["expires_at"]),
		CreatedAt:    unixMilli(fields["created_at"]),
		UpdatedAt:    unixMilli(fields["updated_at"]),
	}
	if body, ok := fields["response_body"]; ok {
		record.ResponseBody = []byte(body)
	}
	if code, err := strconv.Atoi(fields["status_code"]); err == nil {
		record.StatusCode = code
	}
	return record, nil
}

func unixMilli(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
