package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, clock.NewFakeClock(start), ttl), mr
}

func TestRedisCreateOrGet(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	record, isNew, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp", TraceID: "t1"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, domain.StatusProcessing, record.Status)
	assert.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+"k1"))

	record, isNew, err = store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, domain.StatusProcessing, record.Status)
	assert.Equal(t, "t1", record.TraceID)
	assert.True(t, record.ExpiresAt.Equal(start.Add(time.Hour)))
}

func TestRedisSingleWinner(t *testing.T) {
	store, _ := setupRedisStore(t, time.Hour)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, isNew, err := store.CreateOrGet(context.Background(), domain.CreateRequest{Key: "shared", Fingerprint: "fp"})
			if err != nil {
				t.Errorf("create or get: %v", err)
				return
			}
			if isNew {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRedisTransitionsAndReplay(t *testing.T) {
	store, _ := setupRedisStore(t, time.Hour)
	ctx := context.Background()
	body := []byte(`{"id":"7"}`)

	_, _, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, "k1", domain.Outcome{Body: body, StatusCode: 201, ResourceID: "7", ResourceType: "Subscription"}))
	assert.ErrorIs(t, store.MarkFailed(ctx, "k1", domain.Outcome{StatusCode: 500}), domain.ErrNotProcessing)
	assert.ErrorIs(t, store.MarkFailed(ctx, "nope", domain.Outcome{StatusCode: 500}), domain.ErrNotProcessing)

	record, isNew, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, domain.StatusCompleted, record.Status)
	assert.Equal(t, body, record.ResponseBody)
	assert.Equal(t, 201, record.StatusCode)
	assert.Equal(t, "Subscription", record.ResourceType)
}

func TestRedisExpiredKeyIsNew(t *testing.T) {
	store, mr := setupRedisStore(t, time.Minute)
	ctx := context.Background()

	_, _, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, "k1", domain.Outcome{Body: []byte(`{}`), StatusCode: 402}))

	mr.FastForward(time.Minute + time.Second)

	record, isNew, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, domain.StatusProcessing, record.Status)
}

func TestRedisDiscardOnlyProcessing(t *testing.T) {
	store, _ := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	_, _, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	require.NoError(t, store.Discard(ctx, "k1"))

	_, isNew, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.True(t, isNew)

	require.NoError(t, store.MarkFailed(ctx, "k1", domain.Outcome{Body: []byte(`{}`), StatusCode: 402}))
	assert.ErrorIs(t, store.Discard(ctx, "k1"), domain.ErrNotProcessing)
}
