package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/clock"
	idempotencydomain "github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/smallbiznis/seatledger/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubStore struct {
	idempotencydomain.Store
	purged atomic.Int64
	calls  atomic.Int32
	err    error
	block  chan struct{}
}

func (s *stubStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if s.err != nil {
		return 0, s.err
	}
	return s.purged.Load(), nil
}

func newTestScheduler(t *testing.T, store idempotencydomain.Store, locker *ratelimit.Locker, cfg Config) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Store:  store,
		Config: cfg,
		Locker: locker,
	})
	require.NoError(t, err)
	return sched
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop(), Clock: clock.NewSystemClock()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, time.Minute, cfg.JobTimeout)
	assert.Equal(t, 5*time.Minute, cfg.LeaseTTL)
}

func TestRunOncePurges(t *testing.T) {
	store := &stubStore{}
	store.purged.Store(3)
	sched := newTestScheduler(t, store, nil, Config{})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestRunOnceWrapsStoreError(t *testing.T) {
	boom := errors.New("boom")
	sched := newTestScheduler(t, &stubStore{err: boom}, nil, Config{})

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobPurgeIdempotency)
}

func TestRunOnceTimeoutIsSoft(t *testing.T) {
	store := &stubStore{block: make(chan struct{})}
	sched := newTestScheduler(t, store, nil, Config{JobTimeout: 20 * time.Millisecond})

	assert.NoError(t, sched.RunOnce(context.Background()))
}

func TestDisabledJobIsSkipped(t *testing.T) {
	store := &stubStore{}
	sched := newTestScheduler(t, store, nil, Config{DisabledJobs: []string{"PURGE_IDEMPOTENCY"}})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, int32(0), store.calls.Load())
}

func TestPurgeSkipsWhenLeaseHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, JobPurgeIdempotency, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	store := &stubStore{}
	sched := newTestScheduler(t, store, locker, Config{})
	require.NoError(t, sched.PurgeIdempotencyJob(ctx))
	assert.Equal(t, int32(0), store.calls.Load())

	require.NoError(t, held.Release(ctx))
	require.NoError(t, sched.PurgeIdempotencyJob(ctx))
	assert.Equal(t, int32(1), store.calls.Load())

	again, err := locker.Acquire(ctx, JobPurgeIdempotency, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again, "lease is released after the job")
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	store := &stubStore{}
	sched := newTestScheduler(t, store, nil, Config{RunInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.RunForever(ctx)
	}()

	assert.Eventually(t, func() bool { return store.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
