package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupDatabaseStore(t *testing.T, ttl time.Duration) (*DatabaseStore, *clock.FakeClock, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&domain.Record{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(start)
	return NewDatabaseStore(conn, node, clk, ttl), clk, conn
}

func TestDatabaseCreateOrGet(t *testing.T) {
	store, _, _ := setupDatabaseStore(t, time.Hour)
	ctx := context.Background()
	req := domain.CreateRequest{Key: "k1", Fingerprint: "fp", TraceID: "t1"}

	first, isNew, err := store.CreateOrGet(ctx, req)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, domain.StatusProcessing, first.Status)
	assert.Equal(t, start.Add(time.Hour), first.ExpiresAt)

	second, isNew, err := store.CreateOrGet(ctx, req)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.StatusProcessing, second.Status)
	assert.Equal(t, "fp", second.RequestHash)
}

func TestDatabaseCreateOrGetSingleWinner(t *testing.T) {
	store, _, _ := setupDatabaseStore(t, time.Hour)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 12; i++ {
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

func TestDatabaseTransitionsOnlyFromProcessing(t *testing.T) {
	store, _, _ := setupDatabaseStore(t, time.Hour)
	ctx := context.Background()
	body := []byte(`{"id":"42","status":"active"}`)

	_, _, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)

	require.NoError(t, store.MarkCompleted(ctx, "k1", domain.Outcome{
		Body:         body,
		StatusCode:   201,
		ResourceID:   "42",
		ResourceType: "Subscription",
	}))
	assert.ErrorIs(t, store.MarkFailed(ctx, "k1", domain.Outcome{Body: []byte(`{}`), StatusCode: 500}), domain.ErrNotProcessing)
	assert.ErrorIs(t, store.MarkCompleted(ctx, "missing", domain.Outcome{StatusCode: 200}), domain.ErrNotProcessing)

	record, isNew, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, domain.StatusCompleted, record.Status)
	assert.Equal(t, body, record.ResponseBody)
	assert.Equal(t, 201, record.StatusCode)
	assert.Equal(t, "42", record.ResourceID)
}

func TestDatabaseExpiredKeyIsNew(t *testing.T) {
	store, clk, _ := setupDatabaseStore(t, time.Hour)
	ctx := context.Background()

	_, _, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "old"})
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, "k1", domain.Outcome{Body: []byte(`{"error":{}}`), StatusCode: 402}))

	clk.Advance(time.Hour + time.Second)

	record, isNew, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "new"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, domain.StatusProcessing, record.Status)
	assert.Equal(t, "new", record.RequestHash)
	assert.Empty(t, record.ResponseBody)
	assert.Equal(t, 0, record.StatusCode)

	_, isNew, err = store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "new"})
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestDatabasePurgeExpired(t *testing.T) {
	store, clk, conn := setupDatabaseStore(t, time.Hour)
	ctx := context.Background()

	_, _, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "old", Fingerprint: "fp"})
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	_, _, err = store.CreateOrGet(ctx, domain.CreateRequest{Key: "fresh", Fingerprint: "fp"})
	require.NoError(t, err)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	var remaining []domain.Record
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh", remaining[0].Key)
}

func TestDatabaseDiscardOnlyProcessing(t *testing.T) {
	store, _, _ := setupDatabaseStore(t, time.Hour)
	ctx := context.Background()

	_, _, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	require.NoError(t, store.Discard(ctx, "k1"))

	_, isNew, err := store.CreateOrGet(ctx, domain.CreateRequest{Key: "k1", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.True(t, isNew)

	require.NoError(t, store.MarkCompleted(ctx, "k1", domain.Outcome{Body: []byte(`{}`), StatusCode: 201}))
	assert.ErrorIs(t, store.Discard(ctx, "k1"), domain.ErrNotProcessing)
}
