package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/audit/repository"
	"github.com/smallbiznis/seatledger/internal/clock"
	obscontext "github.com/smallbiznis/seatledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, clk, conn
}

func record(t *testing.T, svc auditdomain.Service, traceID, action string) {
	t.Helper()
	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Event{
		TraceID:      traceID,
		Actor:        "cust_1",
		ActorType:    auditdomain.ActorTypeCustomer,
		Action:       action,
		ResourceType: auditdomain.ResourceTypeSubscription,
		ResourceID:   "42",
	}))
}

func TestRecordValidatesEvent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Record(ctx, nil, auditdomain.Event{ResourceType: auditdomain.ResourceTypePlan, ResourceID: "1"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	err = svc.Record(ctx, nil, auditdomain.Event{Action: auditdomain.ActionPlanCreated})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidResource)
}

func TestRecordDefaults(t *testing.T) {
	svc, _, conn := newTestService(t)
	ctx := obscontext.WithTraceID(context.Background(), "trace-from-ctx")

	require.NoError(t, svc.Record(ctx, nil, auditdomain.Event{
		Action:       auditdomain.ActionPlanCreated,
		ResourceType: auditdomain.ResourceTypePlan,
		ResourceID:   "7",
		After:        map[string]any{"name": "Pro"},
	}))

	var stored auditdomain.AuditLog
	require.NoError(t, conn.First(&stored).Error)
	assert.Equal(t, "trace-from-ctx", stored.TraceID)
	assert.Equal(t, auditdomain.ActorTypeSystem, stored.ActorType)
	assert.Equal(t, "Plan", stored.Resource)
	assert.Equal(t, "Pro", stored.After["name"])
	assert.Nil(t, stored.Before)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	svc, _, conn := newTestService(t)

	err := conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Record(context.Background(), tx, auditdomain.Event{
			TraceID:      "t-1",
			Action:       auditdomain.ActionPlanUpdated,
			ResourceType: auditdomain.ResourceTypePlan,
			ResourceID:   "1",
		}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var count int64
	require.NoError(t, conn.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestByTraceAscending(t *testing.T) {
	svc, clk, _ := newTestService(t)

	record(t, svc, "trace-a", auditdomain.ActionPlanCapacityDecreased)
	clk.Advance(time.Second)
	record(t, svc, "trace-b", auditdomain.ActionPlanCapacityDecreased)
	clk.Advance(time.Second)
	record(t, svc, "trace-a", auditdomain.ActionSubscriptionActivated)

	logs, err := svc.ByTrace(context.Background(), "trace-a")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, auditdomain.ActionPlanCapacityDecreased, logs[0].Action)
	assert.Equal(t, auditdomain.ActionSubscriptionActivated, logs[1].Action)
	assert.Empty(t, logs[0].Outcome)

	_, err = svc.ByTrace(context.Background(), "  ")
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTraceID)
}

func TestRecentDerivesOutcome(t *testing.T) {
	svc, clk, _ := newTestService(t)

	record(t, svc, "t", auditdomain.ActionSubscriptionActivated)
	clk.Advance(time.Second)
	record(t, svc, "t", auditdomain.ActionPaymentFailed)
	clk.Advance(time.Second)
	record(t, svc, "t", auditdomain.ActionSubscriptionCancelled)

	logs, err := svc.Recent(context.Background(), auditdomain.RecentRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "cancelled", logs[0].Outcome)
	assert.Equal(t, "failed", logs[1].Outcome)
	assert.Equal(t, "success", logs[2].Outcome)

	logs, err = svc.Recent(context.Background(), auditdomain.RecentRequest{Limit: 1, Action: auditdomain.ActionPaymentFailed})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionPaymentFailed, logs[0].Action)
}

func TestStatsWindow(t *testing.T) {
	svc, clk, _ := newTestService(t)

	record(t, svc, "old", auditdomain.ActionPaymentFailed)
	clk.Advance(2 * time.Hour)
	record(t, svc, "new", auditdomain.ActionSubscriptionActivated)
	record(t, svc, "new", auditdomain.ActionSubscriptionActivated)
	record(t, svc, "new", auditdomain.ActionPlanCapacityDecreased)

	stats, err := svc.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "1h", stats.Timeframe)
	assert.Equal(t, int64(3), stats.Total)
	require.Len(t, stats.Breakdown, 2)
	assert.Equal(t, auditdomain.ActionSubscriptionActivated, stats.Breakdown[0].Action)
	assert.Equal(t, int64(2), stats.Breakdown[0].Count)

	stats, err = svc.Stats(context.Background(), "24h")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)

	_, err = svc.Stats(context.Background(), "7d")
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeframe)
}
