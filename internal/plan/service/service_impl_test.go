package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	auditrepository "github.com/smallbiznis/seatledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/seatledger/internal/audit/service"
	"github.com/smallbiznis/seatledger/internal/clock"
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	"github.com/smallbiznis/seatledger/internal/plan/repository"
	"github.com/smallbiznis/seatledger/internal/txretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubCounter struct {
	counts map[string]int64
}

func (s *stubCounter) CountByPlan(context.Context, *gorm.DB, snowflake.ID) (map[string]int64, error) {
	out := map[string]int64{}
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}

func newTestService(t *testing.T, counter *stubCounter) (plandomain.Service, *gorm.DB) {
	t.Helper()
	conn := setupPlanDB(t)
	require.NoError(t, conn.AutoMigrate(&auditdomain.AuditLog{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()

	svc := NewService(Params{
		DB:      conn,
		Log:     log,
		GenID:   node,
		Clock:   clk,
		Repo:    repository.Provide(),
		Counter: counter,
		Runner:  txretry.New(conn, log, txretry.WithDelays(time.Millisecond)),
		Recorder: auditservice.NewService(auditservice.Params{
			DB: conn, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
		}),
	})
	return svc, conn
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func createPlan(t *testing.T, svc plandomain.Service, name string, capacity int) *plandomain.PlanResponse {
	t.Helper()
	plan, err := svc.Create(context.Background(), plandomain.CreatePlanRequest{
		Name:          name,
		Description:   name + " tier",
		PriceCents:    int64Ptr(1500),
		TotalCapacity: intPtr(capacity),
		Features:      []string{"support"},
	})
	require.NoError(t, err)
	return plan
}

func TestCreatePlanDefaults(t *testing.T) {
	svc, _ := newTestService(t, &stubCounter{})

	plan := createPlan(t, svc, "Team Plus", 10)
	assert.Equal(t, "team-plus", plan.Slug)
	assert.Equal(t, 10, plan.SubscriptionsLeft)
	assert.Equal(t, 30, plan.DurationDays)
	assert.Equal(t, "active", plan.Status)
	assert.Equal(t, []string{"support"}, plan.Features)
	assert.False(t, plan.IsSoldOut)
	assert.Equal(t, float64(0), plan.OccupancyPercentage)
}

func TestCreatePlanValidation(t *testing.T) {
	svc, _ := newTestService(t, &stubCounter{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  plandomain.CreatePlanRequest
		want error
	}{
		{"short name", plandomain.CreatePlanRequest{Name: "ab", Description: "d", PriceCents: int64Ptr(1), TotalCapacity: intPtr(1)}, plandomain.ErrInvalidName},
		{"no description", plandomain.CreatePlanRequest{Name: "Basic", PriceCents: int64Ptr(1), TotalCapacity: intPtr(1)}, plandomain.ErrInvalidDescription},
		{"negative price", plandomain.CreatePlanRequest{Name: "Basic", Description: "d", PriceCents: int64Ptr(-1), TotalCapacity: intPtr(1)}, plandomain.ErrInvalidPrice},
		{"zero capacity", plandomain.CreatePlanRequest{Name: "Basic", Description: "d", PriceCents: int64Ptr(1), TotalCapacity: intPtr(0)}, plandomain.ErrInvalidCapacity},
		{"zero duration", plandomain.CreatePlanRequest{Name: "Basic", Description: "d", PriceCents: int64Ptr(1), TotalCapacity: intPtr(1), DurationDays: intPtr(0)}, plandomain.ErrInvalidDuration},
		{"bad status", plandomain.CreatePlanRequest{Name: "Basic", Description: "d", PriceCents: int64Ptr(1), TotalCapacity: intPtr(1), Status: "paused"}, plandomain.ErrInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreatePlanDuplicateName(t *testing.T) {
	svc, _ := newTestService(t, &stubCounter{})
	createPlan(t, svc, "Starter", 5)

	_, err := svc.Create(context.Background(), plandomain.CreatePlanRequest{
		Name:          "Starter",
		Description:   "again",
		PriceCents:    int64Ptr(100),
		TotalCapacity: intPtr(5),
	})
	assert.ErrorIs(t, err, plandomain.ErrPlanNameTaken)
}

func TestUpdateCapacityRederivesSeatsLeft(t *testing.T) {
	svc, conn := newTestService(t, &stubCounter{})
	ctx := context.Background()
	plan := createPlan(t, svc, "Growth", 10)

	require.NoError(t, conn.Model(&plandomain.Plan{}).Where("id = ?", plan.ID).Update("subscriptions_left", 7).Error)

	updated, err := svc.Update(ctx, plan.ID, plandomain.UpdatePlanRequest{TotalCapacity: intPtr(15), Name: strPtr("Growth XL")})
	require.NoError(t, err)
	assert.Equal(t, 15, updated.TotalCapacity)
	assert.Equal(t, 12, updated.SubscriptionsLeft)
	assert.Equal(t, "growth-xl", updated.Slug)

	_, err = svc.Update(ctx, plan.ID, plandomain.UpdatePlanRequest{TotalCapacity: intPtr(2)})
	assert.ErrorIs(t, err, plandomain.ErrCapacityBelowSold)

	got, err := svc.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "Growth XL", got.Name)
	assert.Equal(t, 15, got.TotalCapacity)

	var audits int64
	require.NoError(t, conn.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionPlanUpdated).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestListHidesInactiveByDefault(t *testing.T) {
	svc, _ := newTestService(t, &stubCounter{})
	ctx := context.Background()
	createPlan(t, svc, "Alpha", 1)
	beta := createPlan(t, svc, "Beta", 1)

	_, err := svc.Update(ctx, beta.ID, plandomain.UpdatePlanRequest{Status: strPtr("inactive")})
	require.NoError(t, err)

	plans, err := svc.List(ctx, plandomain.ListPlanRequest{})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Alpha", plans[0].Name)

	plans, err = svc.List(ctx, plandomain.ListPlanRequest{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

func TestStatisticsAndDelete(t *testing.T) {
	counter := &stubCounter{counts: map[string]int64{"active": 2}}
	svc, conn := newTestService(t, counter)
	ctx := context.Background()
	plan := createPlan(t, svc, "Scale", 4)
	require.NoError(t, conn.Model(&plandomain.Plan{}).Where("id = ?", plan.ID).Update("subscriptions_left", 2).Error)

	stats, err := svc.Statistics(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.SubscriptionsSold)
	assert.Equal(t, float64(50), stats.OccupancyPercentage)
	assert.Equal(t, int64(2), stats.ByStatus["active"])

	_, err = svc.Delete(ctx, plan.ID)
	assert.ErrorIs(t, err, plandomain.ErrPlanHasSubscriptions)

	counter.counts = map[string]int64{"cancelled": 2}
	archived, err := svc.Delete(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "archived", archived.Status)

	_, err = svc.Get(ctx, "999")
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}
