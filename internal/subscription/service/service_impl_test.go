package service

import (
	"context"
	"testing"

	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	customerdomain "github.com/smallbiznis/seatledger/internal/customer/domain"
	subscriptiondomain "github.com/smallbiznis/seatledger/internal/subscription/domain"
	"github.com/smallbiznis/seatledger/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelTwiceReportsAlreadyCancelled(t *testing.T) {
	f := newFixture(t, 2, approvingGateway, nil)
	ctx := context.Background()

	sub, err := f.svc.Purchase(ctx, f.purchaseRequest("k1"))
	require.NoError(t, err)

	resp, err := f.svc.Cancel(ctx, subscriptiondomain.CancelRequest{
		SubscriptionID: sub.ID,
		CustomerID:     f.customer.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, string(subscriptiondomain.StatusCancelled), resp.Status)
	assert.Equal(t, "Subscription cancelled successfully", resp.Message)

	_, err = f.svc.Cancel(ctx, subscriptiondomain.CancelRequest{
		SubscriptionID: sub.ID,
		CustomerID:     f.customer.ID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyCancelled)

	// cancelling keeps the seat sold
	assert.Equal(t, 1, f.reloadPlan(t).SubscriptionsLeft)

	var count int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", auditdomain.ActionSubscriptionCancelled).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCancelForOtherCustomerIsNotFound(t *testing.T) {
	f := newFixture(t, 2, approvingGateway, nil)
	ctx := context.Background()

	sub, err := f.svc.Purchase(ctx, f.purchaseRequest("k1"))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, subscriptiondomain.CancelRequest{
		SubscriptionID: sub.ID,
		CustomerID:     f.genID.Generate().String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = f.svc.Cancel(ctx, subscriptiondomain.CancelRequest{
		SubscriptionID: f.genID.Generate().String(),
		CustomerID:     f.customer.ID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestGetUnknownSubscription(t *testing.T) {
	f := newFixture(t, 1, approvingGateway, nil)

	_, err := f.svc.Get(context.Background(), f.genID.Generate().String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = f.svc.Get(context.Background(), "not-an-id")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidSubscriptionID)
}

func TestListByCustomerPaginates(t *testing.T) {
	f := newFixture(t, 5, approvingGateway, nil)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3"} {
		_, err := f.svc.Purchase(ctx, f.purchaseRequest(key))
		require.NoError(t, err)
	}

	page, err := f.svc.ListByCustomer(ctx, subscriptiondomain.ListCustomerSubscriptionsRequest{
		CustomerID: f.customer.ID.String(),
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Subscriptions, 2)
	assert.Equal(t, 2, page.Limit)

	page, err = f.svc.ListByCustomer(ctx, subscriptiondomain.ListCustomerSubscriptionsRequest{
		CustomerID: f.customer.ID.String(),
		Skip:       2,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
	assert.Len(t, page.Subscriptions, 1)
	assert.Equal(t, "Pro", page.Subscriptions[0].PlanName)

	_, err = f.svc.ListByCustomer(ctx, subscriptiondomain.ListCustomerSubscriptionsRequest{
		CustomerID: f.customer.ID.String(),
		Limit:      101,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPagination)

	_, err = f.svc.ListByCustomer(ctx, subscriptiondomain.ListCustomerSubscriptionsRequest{
		CustomerID: f.customer.ID.String(),
		Status:     "paused",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)

	_, err = f.svc.ListByCustomer(ctx, subscriptiondomain.ListCustomerSubscriptionsRequest{
		CustomerID: f.genID.Generate().String(),
	})
	assert.ErrorIs(t, err, customerdomain.ErrNotFound)
}

func TestCountByPlanGroupsByStatus(t *testing.T) {
	f := newFixture(t, 5, approvingGateway, nil)
	ctx := context.Background()

	first, err := f.svc.Purchase(ctx, f.purchaseRequest("k1"))
	require.NoError(t, err)
	_, err = f.svc.Purchase(ctx, f.purchaseRequest("k2"))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, subscriptiondomain.CancelRequest{SubscriptionID: first.ID, CustomerID: f.customer.ID.String()})
	require.NoError(t, err)

	counts, err := repository.Provide().CountByPlan(ctx, f.db, f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["active"])
	assert.Equal(t, int64(1), counts["cancelled"])
}
