package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type LedgerParams struct {
	fx.In

	Repo    plandomain.Repository
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type ledger struct {
	repo    plandomain.Repository
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewLedger(p LedgerParams) plandomain.Ledger {
	return &ledger{repo: p.Repo, clock: p.Clock, metrics: p.Metrics}
}

func (l *ledger) ReserveSeat(ctx context.Context, tx *gorm.DB, planID snowflake.ID) (plandomain.SeatChange, error) {
	ok, err := l.repo.DecrementSeat(ctx, tx, planID, l.clock.Now())
	if err != nil {
		return plandomain.SeatChange{}, fmt.Errorf("reserve seat: %w", err)
	}
	if !ok {
		return plandomain.SeatChange{}, l.refusal(ctx, tx, planID)
	}
	l.metrics.RecordReservation(true)

	// the row is write-locked by this transaction, so the read sees our decrement
	plan, err := l.repo.FindByID(ctx, tx, planID)
	if err != nil {
		return plandomain.SeatChange{}, fmt.Errorf("reload plan: %w", err)
	}
	if plan == nil {
		return plandomain.SeatChange{}, plandomain.ErrPlanNotFound
	}
	return plandomain.SeatChange{PlanID: planID, Before: plan.SubscriptionsLeft + 1, After: plan.SubscriptionsLeft}, nil
}

// refusal tells sold out apart from a plan that left the active state after
// the caller loaded it. Both match zero rows in the conditional update.
func (l *ledger) refusal(ctx context.Context, tx *gorm.DB, planID snowflake.ID) error {
	plan, err := l.repo.FindByID(ctx, tx, planID)
	if err != nil {
		return fmt.Errorf("reload plan: %w", err)
	}
	switch {
	case plan == nil:
		return plandomain.ErrPlanNotFound
	case plan.Status != plandomain.PlanStatusActive:
		return plandomain.ErrPlanInactive
	}
	l.metrics.RecordReservation(false)
	return plandomain.ErrPlanSoldOut
}

func (l *ledger) ReleaseSeat(ctx context.Context, tx *gorm.DB, planID snowflake.ID) (plandomain.SeatChange, bool, error) {
	ok, err := l.repo.IncrementSeat(ctx, tx, planID, l.clock.Now())
	if err != nil {
		return plandomain.SeatChange{}, false, fmt.Errorf("release seat: %w", err)
	}
	l.metrics.RecordRelease(ok)

	plan, err := l.repo.FindByID(ctx, tx, planID)
	if err != nil {
		return plandomain.SeatChange{}, false, fmt.Errorf("reload plan: %w", err)
	}
	if plan == nil {
		return plandomain.SeatChange{}, false, plandomain.ErrPlanNotFound
	}
	if !ok {
		return plandomain.SeatChange{PlanID: planID, Before: plan.SubscriptionsLeft, After: plan.SubscriptionsLeft}, false, nil
	}
	return plandomain.SeatChange{PlanID: planID, Before: plan.SubscriptionsLeft - 1, After: plan.SubscriptionsLeft}, true, nil
}
