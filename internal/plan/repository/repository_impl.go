package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter plandomain.ListFilter) ([]*plandomain.Plan, error) {
	var plans []*plandomain.Plan
	stmt := db.WithContext(ctx).Model(&plandomain.Plan{})
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	if err := stmt.Order("price_cents asc, id asc").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) UpdateAttributes(ctx context.Context, db *gorm.DB, id snowflake.ID, attrs map[string]any) error {
	if len(attrs) == 0 {
		return nil
	}
	delete(attrs, "subscriptions_left")
	delete(attrs, "total_capacity")
	return db.WithContext(ctx).Model(&plandomain.Plan{}).Where("id = ?", id).Updates(attrs).Error
}

// DecrementSeat is the only statement that consumes capacity. The guard and
// the write are one UPDATE, so concurrent callers serialize on the row.
func (r *repo) DecrementSeat(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE plans
		 SET subscriptions_left = subscriptions_left - 1, updated_at = ?
		 WHERE id = ? AND status = ? AND subscriptions_left > 0`,
		now,
		id,
		plandomain.PlanStatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) IncrementSeat(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE plans
		 SET subscriptions_left = subscriptions_left + 1, updated_at = ?
		 WHERE id = ? AND subscriptions_left < total_capacity`,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Resize assigns subscriptions_left before total_capacity so MySQL, which
// evaluates SET left to right, still sees the old capacity.
func (r *repo) Resize(ctx context.Context, db *gorm.DB, id snowflake.ID, capacity int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE plans
		 SET subscriptions_left = ? - (total_capacity - subscriptions_left),
		     total_capacity = ?,
		     updated_at = ?
		 WHERE id = ? AND total_capacity - subscriptions_left <= ?`,
		capacity,
		capacity,
		now,
		id,
		capacity,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
