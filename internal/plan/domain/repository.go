package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Statuses []PlanStatus
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Plan, error)
	UpdateAttributes(ctx context.Context, db *gorm.DB, id snowflake.ID, attrs map[string]any) error

	// DecrementSeat takes one seat if the plan is active and has seats left.
	DecrementSeat(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// IncrementSeat returns one seat unless the plan is already at capacity.
	IncrementSeat(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// Resize sets a new capacity keeping the sold count, refusing capacities below it.
	Resize(ctx context.Context, db *gorm.DB, id snowflake.ID, capacity int, now time.Time) (bool, error)
}
