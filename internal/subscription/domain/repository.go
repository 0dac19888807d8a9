package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	CustomerID snowflake.ID
	Status     SubscriptionStatus
	Limit      int
	Skip       int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Subscription, int64, error)

	// Transition updates the row only while its status is one of from.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []SubscriptionStatus, attrs map[string]any) (bool, error)

	CountByPlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) (map[string]int64, error)
}
