package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListPlanRequest struct {
	Status          string `form:"status"`
	IncludeInactive bool   `form:"includeInactive"`
}

type CreatePlanRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	PriceCents    *int64         `json:"price_cents"`
	DurationDays  *int           `json:"duration_days,omitempty"`
	TotalCapacity *int           `json:"total_capacity"`
	Status        string         `json:"status,omitempty"`
	Features      []string       `json:"features,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// UpdatePlanRequest is a partial update. subscriptions_left is not
// accepted; a capacity change re-derives it from the sold count.
type UpdatePlanRequest struct {
	Name          *string        `json:"name,omitempty"`
	Description   *string        `json:"description,omitempty"`
	PriceCents    *int64         `json:"price_cents,omitempty"`
	DurationDays  *int           `json:"duration_days,omitempty"`
	TotalCapacity *int           `json:"total_capacity,omitempty"`
	Status        *string        `json:"status,omitempty"`
	Features      *[]string      `json:"features,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type PlanResponse struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Slug                string         `json:"slug"`
	Description         string         `json:"description"`
	PriceCents          int64          `json:"price_cents"`
	DurationDays        int            `json:"duration_days"`
	TotalCapacity       int            `json:"total_capacity"`
	SubscriptionsLeft   int            `json:"subscriptions_left"`
	Status              string         `json:"status"`
	Features            []string       `json:"features"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	IsSoldOut           bool           `json:"is_sold_out"`
	OccupancyPercentage float64        `json:"occupancy_percentage"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type PlanStatistics struct {
	PlanID              string           `json:"planId"`
	Name                string           `json:"name"`
	TotalCapacity       int              `json:"totalCapacity"`
	SubscriptionsLeft   int              `json:"subscriptionsLeft"`
	SubscriptionsSold   int              `json:"subscriptionsSold"`
	OccupancyPercentage float64          `json:"occupancyPercentage"`
	IsSoldOut           bool             `json:"isSoldOut"`
	ByStatus            map[string]int64 `json:"byStatus"`
}

type Service interface {
	List(ctx context.Context, req ListPlanRequest) ([]PlanResponse, error)
	Get(ctx context.Context, id string) (*PlanResponse, error)
	Create(ctx context.Context, req CreatePlanRequest) (*PlanResponse, error)
	Update(ctx context.Context, id string, req UpdatePlanRequest) (*PlanResponse, error)
	Statistics(ctx context.Context, id string) (*PlanStatistics, error)
	Delete(ctx context.Context, id string) (*PlanResponse, error)
}

// Ledger owns the per-plan seat counter. Calls take the caller's transaction handle.
type Ledger interface {
	ReserveSeat(ctx context.Context, tx *gorm.DB, planID snowflake.ID) (SeatChange, error)
	// ReleaseSeat reports false when the plan was already at capacity and nothing changed.
	ReleaseSeat(ctx context.Context, tx *gorm.DB, planID snowflake.ID) (SeatChange, bool, error)
}

// SubscriptionCounter reports how many subscriptions reference a plan, by status.
type SubscriptionCounter interface {
	CountByPlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) (map[string]int64, error)
}

var (
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrPlanInactive         = errors.New("plan_inactive")
	ErrPlanSoldOut          = errors.New("plan_sold_out")
	ErrPlanNameTaken        = errors.New("plan_name_taken")
	ErrPlanHasSubscriptions = errors.New("plan_has_subscriptions")
	ErrCapacityBelowSold    = errors.New("capacity_below_sold")
	ErrInvalidPlanID        = errors.New("invalid_plan_id")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidDescription   = errors.New("invalid_description")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidDuration      = errors.New("invalid_duration")
	ErrInvalidCapacity      = errors.New("invalid_capacity")
	ErrInvalidStatus        = errors.New("invalid_status")
)
