package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusActive    SubscriptionStatus = "active"
	StatusFailed    SubscriptionStatus = "failed"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Subscription is one sold seat. Rows are never deleted; terminal states
// are failed, cancelled and expired.
type Subscription struct {
	ID              snowflake.ID       `gorm:"primaryKey"`
	PlanID          snowflake.ID       `gorm:"not null;index:idx_subscriptions_plan_status"`
	CustomerID      snowflake.ID       `gorm:"not null;index"`
	Status          SubscriptionStatus `gorm:"type:varchar(16);not null;index:idx_subscriptions_plan_status"`
	PaymentStatus   PaymentStatus      `gorm:"type:varchar(16);not null"`
	PaymentID       *string            `gorm:"type:varchar(64)"`
	PaymentMethodID string             `gorm:"type:varchar(64);not null"`
	AmountCents     int64              `gorm:"not null"`
	StartDate       time.Time          `gorm:"not null"`
	EndDate         time.Time          `gorm:"not null"`
	AutoRenew       bool               `gorm:"not null;default:false"`
	IdempotencyKey  *string            `gorm:"type:varchar(64);uniqueIndex"`
	TraceID         string             `gorm:"type:varchar(64);index"`
	CancelledAt     *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }
