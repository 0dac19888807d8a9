package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeCustomer ActorType = "Customer"
	ActorTypeAdmin    ActorType = "Admin"
	ActorTypeSystem   ActorType = "System"
)

type ResourceType string

const (
	ResourceTypePlan         ResourceType = "Plan"
	ResourceTypeSubscription ResourceType = "Subscription"
	ResourceTypePayment      ResourceType = "Payment"
	ResourceTypeCustomer     ResourceType = "Customer"
)

const (
	ActionSubscriptionActivated = "subscription.activated"
	ActionSubscriptionCancelled = "subscription.cancelled"
	ActionPlanCapacityDecreased = "plan.capacity_decreased"
	ActionPlanCapacityIncreased = "plan.capacity_increased"
	ActionPlanCreated           = "plan.created"
	ActionPlanUpdated           = "plan.updated"
	ActionPaymentFailed         = "payment.failed"
	ActionPaymentRefunded       = "payment.refunded"
)

// AuditLog is one immutable transition record.
type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	TraceID      string            `gorm:"type:varchar(64);not null;index"`
	Actor        string            `gorm:"type:varchar(64);not null"`
	ActorType    ActorType         `gorm:"type:varchar(16);not null"`
	Action       string            `gorm:"type:varchar(64);not null;index"`
	Resource     string            `gorm:"type:varchar(32);not null"`
	ResourceType ResourceType      `gorm:"type:varchar(16);not null;index:idx_audit_resource"`
	ResourceID   string            `gorm:"type:varchar(64);not null;index:idx_audit_resource"`
	Before       datatypes.JSONMap `gorm:""`
	After        datatypes.JSONMap `gorm:""`
	Metadata     datatypes.JSONMap `gorm:""`
	CreatedAt    time.Time         `gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }
