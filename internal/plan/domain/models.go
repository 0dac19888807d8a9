// Package domain contains the plan catalog and its seat ledger.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusInactive PlanStatus = "inactive"
	PlanStatusArchived PlanStatus = "archived"
)

func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusActive, PlanStatusInactive, PlanStatusArchived:
		return true
	default:
		return false
	}
}

// Plan is a sellable offering with a fixed number of seats.
// SubscriptionsLeft is written only by the ledger primitives and resize.
type Plan struct {
	ID                snowflake.ID      `gorm:"primaryKey"`
	Name              string            `gorm:"type:varchar(100);not null;uniqueIndex"`
	Slug              string            `gorm:"type:varchar(120);not null;uniqueIndex"`
	Description       string            `gorm:"type:varchar(500);not null"`
	PriceCents        int64             `gorm:"not null"`
	DurationDays      int               `gorm:"not null;default:30"`
	TotalCapacity     int               `gorm:"not null"`
	SubscriptionsLeft int               `gorm:"not null"`
	Status            PlanStatus        `gorm:"type:varchar(16);not null;index"`
	Features          datatypes.JSON    `gorm:""`
	Metadata          datatypes.JSONMap `gorm:""`
	CreatedAt         time.Time         `gorm:"not null"`
	UpdatedAt         time.Time         `gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }

func (p Plan) Sold() int {
	return p.TotalCapacity - p.SubscriptionsLeft
}

func (p Plan) IsSoldOut() bool {
	return p.SubscriptionsLeft == 0
}

func (p Plan) OccupancyPercentage() float64 {
	if p.TotalCapacity == 0 {
		return 0
	}
	pct := float64(p.Sold()) / float64(p.TotalCapacity) * 100
	return math.Round(pct*100) / 100
}

// SeatChange captures the ledger counter around one reserve or release.
type SeatChange struct {
	PlanID snowflake.ID
	Before int
	After  int
}
