// Package domain holds the idempotency record and the store contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const DefaultTTL = 30 * 24 * time.Hour

// Record is the stored outcome of one keyed mutation. ResponseBody keeps the
// exact bytes written to the client.
type Record struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Key          string       `gorm:"column:idempotency_key;type:varchar(64);not null;uniqueIndex"`
	Status       Status       `gorm:"type:varchar(16);not null"`
	RequestHash  string       `gorm:"type:varchar(64);not null"`
	ResponseBody []byte
	StatusCode   int       `gorm:"not null;default:0"`
	ResourceID   string    `gorm:"type:varchar(64)"`
	ResourceType string    `gorm:"type:varchar(32)"`
	TraceID      string    `gorm:"type:varchar(64)"`
	ExpiresAt    time.Time `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Record) TableName() string { return "idempotency_records" }

func (r Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

type CreateRequest struct {
	Key         string
	Fingerprint string
	TraceID     string
}

type Outcome struct {
	Body         []byte
	StatusCode   int
	ResourceID   string
	ResourceType string
}

// Store is the keyed outcome cache. CreateOrGet reports isNew to at most
// one caller per live key; an expired key counts as absent.
type Store interface {
	CreateOrGet(ctx context.Context, req CreateRequest) (*Record, bool, error)
	MarkCompleted(ctx context.Context, key string, outcome Outcome) error
	MarkFailed(ctx context.Context, key string, outcome Outcome) error
	// Discard drops a record still in processing so the key can be sent again.
	Discard(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

var (
	ErrMissingKey        = errors.New("missing_idempotency_key")
	ErrInvalidKey        = errors.New("invalid_idempotency_key")
	ErrRequestInProgress = errors.New("request_in_progress")
	ErrKeyReused         = errors.New("idempotency_key_reused")
	ErrNotProcessing     = errors.New("idempotency_record_not_processing")
)
