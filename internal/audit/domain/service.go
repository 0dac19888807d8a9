package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Event is what callers hand to the recorder. Resource defaults to the resource type.
type Event struct {
	TraceID      string
	Actor        string
	ActorType    ActorType
	Action       string
	Resource     string
	ResourceType ResourceType
	ResourceID   string
	Before       map[string]any
	After        map[string]any
	Metadata     map[string]any
}

// Recorder appends events using the caller's transaction handle so an event
// commits or rolls back with the state change it describes.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, event Event) error
}

type RecentRequest struct {
	Limit        int    `form:"limit"`
	Action       string `form:"action"`
	ResourceType string `form:"resourceType"`
}

type AuditLogResponse struct {
	ID           string         `json:"id"`
	TraceID      string         `json:"traceId"`
	Actor        string         `json:"actor"`
	ActorType    string         `json:"actorType"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Before       map[string]any `json:"before,omitempty"`
	After        map[string]any `json:"after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Outcome      string         `json:"status,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

type StatsResponse struct {
	Timeframe string        `json:"timeframe"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Total     int64         `json:"totalEvents"`
	Breakdown []ActionCount `json:"breakdown"`
}

type Service interface {
	Recorder
	ByTrace(ctx context.Context, traceID string) ([]AuditLogResponse, error)
	Recent(ctx context.Context, req RecentRequest) ([]AuditLogResponse, error)
	Stats(ctx context.Context, timeframe string) (*StatsResponse, error)
}

type ListFilter struct {
	TraceID      string
	Action       string
	ResourceType string
	Since        *time.Time
	Limit        int
	Ascending    bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
	CountByAction(ctx context.Context, db *gorm.DB, since time.Time) ([]ActionCount, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidResource  = errors.New("invalid_resource")
	ErrInvalidTimeframe = errors.New("invalid_timeframe")
	ErrInvalidTraceID   = errors.New("invalid_trace_id")
)
