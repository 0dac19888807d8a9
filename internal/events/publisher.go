// Package events publishes subscription lifecycle facts after they commit.
package events

import (
	"context"
	"time"
)

const (
	TypeSubscriptionActivated = "subscription.activated"
	TypeSubscriptionFailed    = "subscription.failed"
	TypeSubscriptionCancelled = "subscription.cancelled"
)

type Event struct {
	Type           string         `json:"type"`
	SubscriptionID string         `json:"subscriptionId"`
	PlanID         string         `json:"planId"`
	CustomerID     string         `json:"customerId"`
	TraceID        string         `json:"traceId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Data           map[string]any `json:"data,omitempty"`
}

// Publisher delivers events best effort. Callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type noopPublisher struct{}

func NewNoopPublisher() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, Event) error { return nil }
