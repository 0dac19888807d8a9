package domain

import (
	"context"
	"errors"
	"time"
)

type PurchaseRequest struct {
	PlanID          string `json:"planId"`
	CustomerID      string `json:"customerId"`
	PaymentMethodID string `json:"paymentMethodId"`
	AutoRenew       bool   `json:"autoRenew,omitempty"`

	TraceID        string `json:"-"`
	IdempotencyKey string `json:"-"`
}

type CancelRequest struct {
	SubscriptionID string `json:"-"`
	CustomerID     string `json:"customerId"`
}

type ListCustomerSubscriptionsRequest struct {
	CustomerID string `form:"-"`
	Status     string `form:"status"`
	Limit      int    `form:"limit"`
	Skip       int    `form:"skip"`
}

type SubscriptionResponse struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"paymentStatus"`
	PlanID          string     `json:"planId"`
	PlanName        string     `json:"planName"`
	CustomerID      string     `json:"customerId"`
	StartDate       time.Time  `json:"startDate"`
	EndDate         time.Time  `json:"endDate"`
	AmountCents     int64      `json:"amountCents"`
	PaymentID       string     `json:"paymentId,omitempty"`
	PaymentMethodID string     `json:"paymentMethodId"`
	AutoRenew       bool       `json:"autoRenew"`
	TraceID         string     `json:"traceId"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type CancelResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ListCustomerSubscriptionsResponse struct {
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
	Total         int64                  `json:"total"`
	Limit         int                    `json:"limit"`
	Skip          int                    `json:"skip"`
}

type Service interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*SubscriptionResponse, error)
	Cancel(ctx context.Context, req CancelRequest) (*CancelResponse, error)
	Get(ctx context.Context, id string) (*SubscriptionResponse, error)
	ListByCustomer(ctx context.Context, req ListCustomerSubscriptionsRequest) (*ListCustomerSubscriptionsResponse, error)
}

var (
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrAlreadyCancelled      = errors.New("already_cancelled")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
	ErrInvalidPaymentMethod  = errors.New("invalid_payment_method")
	ErrInvalidStatus         = errors.New("invalid_subscription_status")
	ErrInvalidPagination     = errors.New("invalid_pagination")
	ErrInvalidTransition     = errors.New("invalid_subscription_transition")
	ErrDuplicatePurchase     = errors.New("duplicate_purchase")
	ErrPaymentFailed         = errors.New("payment_failed")
)

// PaymentFailedError is returned after a declined charge has been compensated.
// The failed subscription stays on record.
type PaymentFailedError struct {
	SubscriptionID string
	Reason         string
}

func (e *PaymentFailedError) Error() string { return "payment failed: " + e.Reason }

func (e *PaymentFailedError) Is(target error) bool { return target == ErrPaymentFailed }
