// Package domain describes the payment gateway the purchase flow charges through.
package domain

import (
	"context"
	"errors"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type ChargeRequest struct {
	AmountCents     int64
	PaymentMethodID string
	CustomerID      string
	Metadata        map[string]string
}

type Charge struct {
	PaymentID   string        `json:"paymentId"`
	Status      PaymentStatus `json:"status"`
	AmountCents int64         `json:"amountCents"`
	ProcessedAt time.Time     `json:"processedAt"`
}

type Refund struct {
	RefundID    string    `json:"refundId"`
	PaymentID   string    `json:"paymentId"`
	AmountCents int64     `json:"amountCents"`
	ProcessedAt time.Time `json:"processedAt"`
}

// Gateway is an external, non-transactional collaborator. Calls may block
// for the provider's latency and must not be made while holding a
// storage transaction.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
	Refund(ctx context.Context, paymentID string, amountCents int64) (Refund, error)
	Status(ctx context.Context, paymentID string) (PaymentStatus, error)
}

var (
	ErrPaymentDeclined  = errors.New("payment_declined")
	ErrPaymentNotFound  = errors.New("payment_not_found")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrAlreadyRefunded  = errors.New("payment_already_refunded")
	ErrInvalidMethodRef = errors.New("invalid_payment_method")
)

// DeclineError carries the provider's decline reason and matches ErrPaymentDeclined.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string { return e.Reason }

func (e *DeclineError) Is(target error) bool { return target == ErrPaymentDeclined }
