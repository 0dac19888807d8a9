package domain

import (
	"context"
	"errors"
)

type CreateCustomerRequest struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	Get(ctx context.Context, id string) (Customer, error)
	List(ctx context.Context) ([]Customer, error)
}

var (
	ErrInvalidCustomerID = errors.New("invalid_customer_id")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidEmail      = errors.New("invalid_email")
	ErrEmailTaken        = errors.New("customer_email_taken")
	ErrNotFound          = errors.New("customer_not_found")
)
