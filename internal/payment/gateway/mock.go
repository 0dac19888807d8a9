// Package gateway holds the simulated payment provider.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	paymentdomain "github.com/smallbiznis/seatledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Clock  clock.Clock
	Config *config.PaymentConfigHolder
}

type Option func(*Mock)

// WithRoll replaces the random draw compared against the success rate.
func WithRoll(roll func() float64) Option {
	return func(m *Mock) {
		if roll != nil {
			m.roll = roll
		}
	}
}

// Mock simulates latency and a success probability. It keeps issued charges
// in memory so Status and Refund can answer for them.
type Mock struct {
	log    *zap.Logger
	clock  clock.Clock
	config *config.PaymentConfigHolder
	roll   func() float64

	mu       sync.Mutex
	payments map[string]*record
}

type record struct {
	amountCents int64
	status      paymentdomain.PaymentStatus
}

func NewMock(p Params) paymentdomain.Gateway {
	return New(p.Log, p.Clock, p.Config)
}

func New(log *zap.Logger, clk clock.Clock, holder *config.PaymentConfigHolder, opts ...Option) *Mock {
	src := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	var srcMu sync.Mutex
	m := &Mock{
		log:    log.Named("payment.gateway"),
		clock:  clk,
		config: holder,
		roll: func() float64 {
			srcMu.Lock()
			defer srcMu.Unlock()
			return src.Float64()
		},
		payments: map[string]*record{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.Charge, error) {
	if req.AmountCents < 0 {
		return paymentdomain.Charge{}, paymentdomain.ErrInvalidAmount
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return paymentdomain.Charge{}, paymentdomain.ErrInvalidMethodRef
	}

	cfg := m.config.Get()
	if err := wait(ctx, cfg.Latency); err != nil {
		return paymentdomain.Charge{}, err
	}

	if m.roll() >= cfg.SuccessRate {
		m.log.Info("charge declined",
			zap.String("customer_id", req.CustomerID),
			zap.Int64("amount_cents", req.AmountCents),
		)
		return paymentdomain.Charge{}, &paymentdomain.DeclineError{Reason: cfg.DeclineMessage}
	}

	charge := paymentdomain.Charge{
		PaymentID:   "pay_" + randomHex(12),
		Status:      paymentdomain.PaymentStatusSucceeded,
		AmountCents: req.AmountCents,
		ProcessedAt: m.clock.Now(),
	}

	m.mu.Lock()
	m.payments[charge.PaymentID] = &record{amountCents: req.AmountCents, status: charge.Status}
	m.mu.Unlock()

	return charge, nil
}

func (m *Mock) Refund(ctx context.Context, paymentID string, amountCents int64) (paymentdomain.Refund, error) {
	if amountCents < 0 {
		return paymentdomain.Refund{}, paymentdomain.ErrInvalidAmount
	}
	if err := wait(ctx, m.config.Get().Latency); err != nil {
		return paymentdomain.Refund{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.payments[paymentID]
	if !ok {
		return paymentdomain.Refund{}, paymentdomain.ErrPaymentNotFound
	}
	if rec.status == paymentdomain.PaymentStatusRefunded {
		return paymentdomain.Refund{}, paymentdomain.ErrAlreadyRefunded
	}
	if amountCents > rec.amountCents {
		return paymentdomain.Refund{}, paymentdomain.ErrInvalidAmount
	}
	rec.status = paymentdomain.PaymentStatusRefunded

	return paymentdomain.Refund{
		RefundID:    "refund_" + randomHex(12),
		PaymentID:   paymentID,
		AmountCents: amountCents,
		ProcessedAt: m.clock.Now(),
	}, nil
}

func (m *Mock) Status(ctx context.Context, paymentID string) (paymentdomain.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.payments[paymentID]
	if !ok {
		return "", paymentdomain.ErrPaymentNotFound
	}
	return rec.status, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
