// Package txretry runs storage transactions and re-runs them when the
// storage layer labels a failure as transient.
package txretry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("txretry",
	fx.Provide(NewExecutor),
	fx.Provide(func(e *Executor) Runner { return e }),
)

const DefaultMaxAttempts = 5

// DefaultDelays is the wait before attempts 2..n. The last entry repeats.
var DefaultDelays = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
}

var ErrRetriesExhausted = errors.New("transaction_retries_exhausted")

// Runner executes fn inside one atomic transaction, retrying transient conflicts.
type Runner interface {
	Run(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error
}

type Executor struct {
	db          *gorm.DB
	log         *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
	delays      []time.Duration
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

type Option func(*Executor)

func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithDelays(delays ...time.Duration) Option {
	return func(e *Executor) {
		if len(delays) > 0 {
			e.delays = delays
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func NewExecutor(p Params) *Executor {
	return New(p.DB, p.Log, WithMaxAttempts(p.Config.Tx.MaxAttempts), WithMetrics(p.Metrics))
}

func New(conn *gorm.DB, log *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		db:          conn,
		log:         log.Named("txretry"),
		maxAttempts: DefaultMaxAttempts,
		delays:      DefaultDelays,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes fn in a fresh transaction per attempt. Errors without the
// transient label abort immediately and are returned unchanged.
func (e *Executor) Run(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := e.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !db.IsTransientErr(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		e.metrics.RecordTxRetry(operation)
		e.log.Warn("transient transaction conflict, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newSchedule(e.delays), uint64(e.maxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return nil
	}
	if db.IsTransientErr(err) {
		e.metrics.RecordTxExhausted(operation)
		e.log.Error("transaction retries exhausted",
			zap.String("operation", operation),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExhausted, operation, attempts, err)
	}
	return err
}

// schedule walks a fixed list of delays and keeps returning the last one.
type schedule struct {
	delays []time.Duration
	next   int
}

func newSchedule(delays []time.Duration) *schedule {
	return &schedule{delays: delays}
}

func (s *schedule) NextBackOff() time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	idx := s.next
	if idx >= len(s.delays) {
		idx = len(s.delays) - 1
	}
	s.next++
	return s.delays[idx]
}

func (s *schedule) Reset() {
	s.next = 0
}

var _ backoff.BackOff = (*schedule)(nil)
