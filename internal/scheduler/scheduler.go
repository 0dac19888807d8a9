// Package scheduler runs periodic maintenance, currently the reclamation of
// expired idempotency records.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/seatledger/internal/clock"
	idempotencydomain "github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobPurgeIdempotency = "purge_idempotency"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Store   idempotencydomain.Store
	Config  Config            `optional:"true"`
	Locker  *ratelimit.Locker `optional:"true"`
	Metrics *metrics.Metrics  `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	store   idempotencydomain.Store
	locker  *ratelimit.Locker
	metrics *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Store == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler"),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		store:   p.Store,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

// RunOnce runs every enabled job once and joins their errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		name string
		run  func(context.Context) error
	}{
		{JobPurgeIdempotency, s.PurgeIdempotencyJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.name, s.cfg.JobTimeout, job.run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PurgeIdempotencyJob deletes expired records. With Redis available only the
// instance holding the lease does the work.
func (s *Scheduler) PurgeIdempotencyJob(ctx context.Context) error {
	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, JobPurgeIdempotency, s.cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("acquire lease: %w", err)
		}
		if lease == nil {
			s.log.Debug("purge skipped, lease held elsewhere")
			return nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("lease release failed", zap.Error(err))
			}
		}()
	}

	purged, err := s.store.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	s.metrics.RecordIdempotencyPurged(purged)
	if purged > 0 {
		s.log.Info("expired idempotency records purged", zap.Int64("count", purged))
	}
	return nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	s.metrics.RecordJobRun(name)
	err := fn(ctx)
	log := s.log.With(zap.String("job", name), zap.Duration("duration", s.clock.Now().Sub(start)))
	if err == nil {
		log.Debug("job finished")
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordJobError(name, "deadline_exceeded")
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	s.metrics.RecordJobError(name, "error")
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) isJobEnabled(name string) bool {
	for _, disabled := range s.cfg.DisabledJobs {
		if strings.EqualFold(disabled, name) {
			return false
		}
	}
	return true
}
