// Package store implements idempotency record storage on the primary
// database and on Redis.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/smallbiznis/seatledger/pkg/db"
	"gorm.io/gorm"
)

// create-or-get rounds before giving up when a concurrent purge removes the
// row between the failed insert and the read.
const maxCreateRounds = 3

type DatabaseStore struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
	ttl   time.Duration
}

func NewDatabaseStore(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock, ttl time.Duration) *DatabaseStore {
	if ttl <= 0 {
		ttl = domain.DefaultTTL
	}
	return &DatabaseStore{db: conn, genID: genID, clock: clk, ttl: ttl}
}

func (s *DatabaseStore) CreateOrGet(ctx context.Context, req domain.CreateRequest) (*domain.Record, bool, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, false, domain.ErrMissingKey
	}

	for round := 0; round < maxCreateRounds; round++ {
		now := s.clock.Now()
		record := &domain.Record{
			ID:          s.genID.Generate(),
			Key:         key,
			Status:      domain.StatusProcessing,
			RequestHash: req.Fingerprint,
			TraceID:     req.TraceID,
			ExpiresAt:   now.Add(s.ttl),
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err := s.db.WithContext(ctx).Create(record).Error
		if err == nil {
			return record, true, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, false, fmt.Errorf("create idempotency record: %w", err)
		}

		existing, err := s.find(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			continue
		}
		if existing.ExpiresAt.After(now) {
			return existing, false, nil
		}

		rearmed, err := s.rearm(ctx, key, req, now)
		if err != nil {
			return nil, false, err
		}
		if rearmed {
			record, err := s.find(ctx, key)
			if err != nil {
				return nil, false, err
			}
			return record, true, nil
		}
	}

	existing, err := s.find(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("idempotency record %s vanished during create", key)
	}
	return existing, false, nil
}

// rearm reuses an expired row for a new request. Only one caller can match
// the expires_at guard.
func (s *DatabaseStore) rearm(ctx context.Context, key string, req domain.CreateRequest, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("idempotency_key = ? AND expires_at <= ?", key, now).
		Updates(map[string]any{
			"status":        domain.StatusProcessing,
			"request_hash":  req.Fingerprint,
			"response_body": nil,
			"status_code":   0,
			"resource_id":   "",
			"resource_type": "",
			"trace_id":      req.TraceID,
			"expires_at":    now.Add(s.ttl),
			"created_at":    now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("rearm idempotency record: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *DatabaseStore) MarkCompleted(ctx context.Context, key string, outcome domain.Outcome) error {
	return s.finish(ctx, key, domain.StatusCompleted, outcome)
}

func (s *DatabaseStore) MarkFailed(ctx context.Context, key string, outcome domain.Outcome) error {
	return s.finish(ctx, key, domain.StatusFailed, outcome)
}

func (s *DatabaseStore) finish(ctx context.Context, key string, status domain.Status, outcome domain.Outcome) error {
	body := outcome.Body
	if body == nil {
		body = []byte{}
	}
	res := s.db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("idempotency_key = ? AND status = ?", key, domain.StatusProcessing).
		Updates(map[string]any{
			"status":        status,
			"response_body": body,
			"status_code":   outcome.StatusCode,
			"resource_id":   outcome.ResourceID,
			"resource_type": outcome.ResourceType,
			"updated_at":    s.clock.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("mark idempotency record %s: %w", status, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotProcessing
	}
	return nil
}

func (s *DatabaseStore) Discard(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).
		Where("idempotency_key = ? AND status = ?", key, domain.StatusProcessing).
		Delete(&domain.Record{})
	if res.Error != nil {
		return fmt.Errorf("discard idempotency record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotProcessing
	}
	return nil
}

func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.clock.Now()).
		Delete(&domain.Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *DatabaseStore) find(ctx context.Context, key string) (*domain.Record, error) {
	var record domain.Record
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).Limit(1).Find(&record).Error
	if err != nil {
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
