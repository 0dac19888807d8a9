package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/clock"
	obscontext "github.com/smallbiznis/seatledger/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 500
)

var timeframes = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, event auditdomain.Event) error {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if event.ResourceType == "" || strings.TrimSpace(event.ResourceID) == "" {
		return auditdomain.ErrInvalidResource
	}

	traceID := strings.TrimSpace(event.TraceID)
	if traceID == "" {
		traceID = obscontext.TraceIDFromContext(ctx)
	}
	actorType := event.ActorType
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}
	resource := strings.TrimSpace(event.Resource)
	if resource == "" {
		resource = string(event.ResourceType)
	}

	entry := auditdomain.AuditLog{
		ID:           s.genID.Generate(),
		TraceID:      traceID,
		Actor:        strings.TrimSpace(event.Actor),
		ActorType:    actorType,
		Action:       action,
		Resource:     resource,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Before:       toJSONMap(event.Before),
		After:        toJSONMap(event.After),
		Metadata:     toJSONMap(event.Metadata),
		CreatedAt:    s.clock.Now(),
	}

	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) ByTrace(ctx context.Context, traceID string) ([]auditdomain.AuditLogResponse, error) {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return nil, auditdomain.ErrInvalidTraceID
	}
	logs, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{TraceID: traceID, Ascending: true})
	if err != nil {
		return nil, err
	}
	return toResponses(logs, false), nil
}

func (s *Service) Recent(ctx context.Context, req auditdomain.RecentRequest) ([]auditdomain.AuditLogResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	logs, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:       req.Action,
		ResourceType: req.ResourceType,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	return toResponses(logs, true), nil
}

func (s *Service) Stats(ctx context.Context, timeframe string) (*auditdomain.StatsResponse, error) {
	timeframe = strings.TrimSpace(timeframe)
	if timeframe == "" {
		timeframe = "1h"
	}
	window, ok := timeframes[timeframe]
	if !ok {
		return nil, auditdomain.ErrInvalidTimeframe
	}

	end := s.clock.Now()
	start := end.Add(-window)
	counts, err := s.repo.CountByAction(ctx, s.db, start)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, c := range counts {
		total += c.Count
	}
	if counts == nil {
		counts = []auditdomain.ActionCount{}
	}
	return &auditdomain.StatsResponse{
		Timeframe: timeframe,
		StartTime: start,
		EndTime:   end,
		Total:     total,
		Breakdown: counts,
	}, nil
}

func toJSONMap(in map[string]any) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	return datatypes.JSONMap(in)
}

func toResponses(logs []*auditdomain.AuditLog, withOutcome bool) []auditdomain.AuditLogResponse {
	out := make([]auditdomain.AuditLogResponse, 0, len(logs))
	for _, log := range logs {
		resp := auditdomain.AuditLogResponse{
			ID:           log.ID.String(),
			TraceID:      log.TraceID,
			Actor:        log.Actor,
			ActorType:    string(log.ActorType),
			Action:       log.Action,
			Resource:     log.Resource,
			ResourceType: string(log.ResourceType),
			ResourceID:   log.ResourceID,
			Before:       log.Before,
			After:        log.After,
			Metadata:     log.Metadata,
			CreatedAt:    log.CreatedAt,
		}
		if withOutcome {
			resp.Outcome = outcome(log.Action)
		}
		out = append(out, resp)
	}
	return out
}

func outcome(action string) string {
	switch {
	case strings.Contains(action, "failed"):
		return "failed"
	case strings.Contains(action, "cancelled"):
		return "cancelled"
	default:
		return "success"
	}
}
