package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/clock"
	obscontext "github.com/smallbiznis/seatledger/internal/observability/context"
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	"github.com/smallbiznis/seatledger/internal/txretry"
	"github.com/smallbiznis/seatledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultDurationDays = 30
	adminActor          = "admin"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     plandomain.Repository
	Counter  plandomain.SubscriptionCounter
	Runner   txretry.Runner
	Recorder auditdomain.Recorder
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     plandomain.Repository
	counter  plandomain.SubscriptionCounter
	runner   txretry.Runner
	recorder auditdomain.Recorder
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("plan.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		counter:  p.Counter,
		runner:   p.Runner,
		recorder: p.Recorder,
	}
}

func (s *Service) List(ctx context.Context, req plandomain.ListPlanRequest) ([]plandomain.PlanResponse, error) {
	filter := plandomain.ListFilter{}
	switch status := plandomain.PlanStatus(strings.TrimSpace(req.Status)); {
	case status != "":
		if !status.Valid() {
			return nil, plandomain.ErrInvalidStatus
		}
		filter.Statuses = []plandomain.PlanStatus{status}
	case !req.IncludeInactive:
		filter.Statuses = []plandomain.PlanStatus{plandomain.PlanStatusActive}
	}

	plans, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	out := make([]plandomain.PlanResponse, 0, len(plans))
	for _, plan := range plans {
		out = append(out, toResponse(plan))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*plandomain.PlanResponse, error) {
	plan, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	resp := toResponse(plan)
	return &resp, nil
}

func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (*plandomain.PlanResponse, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return nil, err
	}
	description, err := validateDescription(req.Description)
	if err != nil {
		return nil, err
	}
	if req.PriceCents == nil || *req.PriceCents < 0 {
		return nil, plandomain.ErrInvalidPrice
	}
	duration := defaultDurationDays
	if req.DurationDays != nil {
		duration = *req.DurationDays
	}
	if duration < 1 {
		return nil, plandomain.ErrInvalidDuration
	}
	if req.TotalCapacity == nil || *req.TotalCapacity < 1 {
		return nil, plandomain.ErrInvalidCapacity
	}
	status := plandomain.PlanStatusActive
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status = plandomain.PlanStatus(raw)
		if !status.Valid() {
			return nil, plandomain.ErrInvalidStatus
		}
	}
	features, err := encodeFeatures(req.Features)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	plan := &plandomain.Plan{
		ID:                s.genID.Generate(),
		Name:              name,
		Slug:              slug.Make(name),
		Description:       description,
		PriceCents:        *req.PriceCents,
		DurationDays:      duration,
		TotalCapacity:     *req.TotalCapacity,
		SubscriptionsLeft: *req.TotalCapacity,
		Status:            status,
		Features:          features,
		Metadata:          datatypes.JSONMap(req.Metadata),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.runner.Run(ctx, "plan.create", func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, plan); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return plandomain.ErrPlanNameTaken
			}
			return err
		}
		return s.recorder.Record(ctx, tx, auditdomain.Event{
			TraceID:      obscontext.TraceIDFromContext(ctx),
			Actor:        adminActor,
			ActorType:    auditdomain.ActorTypeAdmin,
			Action:       auditdomain.ActionPlanCreated,
			ResourceType: auditdomain.ResourceTypePlan,
			ResourceID:   plan.ID.String(),
			After: map[string]any{
				"name":               plan.Name,
				"total_capacity":     plan.TotalCapacity,
				"subscriptions_left": plan.SubscriptionsLeft,
				"price_cents":        plan.PriceCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.Int("total_capacity", plan.TotalCapacity),
	)
	resp := toResponse(plan)
	return &resp, nil
}

// Update applies a patch. A capacity change goes through Resize so the sold
// count is preserved whatever the client sends.
func (s *Service) Update(ctx context.Context, id string, req plandomain.UpdatePlanRequest) (*plandomain.PlanResponse, error) {
	planID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	attrs := map[string]any{}
	if req.Name != nil {
		name, err := validateName(*req.Name)
		if err != nil {
			return nil, err
		}
		attrs["name"] = name
		attrs["slug"] = slug.Make(name)
	}
	if req.Description != nil {
		description, err := validateDescription(*req.Description)
		if err != nil {
			return nil, err
		}
		attrs["description"] = description
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return nil, plandomain.ErrInvalidPrice
		}
		attrs["price_cents"] = *req.PriceCents
	}
	if req.DurationDays != nil {
		if *req.DurationDays < 1 {
			return nil, plandomain.ErrInvalidDuration
		}
		attrs["duration_days"] = *req.DurationDays
	}
	if req.Status != nil {
		status := plandomain.PlanStatus(strings.TrimSpace(*req.Status))
		if !status.Valid() {
			return nil, plandomain.ErrInvalidStatus
		}
		attrs["status"] = status
	}
	if req.Features != nil {
		features, err := encodeFeatures(*req.Features)
		if err != nil {
			return nil, err
		}
		attrs["features"] = features
	}
	if req.Metadata != nil {
		attrs["metadata"] = datatypes.JSONMap(req.Metadata)
	}
	if req.TotalCapacity != nil && *req.TotalCapacity < 1 {
		return nil, plandomain.ErrInvalidCapacity
	}

	var updated *plandomain.Plan
	err = s.runner.Run(ctx, "plan.update", func(tx *gorm.DB) error {
		before, err := s.repo.FindByID(ctx, tx, planID)
		if err != nil {
			return err
		}
		if before == nil {
			return plandomain.ErrPlanNotFound
		}

		now := s.clock.Now()
		if len(attrs) > 0 {
			attrs["updated_at"] = now
			if err := s.repo.UpdateAttributes(ctx, tx, planID, attrs); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return plandomain.ErrPlanNameTaken
				}
				return err
			}
		}

		if req.TotalCapacity != nil && *req.TotalCapacity != before.TotalCapacity {
			ok, err := s.repo.Resize(ctx, tx, planID, *req.TotalCapacity, now)
			if err != nil {
				return err
			}
			if !ok {
				return plandomain.ErrCapacityBelowSold
			}
		}

		updated, err = s.repo.FindByID(ctx, tx, planID)
		if err != nil {
			return err
		}

		return s.recorder.Record(ctx, tx, auditdomain.Event{
			TraceID:      obscontext.TraceIDFromContext(ctx),
			Actor:        adminActor,
			ActorType:    auditdomain.ActorTypeAdmin,
			Action:       auditdomain.ActionPlanUpdated,
			ResourceType: auditdomain.ResourceTypePlan,
			ResourceID:   planID.String(),
			Before:       ledgerSnapshot(before),
			After:        ledgerSnapshot(updated),
		})
	})
	if err != nil {
		return nil, err
	}

	resp := toResponse(updated)
	return &resp, nil
}

func (s *Service) Statistics(ctx context.Context, id string) (*plandomain.PlanStatistics, error) {
	plan, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.counter.CountByPlan(ctx, s.db, plan.ID)
	if err != nil {
		return nil, err
	}
	return &plandomain.PlanStatistics{
		PlanID:              plan.ID.String(),
		Name:                plan.Name,
		TotalCapacity:       plan.TotalCapacity,
		SubscriptionsLeft:   plan.SubscriptionsLeft,
		SubscriptionsSold:   plan.Sold(),
		OccupancyPercentage: plan.OccupancyPercentage(),
		IsSoldOut:           plan.IsSoldOut(),
		ByStatus:            counts,
	}, nil
}

// Delete archives the plan. Subscriptions keep pointing at it.
func (s *Service) Delete(ctx context.Context, id string) (*plandomain.PlanResponse, error) {
	planID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var archived *plandomain.Plan
	err = s.runner.Run(ctx, "plan.delete", func(tx *gorm.DB) error {
		plan, err := s.repo.FindByID(ctx, tx, planID)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrPlanNotFound
		}

		counts, err := s.counter.CountByPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if counts["active"]+counts["pending"] > 0 {
			return plandomain.ErrPlanHasSubscriptions
		}

		if err := s.repo.UpdateAttributes(ctx, tx, planID, map[string]any{
			"status":     plandomain.PlanStatusArchived,
			"updated_at": s.clock.Now(),
		}); err != nil {
			return err
		}
		archived, err = s.repo.FindByID(ctx, tx, planID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan archived", zap.String("plan_id", planID.String()))
	resp := toResponse(archived)
	return &resp, nil
}

func (s *Service) load(ctx context.Context, conn *gorm.DB, id string) (*plandomain.Plan, error) {
	planID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.FindByID(ctx, conn, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func parseID(id string) (snowflake.ID, error) {
	planID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || planID <= 0 {
		return 0, plandomain.ErrInvalidPlanID
	}
	return planID, nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if n := utf8.RuneCountInString(name); n < 3 || n > 100 {
		return "", plandomain.ErrInvalidName
	}
	return name, nil
}

func validateDescription(raw string) (string, error) {
	description := strings.TrimSpace(raw)
	if description == "" || utf8.RuneCountInString(description) > 500 {
		return "", plandomain.ErrInvalidDescription
	}
	return description, nil
}

func encodeFeatures(features []string) (datatypes.JSON, error) {
	if features == nil {
		features = []string{}
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeFeatures(raw datatypes.JSON) []string {
	features := []string{}
	if len(raw) == 0 {
		return features
	}
	if err := json.Unmarshal(raw, &features); err != nil {
		return []string{}
	}
	return features
}

func ledgerSnapshot(plan *plandomain.Plan) map[string]any {
	if plan == nil {
		return nil
	}
	return map[string]any{
		"total_capacity":     plan.TotalCapacity,
		"subscriptions_left": plan.SubscriptionsLeft,
		"status":             string(plan.Status),
		"price_cents":        plan.PriceCents,
	}
}

func toResponse(plan *plandomain.Plan) plandomain.PlanResponse {
	return plandomain.PlanResponse{
		ID:                  plan.ID.String(),
		Name:                plan.Name,
		Slug:                plan.Slug,
		Description:         plan.Description,
		PriceCents:          plan.PriceCents,
		DurationDays:        plan.DurationDays,
		TotalCapacity:       plan.TotalCapacity,
		SubscriptionsLeft:   plan.SubscriptionsLeft,
		Status:              string(plan.Status),
		Features:            decodeFeatures(plan.Features),
		Metadata:            plan.Metadata,
		IsSoldOut:           plan.IsSoldOut(),
		OccupancyPercentage: plan.OccupancyPercentage(),
		CreatedAt:           plan.CreatedAt,
		UpdatedAt:           plan.UpdatedAt,
	}
}
