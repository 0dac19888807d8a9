package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/clock"
	customerdomain "github.com/smallbiznis/seatledger/internal/customer/domain"
	"github.com/smallbiznis/seatledger/internal/events"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/seatledger/internal/payment/domain"
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/seatledger/internal/subscription/domain"
	"github.com/smallbiznis/seatledger/internal/txretry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100

	cancelledMessage = "Subscription cancelled successfully"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Plans     plandomain.Repository
	Customers customerdomain.Repository
	Ledger    plandomain.Ledger
	Gateway   paymentdomain.Gateway
	Runner    txretry.Runner
	Recorder  auditdomain.Recorder
	Publisher events.Publisher `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	plans     plandomain.Repository
	customers customerdomain.Repository
	ledger    plandomain.Ledger
	gateway   paymentdomain.Gateway
	runner    txretry.Runner
	recorder  auditdomain.Recorder
	publisher events.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewService(p Params) subscriptiondomain.Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		plans:     p.Plans,
		customers: p.Customers,
		ledger:    p.Ledger,
		gateway:   p.Gateway,
		runner:    p.Runner,
		recorder:  p.Recorder,
		publisher: publisher,
		metrics:   p.Metrics,
		tracer:    otel.Tracer("github.com/smallbiznis/seatledger/internal/subscription"),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*subscriptiondomain.SubscriptionResponse, error) {
	subscriptionID, err := parseID(id, subscriptiondomain.ErrInvalidSubscriptionID)
	if err != nil {
		return nil, err
	}
	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	plan, err := s.plans.FindByID(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}
	resp := toResponse(sub, plan)
	return &resp, nil
}

func (s *Service) ListByCustomer(ctx context.Context, req subscriptiondomain.ListCustomerSubscriptionsRequest) (*subscriptiondomain.ListCustomerSubscriptionsResponse, error) {
	customerID, err := parseID(req.CustomerID, customerdomain.ErrInvalidCustomerID)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit < 1 || limit > maxListLimit || req.Skip < 0 {
		return nil, subscriptiondomain.ErrInvalidPagination
	}

	status := subscriptiondomain.SubscriptionStatus(strings.TrimSpace(req.Status))
	if status != "" && !status.Valid() {
		return nil, subscriptiondomain.ErrInvalidStatus
	}

	customer, err := s.customers.FindByID(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, customerdomain.ErrNotFound
	}

	items, total, err := s.repo.List(ctx, s.db, subscriptiondomain.ListFilter{
		CustomerID: customerID,
		Status:     status,
		Limit:      limit,
		Skip:       req.Skip,
	})
	if err != nil {
		return nil, err
	}

	plans := map[snowflake.ID]*plandomain.Plan{}
	out := make([]subscriptiondomain.SubscriptionResponse, 0, len(items))
	for _, item := range items {
		plan, ok := plans[item.PlanID]
		if !ok {
			plan, err = s.plans.FindByID(ctx, s.db, item.PlanID)
			if err != nil {
				return nil, err
			}
			plans[item.PlanID] = plan
		}
		out = append(out, toResponse(item, plan))
	}

	return &subscriptiondomain.ListCustomerSubscriptionsResponse{
		Subscriptions: out,
		Total:         total,
		Limit:         limit,
		Skip:          req.Skip,
	}, nil
}

// Cancel ends an active subscription. The seat is not returned to the plan.
func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (*subscriptiondomain.CancelResponse, error) {
	subscriptionID, err := parseID(req.SubscriptionID, subscriptiondomain.ErrInvalidSubscriptionID)
	if err != nil {
		return nil, err
	}
	customerID, err := parseID(req.CustomerID, customerdomain.ErrInvalidCustomerID)
	if err != nil {
		return nil, err
	}

	var cancelled *subscriptiondomain.Subscription
	err = s.runner.Run(ctx, "subscription.cancel", func(tx *gorm.DB) error {
		sub, err := s.repo.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || sub.CustomerID != customerID {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		switch sub.Status {
		case subscriptiondomain.StatusCancelled:
			return subscriptiondomain.ErrAlreadyCancelled
		case subscriptiondomain.StatusActive:
		default:
			return subscriptiondomain.ErrSubscriptionNotActive
		}

		now := s.clock.Now()
		ok, err := s.repo.Transition(ctx, tx, sub.ID,
			[]subscriptiondomain.SubscriptionStatus{subscriptiondomain.StatusActive},
			map[string]any{
				"status":       subscriptiondomain.StatusCancelled,
				"auto_renew":   false,
				"cancelled_at": now,
				"updated_at":   now,
			},
		)
		if err != nil {
			return err
		}
		if !ok {
			return subscriptiondomain.ErrAlreadyCancelled
		}

		if err := s.recorder.Record(ctx, tx, auditdomain.Event{
			Actor:        customerID.String(),
			ActorType:    auditdomain.ActorTypeCustomer,
			Action:       auditdomain.ActionSubscriptionCancelled,
			ResourceType: auditdomain.ResourceTypeSubscription,
			ResourceID:   sub.ID.String(),
			Before:       map[string]any{"status": string(subscriptiondomain.StatusActive)},
			After:        map[string]any{"status": string(subscriptiondomain.StatusCancelled)},
			Metadata:     map[string]any{"planId": sub.PlanID.String()},
		}); err != nil {
			return err
		}

		sub.Status = subscriptiondomain.StatusCancelled
		sub.CancelledAt = &now
		cancelled = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeSubscriptionCancelled, cancelled, nil)
	s.log.Info("subscription cancelled",
		zap.String("subscription_id", cancelled.ID.String()),
		zap.String("customer_id", customerID.String()),
	)

	return &subscriptiondomain.CancelResponse{
		ID:      cancelled.ID.String(),
		Status:  string(cancelled.Status),
		Message: cancelledMessage,
	}, nil
}

func (s *Service) publish(ctx context.Context, eventType string, sub *subscriptiondomain.Subscription, data map[string]any) {
	event := events.Event{
		Type:           eventType,
		SubscriptionID: sub.ID.String(),
		PlanID:         sub.PlanID.String(),
		CustomerID:     sub.CustomerID.String(),
		TraceID:        sub.TraceID,
		OccurredAt:     s.clock.Now(),
		Data:           data,
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.log.Warn("failed to publish subscription event",
			zap.String("type", eventType),
			zap.String("subscription_id", event.SubscriptionID),
			zap.Error(err),
		)
	}
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, invalid
	}
	return id, nil
}

func toResponse(sub *subscriptiondomain.Subscription, plan *plandomain.Plan) subscriptiondomain.SubscriptionResponse {
	resp := subscriptiondomain.SubscriptionResponse{
		ID:              sub.ID.String(),
		Status:          string(sub.Status),
		PaymentStatus:   string(sub.PaymentStatus),
		PlanID:          sub.PlanID.String(),
		CustomerID:      sub.CustomerID.String(),
		StartDate:       sub.StartDate,
		EndDate:         sub.EndDate,
		AmountCents:     sub.AmountCents,
		PaymentMethodID: sub.PaymentMethodID,
		AutoRenew:       sub.AutoRenew,
		TraceID:         sub.TraceID,
		CancelledAt:     sub.CancelledAt,
		CreatedAt:       sub.CreatedAt,
	}
	if sub.PaymentID != nil {
		resp.PaymentID = *sub.PaymentID
	}
	if plan != nil {
		resp.PlanName = plan.Name
	}
	return resp
}
