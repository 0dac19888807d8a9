package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/audit/masking"
	customerdomain "github.com/smallbiznis/seatledger/internal/customer/domain"
	"github.com/smallbiznis/seatledger/internal/events"
	obscontext "github.com/smallbiznis/seatledger/internal/observability/context"
	paymentdomain "github.com/smallbiznis/seatledger/internal/payment/domain"
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/seatledger/internal/subscription/domain"
	"github.com/smallbiznis/seatledger/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	systemActor = "system"

	reasonPaymentFailed    = "payment_failed"
	reasonActivationFailed = "activation_failed"

	outcomeSucceeded     = "succeeded"
	outcomeSoldOut       = "sold_out"
	outcomePaymentFailed = "payment_failed"
	outcomeRejected      = "rejected"
	outcomeError         = "error"
)

// reservation is what the first unit of work hands to the rest of the saga.
type reservation struct {
	sub    *subscriptiondomain.Subscription
	plan   *plandomain.Plan
	change plandomain.SeatChange
}

// Purchase sells one seat. The seat is reserved and a pending subscription
// written in one transaction, the charge runs with no transaction held, and
// a second transaction either activates the subscription or fails it and
// releases the seat.
func (s *Service) Purchase(ctx context.Context, req subscriptiondomain.PurchaseRequest) (*subscriptiondomain.SubscriptionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.purchase")
	defer span.End()

	planID, err := parseID(req.PlanID, plandomain.ErrInvalidPlanID)
	if err != nil {
		return nil, err
	}
	customerID, err := parseID(req.CustomerID, customerdomain.ErrInvalidCustomerID)
	if err != nil {
		return nil, err
	}
	paymentMethod := strings.TrimSpace(req.PaymentMethodID)
	if paymentMethod == "" {
		return nil, subscriptiondomain.ErrInvalidPaymentMethod
	}

	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = obscontext.TraceIDFromContext(ctx)
	}
	span.SetAttributes(
		attribute.String("plan.id", planID.String()),
		attribute.String("customer.id", customerID.String()),
		attribute.String("trace.id", traceID),
	)

	var res reservation
	err = s.runner.Run(ctx, "purchase.reserve", func(tx *gorm.DB) error {
		plan, err := s.plans.FindByID(ctx, tx, planID)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrPlanNotFound
		}
		if plan.Status != plandomain.PlanStatusActive {
			return plandomain.ErrPlanInactive
		}

		customer, err := s.customers.FindByID(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return customerdomain.ErrNotFound
		}

		change, err := s.ledger.ReserveSeat(ctx, tx, planID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		sub := &subscriptiondomain.Subscription{
			ID:              s.genID.Generate(),
			PlanID:          plan.ID,
			CustomerID:      customer.ID,
			Status:          subscriptiondomain.StatusPending,
			PaymentStatus:   subscriptiondomain.PaymentPending,
			PaymentMethodID: masking.MaskSecret(paymentMethod),
			AmountCents:     plan.PriceCents,
			StartDate:       now,
			EndDate:         now.AddDate(0, 0, plan.DurationDays),
			AutoRenew:       req.AutoRenew,
			TraceID:         traceID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
			sub.IdempotencyKey = &key
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrDuplicatePurchase
			}
			return fmt.Errorf("insert subscription: %w", err)
		}

		if err := s.recorder.Record(ctx, tx, auditdomain.Event{
			TraceID:      traceID,
			Actor:        customer.ID.String(),
			ActorType:    auditdomain.ActorTypeCustomer,
			Action:       auditdomain.ActionPlanCapacityDecreased,
			ResourceType: auditdomain.ResourceTypePlan,
			ResourceID:   plan.ID.String(),
			Before:       map[string]any{"subscriptions_left": change.Before},
			After:        map[string]any{"subscriptions_left": change.After},
			Metadata:     map[string]any{"subscriptionId": sub.ID.String()},
		}); err != nil {
			return err
		}

		res = reservation{sub: sub, plan: plan, change: change}
		return nil
	})
	if err != nil {
		s.recordOutcome(err)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("subscription.id", res.sub.ID.String()))

	charge, payErr := s.gateway.Charge(ctx, paymentdomain.ChargeRequest{
		AmountCents:     res.sub.AmountCents,
		PaymentMethodID: paymentMethod,
		CustomerID:      customerID.String(),
		Metadata: map[string]string{
			"subscription_id": res.sub.ID.String(),
			"plan_id":         res.plan.ID.String(),
			"trace_id":        traceID,
		},
	})
	if payErr != nil {
		span.RecordError(payErr)
		return nil, s.failPayment(ctx, res, payErr)
	}

	if err := s.activate(ctx, res, charge); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed")
		return nil, s.compensateActivation(ctx, res, charge, err)
	}

	s.metrics.RecordPurchase(outcomeSucceeded)
	s.publish(ctx, events.TypeSubscriptionActivated, res.sub, map[string]any{
		"paymentId":   charge.PaymentID,
		"amountCents": res.sub.AmountCents,
	})
	s.log.Info("subscription activated",
		zap.String("subscription_id", res.sub.ID.String()),
		zap.String("plan_id", res.plan.ID.String()),
		zap.String("payment_id", charge.PaymentID),
		zap.String("trace_id", traceID),
	)

	resp := toResponse(res.sub, res.plan)
	return &resp, nil
}

func (s *Service) activate(ctx context.Context, res reservation, charge paymentdomain.Charge) error {
	ctx = context.WithoutCancel(ctx)
	return s.runner.Run(ctx, "purchase.activate", func(tx *gorm.DB) error {
		now := s.clock.Now()
		ok, err := s.repo.Transition(ctx, tx, res.sub.ID,
			[]subscriptiondomain.SubscriptionStatus{subscriptiondomain.StatusPending},
			map[string]any{
				"status":         subscriptiondomain.StatusActive,
				"payment_status": subscriptiondomain.PaymentSucceeded,
				"payment_id":     charge.PaymentID,
				"updated_at":     now,
			},
		)
		if err != nil {
			return err
		}
		if !ok {
			return subscriptiondomain.ErrInvalidTransition
		}

		if err := s.recorder.Record(ctx, tx, auditdomain.Event{
			TraceID:      res.sub.TraceID,
			Actor:        res.sub.CustomerID.String(),
			ActorType:    auditdomain.ActorTypeCustomer,
			Action:       auditdomain.ActionSubscriptionActivated,
			ResourceType: auditdomain.ResourceTypeSubscription,
			ResourceID:   res.sub.ID.String(),
			Before:       map[string]any{"status": string(subscriptiondomain.StatusPending)},
			After: map[string]any{
				"status":    string(subscriptiondomain.StatusActive),
				"planId":    res.plan.ID.String(),
				"startDate": res.sub.StartDate,
				"endDate":   res.sub.EndDate,
			},
			Metadata: map[string]any{"paymentId": charge.PaymentID},
		}); err != nil {
			return err
		}

		paymentID := charge.PaymentID
		res.sub.Status = subscriptiondomain.StatusActive
		res.sub.PaymentStatus = subscriptiondomain.PaymentSucceeded
		res.sub.PaymentID = &paymentID
		res.sub.UpdatedAt = now
		return nil
	})
}

// failPayment fails the subscription and hands its seat back after a
// declined or errored charge.
func (s *Service) failPayment(ctx context.Context, res reservation, cause error) error {
	err := s.release(ctx, res, releaseStep{
		operation:     "purchase.compensate_payment",
		paymentStatus: subscriptiondomain.PaymentFailed,
		action:        auditdomain.ActionPaymentFailed,
		reason:        reasonPaymentFailed,
		cause:         cause,
	})
	if err != nil {
		s.reconciliationRequired(ctx, res, "", err)
		s.metrics.RecordPurchase(outcomeError)
		return fmt.Errorf("compensate payment failure: %w", err)
	}

	s.metrics.RecordPurchase(outcomePaymentFailed)
	s.publish(ctx, events.TypeSubscriptionFailed, res.sub, map[string]any{"reason": reasonPaymentFailed})
	s.log.Info("purchase payment failed, seat released",
		zap.String("subscription_id", res.sub.ID.String()),
		zap.String("plan_id", res.plan.ID.String()),
		zap.String("trace_id", res.sub.TraceID),
		zap.Error(cause),
	)

	return &subscriptiondomain.PaymentFailedError{
		SubscriptionID: res.sub.ID.String(),
		Reason:         cause.Error(),
	}
}

// compensateActivation refunds a captured charge whose activation could not
// be persisted, then fails the subscription and releases the seat.
func (s *Service) compensateActivation(ctx context.Context, res reservation, charge paymentdomain.Charge, cause error) error {
	ctx = context.WithoutCancel(ctx)
	s.metrics.RecordPurchase(outcomeError)

	if _, err := s.gateway.Refund(ctx, charge.PaymentID, charge.AmountCents); err != nil {
		s.reconciliationRequired(ctx, res, charge.PaymentID, err)
		return fmt.Errorf("activate subscription: %w (refund failed: %v)", cause, err)
	}

	err := s.release(ctx, res, releaseStep{
		operation:     "purchase.compensate_activation",
		paymentStatus: subscriptiondomain.PaymentRefunded,
		paymentID:     charge.PaymentID,
		action:        auditdomain.ActionPaymentRefunded,
		reason:        reasonActivationFailed,
		cause:         cause,
	})
	if err != nil {
		s.reconciliationRequired(ctx, res, charge.PaymentID, err)
		return fmt.Errorf("activate subscription: %w (compensation failed: %v)", cause, err)
	}

	s.publish(ctx, events.TypeSubscriptionFailed, res.sub, map[string]any{"reason": reasonActivationFailed})
	s.log.Warn("subscription activation failed, charge refunded and seat released",
		zap.String("subscription_id", res.sub.ID.String()),
		zap.String("payment_id", charge.PaymentID),
		zap.String("trace_id", res.sub.TraceID),
		zap.Error(cause),
	)
	return fmt.Errorf("activate subscription: %w", cause)
}

type releaseStep struct {
	operation     string
	paymentStatus subscriptiondomain.PaymentStatus
	paymentID     string
	action        string
	reason        string
	cause         error
}

func (s *Service) release(ctx context.Context, res reservation, step releaseStep) error {
	ctx = context.WithoutCancel(ctx)
	return s.runner.Run(ctx, step.operation, func(tx *gorm.DB) error {
		now := s.clock.Now()
		attrs := map[string]any{
			"status":         subscriptiondomain.StatusFailed,
			"payment_status": step.paymentStatus,
			"updated_at":     now,
		}
		if step.paymentID != "" {
			attrs["payment_id"] = step.paymentID
		}
		ok, err := s.repo.Transition(ctx, tx, res.sub.ID,
			[]subscriptiondomain.SubscriptionStatus{subscriptiondomain.StatusPending},
			attrs,
		)
		if err != nil {
			return err
		}
		if !ok {
			return subscriptiondomain.ErrInvalidTransition
		}

		resourceID := res.sub.ID.String()
		if step.paymentID != "" {
			resourceID = step.paymentID
		}
		metadata := map[string]any{"subscriptionId": res.sub.ID.String()}
		if step.cause != nil {
			metadata["error"] = step.cause.Error()
		}
		if err := s.recorder.Record(ctx, tx, auditdomain.Event{
			TraceID:      res.sub.TraceID,
			Actor:        systemActor,
			ActorType:    auditdomain.ActorTypeSystem,
			Action:       step.action,
			ResourceType: auditdomain.ResourceTypePayment,
			ResourceID:   resourceID,
			Before:       map[string]any{"paymentStatus": string(subscriptiondomain.PaymentPending)},
			After:        map[string]any{"paymentStatus": string(step.paymentStatus)},
			Metadata:     metadata,
		}); err != nil {
			return err
		}

		change, released, err := s.ledger.ReleaseSeat(ctx, tx, res.plan.ID)
		if err != nil {
			return err
		}
		if !released {
			s.log.Warn("seat release skipped, plan already at capacity",
				zap.String("plan_id", res.plan.ID.String()),
				zap.String("subscription_id", res.sub.ID.String()),
			)
		} else if err := s.recorder.Record(ctx, tx, auditdomain.Event{
			TraceID:      res.sub.TraceID,
			Actor:        systemActor,
			ActorType:    auditdomain.ActorTypeSystem,
			Action:       auditdomain.ActionPlanCapacityIncreased,
			ResourceType: auditdomain.ResourceTypePlan,
			ResourceID:   res.plan.ID.String(),
			Before:       map[string]any{"subscriptions_left": change.Before},
			After:        map[string]any{"subscriptions_left": change.After},
			Metadata: map[string]any{
				"subscriptionId": res.sub.ID.String(),
				"reason":         step.reason,
			},
		}); err != nil {
			return err
		}

		res.sub.Status = subscriptiondomain.StatusFailed
		res.sub.PaymentStatus = step.paymentStatus
		res.sub.UpdatedAt = now
		return nil
	})
}

func (s *Service) reconciliationRequired(ctx context.Context, res reservation, paymentID string, err error) {
	s.metrics.RecordCompensationFailure()
	s.log.Error("manual reconciliation required",
		zap.String("subscription_id", res.sub.ID.String()),
		zap.String("plan_id", res.plan.ID.String()),
		zap.String("payment_id", paymentID),
		zap.String("trace_id", res.sub.TraceID),
		zap.Error(err),
	)
}

func (s *Service) recordOutcome(err error) {
	switch {
	case errors.Is(err, plandomain.ErrPlanSoldOut):
		s.metrics.RecordPurchase(outcomeSoldOut)
	case errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, plandomain.ErrPlanInactive),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrDuplicatePurchase):
		s.metrics.RecordPurchase(outcomeRejected)
	default:
		s.metrics.RecordPurchase(outcomeError)
	}
}
