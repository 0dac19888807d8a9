package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	customerdomain "github.com/smallbiznis/seatledger/internal/customer/domain"
	idempotencydomain "github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/smallbiznis/seatledger/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/seatledger/internal/payment/domain"
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/seatledger/internal/subscription/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	TraceID string         `json:"trace_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
	ErrRateLimited    = errors.New("rate_limited")
)

// errorRule maps one sentinel to its wire representation. Rules are matched
// in order with errors.Is.
type errorRule struct {
	target  error
	status  int
	kind    string
	code    string
	message string
	field   string
}

var errorRules = []errorRule{
	{idempotencydomain.ErrMissingKey, http.StatusBadRequest, "validation_error", "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required", ""},
	{idempotencydomain.ErrInvalidKey, http.StatusBadRequest, "validation_error", "INVALID_IDEMPOTENCY_KEY", "Idempotency-Key must be a valid UUID v4", ""},
	{idempotencydomain.ErrKeyReused, http.StatusUnprocessableEntity, "conflict", "IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was already used for a different request", ""},
	{subscriptiondomain.ErrDuplicatePurchase, http.StatusUnprocessableEntity, "conflict", "IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was already used for a different purchase", ""},
	{idempotencydomain.ErrRequestInProgress, http.StatusConflict, "conflict", "REQUEST_IN_PROGRESS", "A request with this idempotency key is already being processed", ""},
	{ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "RATE_LIMITED", "Too many purchase attempts, retry later", ""},

	{plandomain.ErrPlanNotFound, http.StatusNotFound, "not_found", "PLAN_NOT_FOUND", "Plan not found", ""},
	{plandomain.ErrPlanInactive, http.StatusBadRequest, "invalid_state", "PLAN_INACTIVE", "Plan is not available for purchase", ""},
	{plandomain.ErrPlanSoldOut, http.StatusConflict, "conflict", "PLAN_SOLD_OUT", "Plan has no subscriptions left", ""},
	{plandomain.ErrPlanNameTaken, http.StatusConflict, "conflict", "PLAN_NAME_TAKEN", "A plan with this name already exists", ""},
	{plandomain.ErrPlanHasSubscriptions, http.StatusBadRequest, "invalid_state", "PLAN_HAS_SUBSCRIPTIONS", "Plan still has active or pending subscriptions", ""},
	{plandomain.ErrCapacityBelowSold, http.StatusBadRequest, "invalid_state", "CAPACITY_BELOW_SOLD", "Capacity cannot be lower than the seats already sold", ""},

	{subscriptiondomain.ErrPaymentFailed, http.StatusPaymentRequired, "payment_error", "PAYMENT_FAILED", "Payment processing failed", ""},
	{paymentdomain.ErrPaymentDeclined, http.StatusPaymentRequired, "payment_error", "PAYMENT_FAILED", "Payment processing failed", ""},
	{subscriptiondomain.ErrSubscriptionNotFound, http.StatusNotFound, "not_found", "SUBSCRIPTION_NOT_FOUND", "Subscription not found", ""},
	{subscriptiondomain.ErrAlreadyCancelled, http.StatusBadRequest, "invalid_state", "ALREADY_CANCELLED", "Subscription is already cancelled", ""},
	{subscriptiondomain.ErrSubscriptionNotActive, http.StatusBadRequest, "invalid_state", "SUBSCRIPTION_NOT_ACTIVE", "Only active subscriptions can be cancelled", ""},

	{customerdomain.ErrNotFound, http.StatusNotFound, "not_found", "CUSTOMER_NOT_FOUND", "Customer not found", ""},
	{customerdomain.ErrEmailTaken, http.StatusConflict, "conflict", "CUSTOMER_EMAIL_TAKEN", "A customer with this email already exists", ""},

	{ErrInvalidRequest, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "Request body is malformed", "request"},
	{plandomain.ErrInvalidPlanID, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "planId is invalid", "planId"},
	{plandomain.ErrInvalidName, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "name must be 3 to 100 characters", "name"},
	{plandomain.ErrInvalidDescription, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "description must be 1 to 500 characters", "description"},
	{plandomain.ErrInvalidPrice, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "price_cents must not be negative", "price_cents"},
	{plandomain.ErrInvalidDuration, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "duration_days must be at least 1", "duration_days"},
	{plandomain.ErrInvalidCapacity, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "total_capacity must be at least 1", "total_capacity"},
	{plandomain.ErrInvalidStatus, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "status is invalid", "status"},
	{customerdomain.ErrInvalidCustomerID, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "customerId is invalid", "customerId"},
	{customerdomain.ErrInvalidName, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "name is required", "name"},
	{customerdomain.ErrInvalidEmail, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "email is invalid", "email"},
	{subscriptiondomain.ErrInvalidSubscriptionID, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "subscription id is invalid", "id"},
	{subscriptiondomain.ErrInvalidPaymentMethod, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "paymentMethodId is required", "paymentMethodId"},
	{subscriptiondomain.ErrInvalidStatus, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "status is invalid", "status"},
	{subscriptiondomain.ErrInvalidPagination, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "limit must be 1 to 100 and skip must not be negative", "limit"},
	{auditdomain.ErrInvalidTimeframe, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "timeframe must be one of 5m, 15m, 1h, 24h", "timeframe"},
	{auditdomain.ErrInvalidTraceID, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR", "traceId is required", "traceId"},

	{ErrNotFound, http.StatusNotFound, "not_found", "NOT_FOUND", "Route not found", ""},
	{gorm.ErrRecordNotFound, http.StatusNotFound, "not_found", "NOT_FOUND", "Resource not found", ""},
}

var internalError = errorPayload{
	Type:    "internal_error",
	Code:    "INTERNAL_ERROR",
	Message: "An unexpected error occurred",
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}
		renderError(c, lastErr.Err)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func renderError(c *gin.Context, err error) {
	status, payload := mapError(err)
	payload.TraceID = tracing.TraceID(c)
	c.AbortWithStatusJSON(status, errorResponse{Error: payload})
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalError
	}

	for _, rule := range errorRules {
		if !errors.Is(err, rule.target) {
			continue
		}
		payload := errorPayload{
			Type:    rule.kind,
			Code:    rule.code,
			Message: rule.message,
		}
		if rule.field != "" {
			payload.Details = map[string]any{"field": rule.field}
		}

		var paymentErr *subscriptiondomain.PaymentFailedError
		if errors.As(err, &paymentErr) {
			payload.Details = map[string]any{
				"subscriptionId": paymentErr.SubscriptionID,
				"originalError":  paymentErr.Reason,
			}
		}
		return rule.status, payload
	}
	return http.StatusInternalServerError, internalError
}

// classifyErrorForLog feeds the request logger.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
