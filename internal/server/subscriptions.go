package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/seatledger/internal/observability/tracing"
	subscriptiondomain "github.com/smallbiznis/seatledger/internal/subscription/domain"
)

type cancelSubscriptionRequest struct {
	CustomerID string `json:"customerId"`
}

func (s *Server) PurchaseSubscription(c *gin.Context) {
	var req subscriptiondomain.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subscriptionSvc.Purchase(c.Request.Context(), subscriptiondomain.PurchaseRequest{
		PlanID:          strings.TrimSpace(req.PlanID),
		CustomerID:      strings.TrimSpace(req.CustomerID),
		PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		AutoRenew:       req.AutoRenew,
		TraceID:         tracing.TraceID(c),
		IdempotencyKey:  c.GetString(ctxIdempotencyKey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(ctxResourceID, resp.ID)
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetSubscription(c *gin.Context) {
	resp, err := s.subscriptionSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subscriptionSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelRequest{
		SubscriptionID: strings.TrimSpace(c.Param("id")),
		CustomerID:     strings.TrimSpace(req.CustomerID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(ctxResourceID, resp.ID)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
