package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"go.uber.org/zap"
)

// PurchaseRateLimit throttles purchase attempts per client IP. It sits after
// the idempotency lookup so replays of finished requests are never throttled.
func (s *Server) PurchaseRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		result, err := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			// Fail open.
			logger.WithContext(c.Request.Context(), s.log).Warn("purchase rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			s.metrics.RecordRateLimitDenied()
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
