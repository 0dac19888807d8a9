package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
)

func (s *Server) RecentAuditLogs(c *gin.Context) {
	var query auditdomain.RecentRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.auditSvc.Recent(c.Request.Context(), auditdomain.RecentRequest{
		Limit:        query.Limit,
		Action:       strings.TrimSpace(query.Action),
		ResourceType: strings.TrimSpace(query.ResourceType),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp, "count": len(resp)})
}

func (s *Server) AuditLogStats(c *gin.Context) {
	resp, err := s.auditSvc.Stats(c.Request.Context(), c.Query("timeframe"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AuditLogsByTrace(c *gin.Context) {
	traceID := strings.TrimSpace(c.Param("traceId"))
	resp, err := s.auditSvc.ByTrace(c.Request.Context(), traceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp, "traceId": traceID, "count": len(resp)})
}
