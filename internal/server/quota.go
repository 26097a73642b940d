package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaguard/internal/cloudmetrics"
)

func (s *Server) principalIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := parseSnowflake(c.Param("principal_id"))
	if err != nil {
		AbortWithError(c, newValidationError("principal_id", "invalid_principal_id", "principal id must be a snowflake id"))
		return 0, false
	}
	return id, true
}

// GetQuota answers "may this principal proceed" without consuming quota.
func (s *Server) GetQuota(c *gin.Context) {
	principalID, ok := s.principalIDParam(c)
	if !ok {
		return
	}

	decision, err := s.quotaSvc.Evaluate(c.Request.Context(), principalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordQuotaDecision(c.Request.Context(), decisionOutcome(decision.Allowed, decision.Bypass))
	}
	c.JSON(http.StatusOK, decision)
}

// RecordUsage consumes one unit of quota. Over-limit is a decision, not an
// error, so the 429 body carries the full decision with reset_at.
func (s *Server) RecordUsage(c *gin.Context) {
	principalID, ok := s.principalIDParam(c)
	if !ok {
		return
	}

	decision, err := s.quotaSvc.CheckAndIncrement(c.Request.Context(), principalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	outcome := decisionOutcome(decision.Allowed, decision.Bypass)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordQuotaDecision(c.Request.Context(), outcome)
	}
	cloudmetrics.RecordUsageUnit(outcome)

	if !decision.Allowed {
		if wait := time.Until(decision.ResetAt); wait > 0 {
			c.Header(headerRetryAfter, strconv.Itoa(int(wait.Seconds())+1))
		}
		c.JSON(http.StatusTooManyRequests, decision)
		return
	}

	c.JSON(http.StatusOK, decision)
}

func decisionOutcome(allowed, bypass bool) string {
	switch {
	case bypass:
		return "bypass"
	case allowed:
		return "allowed"
	default:
		return "denied"
	}
}
