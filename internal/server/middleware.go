package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaguard/internal/auditctx"
	obscontext "github.com/smallbiznis/quotaguard/internal/observability/context"
)

const (
	headerActorID    = "X-Actor-Id"
	headerRetryAfter = "Retry-After"

	actorSystem = "system"
)

// ActorContext resolves the acting principal from X-Actor-Id and stamps it
// into the request context for audit attribution and authorization.
// Identity verification happens upstream, the header is trusted here.
func (s *Server) ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(headerActorID)
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		if raw == actorSystem {
			ctx = obscontext.WithActor(ctx, actorSystem, actorSystem)
			ctx = auditctx.WithActorLabel(ctx, actorSystem)
		} else {
			id, err := parseSnowflake(raw)
			if err != nil {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			ctx = obscontext.WithActor(ctx, "principal", id.String())
			ctx = auditctx.WithActorID(ctx, &id)
		}

		c.Set(contextKeyActor, raw)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

const contextKeyActor = "quotaguard.actor"

// actorSubject returns the casbin subject for the request actor.
func actorSubject(c *gin.Context) string {
	raw, _ := c.Get(contextKeyActor)
	actor, _ := raw.(string)
	if actor == "" {
		return ""
	}
	if actor == actorSystem {
		return actorSystem
	}
	return "principal:" + actor
}

// authorizeAction enforces the RBAC policy for a single object/action pair.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := actorSubject(c)
		if subject == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), subject, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RequestRateLimit applies the per-principal and per-endpoint token buckets.
// When the limiter is not configured requests pass through untouched.
func (s *Server) RequestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := c.FullPath()

		if res, err := s.limiter.AllowPrincipal(ctx, c.Param("principal_id")); err == nil && !res.Allowed {
			s.recordRateLimitDenied(c, endpoint, "principal_bucket", res.RetryAfter.Seconds())
			return
		}

		if res, err := s.limiter.AllowEndpoint(ctx, endpoint); err == nil && !res.Allowed {
			s.recordRateLimitDenied(c, endpoint, "endpoint_bucket", res.RetryAfter.Seconds())
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		}
		c.Next()
	}
}

func (s *Server) recordRateLimitDenied(c *gin.Context, endpoint, reason string, retryAfter float64) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), endpoint, reason)
	}
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header(headerRetryAfter, strconv.Itoa(int(retryAfter)))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
		Type:    "rate_limited",
		Message: "too many requests",
	}})
}

func parseSnowflake(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse snowflake %q: %w", raw, err)
	}
	return id, nil
}
