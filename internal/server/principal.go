package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaguard/internal/auditctx"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
)

type updateRoleRequest struct {
	Role   string `json:"role" binding:"required"`
	Reason string `json:"reason"`
}

// UpdateRole changes a principal's role. The audit entry is produced by
// the store-level capture hook when the row is written.
func (s *Server) UpdateRole(c *gin.Context) {
	principalID, ok := s.principalIDParam(c)
	if !ok {
		return
	}

	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("role", "invalid_request", "role is required"))
		return
	}

	updated, err := s.principalSvc.UpdateRole(c.Request.Context(), principaldomain.UpdateRoleRequest{
		PrincipalID: principalID,
		NewRole:     req.Role,
		ActorID:     auditctx.ActorIDFromContext(c.Request.Context()),
		Reason:      req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}
