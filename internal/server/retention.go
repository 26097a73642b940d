package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaguard/internal/auditctx"
	"github.com/smallbiznis/quotaguard/internal/cloudmetrics"
)

type scheduleDeletionRequest struct {
	Reason string `json:"reason"`
}

// ScheduleDeletion starts the grace window for account deletion. The row
// stays readable until the window lapses.
func (s *Server) ScheduleDeletion(c *gin.Context) {
	principalID, ok := s.principalIDParam(c)
	if !ok {
		return
	}

	var req scheduleDeletionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, newValidationError("reason", "invalid_request", "body must be a JSON object"))
			return
		}
	}

	actorID := auditctx.ActorIDFromContext(c.Request.Context())
	if err := s.retentionSvc.ScheduleDeletion(c.Request.Context(), principalID, actorID, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "deletion_scheduled"})
}

// RestoreAccount cancels a scheduled deletion while the grace window is
// still open.
func (s *Server) RestoreAccount(c *gin.Context) {
	principalID, ok := s.principalIDParam(c)
	if !ok {
		return
	}

	actorID := auditctx.ActorIDFromContext(c.Request.Context())
	if err := s.retentionSvc.RestoreAccount(c.Request.Context(), principalID, actorID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "restored"})
}

// ArchiveAndPurge moves the principal's audit trail to the archive and
// physically removes the row in one transaction.
func (s *Server) ArchiveAndPurge(c *gin.Context) {
	principalID, ok := s.principalIDParam(c)
	if !ok {
		return
	}

	actorID := auditctx.ActorIDFromContext(c.Request.Context())
	if err := s.retentionSvc.ArchiveAndPurge(c.Request.Context(), principalID, actorID); err != nil {
		AbortWithError(c, err)
		return
	}

	cloudmetrics.RecordRetentionPurge()
	c.JSON(http.StatusOK, gin.H{"status": "purged"})
}
