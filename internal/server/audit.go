package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	"github.com/smallbiznis/quotaguard/pkg/db/pagination"
)

type auditHistoryQuery struct {
	pagination.Pagination
	Field string `form:"field"`
}

// GetAuditHistory lists a principal's field changes newest first with
// keyset pagination.
func (s *Server) GetAuditHistory(c *gin.Context) {
	principalID, ok := s.principalIDParam(c)
	if !ok {
		return
	}

	var query auditHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_request", "invalid query parameters"))
		return
	}

	resp, err := s.auditSvc.History(c.Request.Context(), auditdomain.HistoryRequest{
		Pagination:  query.Pagination,
		PrincipalID: principalID,
		FieldName:   query.Field,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
