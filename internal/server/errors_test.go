package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	"github.com/smallbiznis/quotaguard/internal/authorization"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/smallbiznis/quotaguard/internal/retention"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{name: "nil", err: nil, wantStatus: http.StatusInternalServerError, wantType: "internal_error"},
		{name: "invalid_request", err: ErrInvalidRequest, wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "unknown_role", err: principaldomain.ErrUnknownRole, wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "invalid_page_token", err: auditdomain.ErrInvalidPageToken, wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "unauthorized", err: ErrUnauthorized, wantStatus: http.StatusUnauthorized, wantType: "unauthorized"},
		{name: "invalid_actor", err: authorization.ErrInvalidActor, wantStatus: http.StatusUnauthorized, wantType: "unauthorized"},
		{name: "forbidden", err: authorization.ErrForbidden, wantStatus: http.StatusForbidden, wantType: "forbidden"},
		{name: "restricted_deletion", err: auditdomain.ErrRestrictedDeletion, wantStatus: http.StatusConflict, wantType: "restricted_deletion"},
		{name: "already_scheduled", err: retention.ErrAlreadyScheduled, wantStatus: http.StatusConflict, wantType: "deletion_already_scheduled"},
		{name: "restore_window_closed", err: retention.ErrRestoreWindowClosed, wantStatus: http.StatusConflict, wantType: "restore_window_closed"},
		{name: "gone", err: principaldomain.ErrGone, wantStatus: http.StatusGone, wantType: "gone"},
		{name: "principal_not_found", err: principaldomain.ErrNotFound, wantStatus: http.StatusNotFound, wantType: "not_found"},
		{name: "record_not_found", err: gorm.ErrRecordNotFound, wantStatus: http.StatusNotFound, wantType: "not_found"},
		{name: "store_conflict", err: quotadomain.ErrStoreConflict, wantStatus: http.StatusServiceUnavailable, wantType: "service_unavailable"},
		{name: "wrapped_sentinel", err: fmt.Errorf("schedule: %w", retention.ErrAlreadyScheduled), wantStatus: http.StatusConflict, wantType: "deletion_already_scheduled"},
		{name: "unclassified", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantType: "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantType, payload.Type)
		})
	}
}

func TestMapError_ValidationDetails(t *testing.T) {
	status, payload := mapError(newValidationError("principal_id", "invalid_principal_id", "principal id must be a snowflake"))
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "principal_id", payload.Errors[0].Field)
	assert.Equal(t, "invalid_principal_id", payload.Errors[0].Code)

	status, payload = mapError(principaldomain.ErrUnknownRole)
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "role", payload.Errors[0].Field)
	assert.Equal(t, "unknown_role", payload.Errors[0].Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	kind, detail := classifyErrorForLog(principaldomain.ErrUnknownRole)
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "unknown_role", detail)

	kind, detail = classifyErrorForLog(errors.New("boom"))
	assert.Equal(t, "internal_error", kind)
	assert.Equal(t, "internal_error", detail)

	kind, detail = classifyErrorForLog(authorization.ErrForbidden)
	assert.Equal(t, "forbidden", kind)
	assert.Equal(t, "forbidden", detail)
}
