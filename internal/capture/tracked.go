package capture

import (
	"strconv"
	"time"

	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
)

// trackedField maps one audited principal attribute to its string
// rendering. Adding a field to the capture list is one entry here plus a
// migration if the column is new.
type trackedField struct {
	Name  string
	Value func(p principaldomain.Principal) *string
}

var trackedFields = []trackedField{
	{Name: "role", Value: func(p principaldomain.Principal) *string { return strPtr(string(p.Role)) }},
	{Name: "email", Value: func(p principaldomain.Principal) *string { return strPtr(p.Email) }},
	{Name: "first_name", Value: func(p principaldomain.Principal) *string { return strPtr(p.FirstName) }},
	{Name: "last_name", Value: func(p principaldomain.Principal) *string { return strPtr(p.LastName) }},
	{Name: "tier", Value: func(p principaldomain.Principal) *string { return strPtr(p.Tier) }},
	{Name: "verified", Value: func(p principaldomain.Principal) *string { return strPtr(strconv.FormatBool(p.Verified)) }},
	{Name: "deletion_scheduled_at", Value: func(p principaldomain.Principal) *string { return timePtr(p.DeletionScheduledAt) }},
	{Name: "deleted_at", Value: func(p principaldomain.Principal) *string { return timePtr(p.DeletedAt) }},
}

// classifyChange maps a field transition to its audit change type.
// Scheduling deletion or expiring the row records "delete"; clearing a
// pending deletion records "restore"; everything else is "update".
func classifyChange(field string, oldValue, newValue *string) auditdomain.ChangeType {
	switch field {
	case "deletion_scheduled_at":
		if oldValue == nil && newValue != nil {
			return auditdomain.ChangeTypeDelete
		}
		if oldValue != nil && newValue == nil {
			return auditdomain.ChangeTypeRestore
		}
	case "deleted_at":
		if newValue != nil {
			return auditdomain.ChangeTypeDelete
		}
	}
	return auditdomain.ChangeTypeUpdate
}

func strPtr(s string) *string { return &s }

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339Nano)
	return &formatted
}

func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
