// Package domain contains the principal account model whose usage is
// metered and whose sensitive fields are audited.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role is the ordered privilege tier of a principal.
type Role string

const (
	RoleStandard   Role = "standard"
	RoleSupport    Role = "support"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleStandard:   0,
	RoleSupport:    1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// ParseRole normalizes a raw role string. ok is false for unknown roles.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := roleRank[role]
	return role, ok
}

// Known reports whether the role is part of the configured set.
func (r Role) Known() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above other. Unknown roles rank
// below every known role.
func (r Role) AtLeast(other Role) bool {
	rr, ok := roleRank[r]
	if !ok {
		return false
	}
	or, ok := roleRank[other]
	if !ok {
		return false
	}
	return rr >= or
}

// Roles returns the known role set ordered from least to most privileged.
func Roles() []Role {
	return []Role{RoleStandard, RoleSupport, RoleAdmin, RoleSuperAdmin}
}

// Principal is an account record. Identity issuance is external; this
// service reads the row and observes mutations to its tracked fields.
//
// DeletedAt is managed explicitly by the retention flow rather than by
// gorm soft-delete so that the transition goes through change capture.
type Principal struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	Email               string       `gorm:"not null;index" json:"email"`
	FirstName           string       `gorm:"column:first_name" json:"first_name,omitempty"`
	LastName            string       `gorm:"column:last_name" json:"last_name,omitempty"`
	Role                Role         `gorm:"type:text;not null;default:'standard'" json:"role"`
	Tier                string       `gorm:"type:text;not null;default:'free'" json:"tier"`
	Verified            bool         `gorm:"not null;default:false" json:"verified"`
	DeletionScheduledAt *time.Time   `gorm:"column:deletion_scheduled_at;index" json:"deletion_scheduled_at,omitempty"`
	DeletedAt           *time.Time   `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`
	CreatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Principal) TableName() string { return "principals" }

// Active reports whether the principal is neither scheduled for deletion
// nor expired.
func (p Principal) Active() bool {
	return p.DeletionScheduledAt == nil && p.DeletedAt == nil
}

// Expired reports whether the grace window elapsed without a restore.
func (p Principal) Expired() bool {
	return p.DeletedAt != nil
}
