// Package domain contains the immutable field-change audit records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ChangeType classifies a field transition.
type ChangeType string

const (
	ChangeTypeUpdate  ChangeType = "update"
	ChangeTypeDelete  ChangeType = "delete"
	ChangeTypeRestore ChangeType = "restore"
)

// Entry is one committed change to one tracked field on one principal.
// Written once, never updated. PrincipalEmail is a write-time snapshot so
// identity stays resolvable after later email changes or archival.
//
// PrincipalID and ActorID are weak references by identifier only; the
// audit store owns Entry lifetime, which lets history outlive a
// soft-deleted principal.
type Entry struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	PrincipalID    snowflake.ID      `gorm:"not null;index:idx_audit_principal_created" json:"principal_id"`
	PrincipalEmail string            `gorm:"not null" json:"principal_email"`
	FieldName      string            `gorm:"type:text;not null;index" json:"field_name"`
	OldValue       *string           `gorm:"type:text" json:"old_value"`
	NewValue       *string           `gorm:"type:text" json:"new_value"`
	ChangeType     ChangeType        `gorm:"type:text;not null" json:"change_type"`
	ActorID        *snowflake.ID     `json:"actor_id,omitempty"`
	Reason         *string           `gorm:"type:text" json:"reason,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;index:idx_audit_principal_created" json:"created_at"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "audit_entries" }

// ArchivedEntry mirrors Entry in the cold store populated by
// archive-then-purge. Rows here are outside the live purge guard.
type ArchivedEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	PrincipalID    snowflake.ID      `gorm:"not null;index" json:"principal_id"`
	PrincipalEmail string            `gorm:"not null" json:"principal_email"`
	FieldName      string            `gorm:"type:text;not null" json:"field_name"`
	OldValue       *string           `gorm:"type:text" json:"old_value"`
	NewValue       *string           `gorm:"type:text" json:"new_value"`
	ChangeType     ChangeType        `gorm:"type:text;not null" json:"change_type"`
	ActorID        *snowflake.ID     `json:"actor_id,omitempty"`
	Reason         *string           `gorm:"type:text" json:"reason,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	ArchivedAt     time.Time         `gorm:"not null" json:"archived_at"`
}

// TableName sets the database table name.
func (ArchivedEntry) TableName() string { return "audit_entries_archive" }
