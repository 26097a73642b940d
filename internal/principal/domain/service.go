package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound    = errors.New("principal_not_found")
	ErrUnknownRole = errors.New("unknown_role")
	ErrGone        = errors.New("principal_expired")
)

// UpdateRoleRequest carries a role change with its audit attribution.
type UpdateRoleRequest struct {
	PrincipalID snowflake.ID
	NewRole     string
	ActorID     *snowflake.ID
	Reason      string
}

// UpdateProfileRequest mutates non-role tracked fields. Nil pointers leave
// the field untouched.
type UpdateProfileRequest struct {
	PrincipalID snowflake.ID
	Email       *string
	FirstName   *string
	LastName    *string
	Tier        *string
	Verified    *bool
	ActorID     *snowflake.ID
	Reason      string
}

type Service interface {
	// Get returns the live row. Callers must not cache the role across
	// entitlement decisions.
	Get(ctx context.Context, id snowflake.ID) (Principal, error)

	Create(ctx context.Context, p *Principal) error

	// UpdateRole rejects unknown roles before any write. The audit entry
	// is produced by the store-level capture hook, not here.
	UpdateRole(ctx context.Context, req UpdateRoleRequest) (Principal, error)

	UpdateProfile(ctx context.Context, req UpdateProfileRequest) (Principal, error)
}

type Repository interface {
	Get(ctx context.Context, id snowflake.ID) (Principal, error)
	Insert(ctx context.Context, p *Principal) error
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
}
