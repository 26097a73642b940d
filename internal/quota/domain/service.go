package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ErrStoreConflict surfaces when bounded retries on a counter write are
// exhausted. It is transient: the caller may safely retry. A normal
// over-limit outcome is a Decision, never an error.
var ErrStoreConflict = errors.New("transient_store_conflict")

// Decision is the typed outcome of a quota evaluation.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Bypass    bool      `json:"bypass"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`

	// UsedPercent is display-only and clamped to 100; the stored counts
	// underneath are never clamped.
	UsedPercent int `json:"used_percent"`
}

type Service interface {
	// Evaluate answers "may this proceed" without consuming quota.
	// The principal's role is read from the live store on every call.
	Evaluate(ctx context.Context, principalID snowflake.ID) (Decision, error)

	// CheckAndIncrement atomically re-checks the limit and consumes one
	// unit. Usage is recorded even under bypass, because privileged
	// traffic still feeds cost accounting; only enforcement is skipped.
	CheckAndIncrement(ctx context.Context, principalID snowflake.ID) (Decision, error)
}

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, principalID snowflake.ID) (Counter, bool, error)
	// GetLocked reads the counter under a row lock where the dialect
	// supports one. Contention is scoped to the single principal.
	GetLocked(ctx context.Context, tx *gorm.DB, principalID snowflake.ID) (Counter, bool, error)
	Create(ctx context.Context, tx *gorm.DB, counter *Counter) error
	Save(ctx context.Context, tx *gorm.DB, counter *Counter) error
	Delete(ctx context.Context, tx *gorm.DB, principalID snowflake.ID) error
}
