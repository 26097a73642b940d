package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")

	// ErrRestrictedDeletion guards compliance history: a principal row
	// cannot be physically removed while live entries reference it.
	ErrRestrictedDeletion = errors.New("restricted_deletion")
)

// HistoryRequest filters a principal's audit trail.
type HistoryRequest struct {
	pagination.Pagination
	PrincipalID snowflake.ID
	FieldName   string
}

type HistoryResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type Service interface {
	// History returns entries newest first, totally ordered by commit
	// time within the principal.
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)

	LiveCount(ctx context.Context, principalID snowflake.ID) (int64, error)

	// Archive moves every live entry for the principal into the cold
	// store inside the caller's transaction and returns how many moved.
	Archive(ctx context.Context, tx *gorm.DB, principalID snowflake.ID) (int64, error)

	// PruneArchive drops archived entries older than the retention
	// window. A zero window keeps the archive forever.
	PruneArchive(ctx context.Context, retentionDays int) (int64, error)
}

// Cursor positions keyset pagination over (created_at, id) descending.
type Cursor struct {
	CreatedAt string
	ID        snowflake.ID
}

type ListFilter struct {
	PrincipalID snowflake.ID
	FieldName   string
	Cursor      *Cursor
	Limit       int
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, entries []Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	CountForPrincipal(ctx context.Context, db *gorm.DB, principalID snowflake.ID) (int64, error)
	MoveToArchive(ctx context.Context, tx *gorm.DB, principalID snowflake.ID, archivedAt time.Time) (int64, error)
	DeleteArchivedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
