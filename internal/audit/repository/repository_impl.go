package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, entries []domain.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&entries).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{}).
		Where("principal_id = ?", filter.PrincipalID)

	if field := strings.TrimSpace(filter.FieldName); field != "" {
		stmt = stmt.Where("field_name = ?", field)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) CountForPrincipal(ctx context.Context, db *gorm.DB, principalID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Entry{}).
		Where("principal_id = ?", principalID).
		Count(&count).Error
	return count, err
}

// MoveToArchive copies live entries to the archive table and deletes the
// originals. Both statements share the caller's transaction so a partial
// move is never observable.
func (r *repo) MoveToArchive(ctx context.Context, tx *gorm.DB, principalID snowflake.ID, archivedAt time.Time) (int64, error) {
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO audit_entries_archive (
			id, principal_id, principal_email, field_name, old_value, new_value,
			change_type, actor_id, reason, metadata, created_at, archived_at
		)
		SELECT id, principal_id, principal_email, field_name, old_value, new_value,
		       change_type, actor_id, reason, metadata, created_at, ?
		FROM audit_entries
		WHERE principal_id = ?`,
		archivedAt,
		principalID,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	moved := res.RowsAffected

	if err := tx.WithContext(ctx).Exec(
		`DELETE FROM audit_entries WHERE principal_id = ?`,
		principalID,
	).Error; err != nil {
		return 0, err
	}
	return moved, nil
}

func (r *repo) DeleteArchivedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("archived_at < ?", cutoff).
		Delete(&domain.ArchivedEntry{})
	return res.RowsAffected, res.Error
}
