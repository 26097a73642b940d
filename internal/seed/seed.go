// Package seed bootstraps the first privileged principal on a fresh
// install so role changes and purges can be performed without manual SQL.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	"gorm.io/gorm"
)

// EnsureSuperAdmin inserts a verified superadmin principal with the given
// email unless one already exists. Idempotent across restarts.
func EnsureSuperAdmin(db *gorm.DB, node *snowflake.Node, email string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}
	if email == "" {
		return errors.New("seed superadmin email is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.WithContext(ctx).
			Model(&principaldomain.Principal{}).
			Where("role = ? AND deleted_at IS NULL", principaldomain.RoleSuperAdmin).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		admin := principaldomain.Principal{
			ID:       node.Generate(),
			Email:    email,
			Role:     principaldomain.RoleSuperAdmin,
			Tier:     "internal",
			Verified: true,
		}
		return tx.WithContext(ctx).Create(&admin).Error
	})
}
