package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/smallbiznis/quotaguard/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, conn *gorm.DB, principalID snowflake.ID) (domain.Counter, bool, error) {
	var counter domain.Counter
	err := conn.WithContext(ctx).First(&counter, "principal_id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Counter{}, false, nil
	}
	if err != nil {
		return domain.Counter{}, false, err
	}
	return counter, true, nil
}

func (r *repo) GetLocked(ctx context.Context, tx *gorm.DB, principalID snowflake.ID) (domain.Counter, bool, error) {
	stmt := tx.WithContext(ctx)
	if db.SupportsRowLocking(tx) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var counter domain.Counter
	err := stmt.First(&counter, "principal_id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Counter{}, false, nil
	}
	if err != nil {
		return domain.Counter{}, false, err
	}
	return counter, true, nil
}

func (r *repo) Create(ctx context.Context, tx *gorm.DB, counter *domain.Counter) error {
	return tx.WithContext(ctx).Create(counter).Error
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, counter *domain.Counter) error {
	return tx.WithContext(ctx).
		Model(&domain.Counter{}).
		Where("principal_id = ?", counter.PrincipalID).
		Updates(map[string]any{
			"daily_count":          counter.DailyCount,
			"daily_period_start":   counter.DailyPeriodStart,
			"monthly_count":        counter.MonthlyCount,
			"monthly_period_start": counter.MonthlyPeriodStart,
		}).Error
}

func (r *repo) Delete(ctx context.Context, tx *gorm.DB, principalID snowflake.ID) error {
	return tx.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Delete(&domain.Counter{}).Error
}
