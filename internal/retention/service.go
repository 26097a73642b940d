// Package retention enforces the principal deletion state machine:
// soft-delete with a restore window, an idempotent expiry sweep, and the
// archive-then-purge path that is the only way audit history leaves the
// live store.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	"github.com/smallbiznis/quotaguard/internal/audit/masking"
	"github.com/smallbiznis/quotaguard/internal/auditctx"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/events"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/smallbiznis/quotaguard/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrAlreadyScheduled = errors.New("deletion_already_scheduled")

	// ErrRestoreWindowClosed covers both a missing schedule and an
	// elapsed grace deadline.
	ErrRestoreWindowClosed = errors.New("restore_window_closed")
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	AuditSvc  auditdomain.Service
	QuotaRepo quotadomain.Repository
	Publisher events.Publisher
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	grace     time.Duration
	auditSvc  auditdomain.Service
	quotaRepo quotadomain.Repository
	publisher events.Publisher
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("retention.service"),
		clock:     p.Clock,
		grace:     p.Config.RetentionGracePeriod,
		auditSvc:  p.AuditSvc,
		quotaRepo: p.QuotaRepo,
		publisher: p.Publisher,
	}
}

// ScheduleDeletion starts the grace countdown. The timestamp change is a
// tracked field, so the capture hook audits it in the same transaction.
func (s *Service) ScheduleDeletion(ctx context.Context, principalID snowflake.ID, actorID *snowflake.ID, reason string) error {
	principal, err := s.get(ctx, principalID)
	if err != nil {
		return err
	}
	if principal.Expired() {
		return principaldomain.ErrGone
	}
	if principal.DeletionScheduledAt != nil {
		return ErrAlreadyScheduled
	}

	purgeAfter := s.clock.Now().Add(s.grace)
	ctx = auditctx.WithActorID(ctx, actorID)
	ctx = auditctx.WithReason(ctx, reason)

	err = s.db.WithContext(ctx).
		Model(&principaldomain.Principal{}).
		Where("id = ? AND deletion_scheduled_at IS NULL AND deleted_at IS NULL", principalID).
		Update("deletion_scheduled_at", purgeAfter).Error
	if err != nil {
		return err
	}

	s.log.Info("deletion scheduled",
		zap.String("principal_id", principalID.String()),
		zap.String("email", masking.MaskSecret(principal.Email)),
		zap.Time("purge_after", purgeAfter),
	)
	s.publisher.Publish(ctx, events.DeletionScheduled{
		PrincipalID: principalID,
		PurgeAfter:  purgeAfter,
	})
	return nil
}

// RestoreAccount is valid only while the schedule is set and the deadline
// has not passed.
func (s *Service) RestoreAccount(ctx context.Context, principalID snowflake.ID, actorID *snowflake.ID) error {
	principal, err := s.get(ctx, principalID)
	if err != nil {
		return err
	}
	if principal.Expired() {
		return principaldomain.ErrGone
	}
	if principal.DeletionScheduledAt == nil || !s.clock.Now().Before(*principal.DeletionScheduledAt) {
		return ErrRestoreWindowClosed
	}

	ctx = auditctx.WithActorID(ctx, actorID)

	err = s.db.WithContext(ctx).
		Model(&principaldomain.Principal{}).
		Where("id = ? AND deletion_scheduled_at IS NOT NULL AND deleted_at IS NULL", principalID).
		Update("deletion_scheduled_at", nil).Error
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.AccountRestored{PrincipalID: principalID})
	return nil
}

// SweepExpired marks principals whose grace deadline passed without a
// restore. It only acts on rows matching the time predicate and is a
// no-op once applied, so concurrent or repeated runs are safe.
func (s *Service) SweepExpired(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	now := s.clock.Now()
	ctx = auditctx.WithActorLabel(ctx, "system/sweeper")

	var expired int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := s.claimExpired(ctx, tx, now, batchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.WithContext(ctx).
			Model(&principaldomain.Principal{}).
			Where("id IN ? AND deleted_at IS NULL", ids).
			Update("deleted_at", now)
		if res.Error != nil {
			return res.Error
		}
		expired = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("expired principals swept", zap.Int64("count", expired))
	}
	return expired, nil
}

// ArchiveAndPurge migrates the principal's audit history to the archive
// store, then physically removes the row. Without the archive step the
// store-level guard rejects the delete.
func (s *Service) ArchiveAndPurge(ctx context.Context, principalID snowflake.ID, actorID *snowflake.ID) error {
	if _, err := s.get(ctx, principalID); err != nil {
		return err
	}

	ctx = auditctx.WithActorID(ctx, actorID)

	var archived int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		archived, err = s.auditSvc.Archive(ctx, tx, principalID)
		if err != nil {
			return err
		}
		if err := s.quotaRepo.Delete(ctx, tx, principalID); err != nil {
			return err
		}
		return tx.WithContext(ctx).
			Where("id = ?", principalID).
			Delete(&principaldomain.Principal{}).Error
	})
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.PrincipalPurged{
		PrincipalID:     principalID,
		ArchivedEntries: archived,
	})
	return nil
}

func (s *Service) get(ctx context.Context, principalID snowflake.ID) (principaldomain.Principal, error) {
	var principal principaldomain.Principal
	err := s.db.WithContext(ctx).First(&principal, "id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return principaldomain.Principal{}, principaldomain.ErrNotFound
	}
	if err != nil {
		return principaldomain.Principal{}, err
	}
	return principal, nil
}

func (s *Service) claimExpired(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	if db.SupportsRowLocking(tx) {
		err := tx.WithContext(ctx).Raw(
			`SELECT id FROM principals
			 WHERE deletion_scheduled_at <= ? AND deleted_at IS NULL
			 ORDER BY id
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			now,
			limit,
		).Scan(&ids).Error
		return ids, err
	}

	err := tx.WithContext(ctx).
		Model(&principaldomain.Principal{}).
		Where("deletion_scheduled_at <= ? AND deleted_at IS NULL", now).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
