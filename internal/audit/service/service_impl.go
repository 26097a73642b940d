package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPageSize = 50

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) History(ctx context.Context, req auditdomain.HistoryRequest) (auditdomain.HistoryResponse, error) {
	limit := req.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	var cursor *auditdomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.HistoryResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil {
			return auditdomain.HistoryResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.Cursor{CreatedAt: decoded.CreatedAt, ID: id}
	}

	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		PrincipalID: req.PrincipalID,
		FieldName:   req.FieldName,
		Cursor:      cursor,
		Limit:       limit,
	})
	if err != nil {
		return auditdomain.HistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(limit), func(e *auditdomain.Entry) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        e.ID.String(),
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02 15:04:05.999999999"),
		})
		return token
	})

	if len(rows) > limit {
		rows = rows[:limit]
	}
	entries := make([]auditdomain.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, *row)
	}

	return auditdomain.HistoryResponse{
		PageInfo: *pageInfo,
		Entries:  entries,
	}, nil
}

func (s *Service) LiveCount(ctx context.Context, principalID snowflake.ID) (int64, error) {
	return s.repo.CountForPrincipal(ctx, s.db, principalID)
}

func (s *Service) Archive(ctx context.Context, tx *gorm.DB, principalID snowflake.ID) (int64, error) {
	moved, err := s.repo.MoveToArchive(ctx, tx, principalID, s.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	s.log.Info("audit history archived",
		zap.String("principal_id", principalID.String()),
		zap.Int64("entries", moved),
	)
	return moved, nil
}

func (s *Service) PruneArchive(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -retentionDays)
	pruned, err := s.repo.DeleteArchivedBefore(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.log.Info("archived audit entries pruned",
			zap.Int("retention_days", retentionDays),
			zap.Int64("entries", pruned),
		)
	}
	return pruned, nil
}
