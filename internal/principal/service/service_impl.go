package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/internal/auditctx"
	"github.com/smallbiznis/quotaguard/internal/events"
	"github.com/smallbiznis/quotaguard/internal/principal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	Publisher events.Publisher
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	publisher events.Publisher
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("principal.service"),
		repo:      p.Repo,
		publisher: p.Publisher,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Principal, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, p *domain.Principal) error {
	return s.repo.Insert(ctx, p)
}

func (s *Service) UpdateRole(ctx context.Context, req domain.UpdateRoleRequest) (domain.Principal, error) {
	role, ok := domain.ParseRole(req.NewRole)
	if !ok {
		return domain.Principal{}, domain.ErrUnknownRole
	}

	current, err := s.repo.Get(ctx, req.PrincipalID)
	if err != nil {
		return domain.Principal{}, err
	}
	if current.Expired() {
		return domain.Principal{}, domain.ErrGone
	}

	ctx = auditctx.WithActorID(ctx, req.ActorID)
	ctx = auditctx.WithReason(ctx, strings.TrimSpace(req.Reason))

	if err := s.repo.UpdateFields(ctx, req.PrincipalID, map[string]any{"role": role}); err != nil {
		return domain.Principal{}, err
	}

	updated, err := s.repo.Get(ctx, req.PrincipalID)
	if err != nil {
		return domain.Principal{}, err
	}

	if current.Role != updated.Role {
		s.publisher.Publish(ctx, events.RoleChanged{
			PrincipalID: updated.ID,
			OldRole:     string(current.Role),
			NewRole:     string(updated.Role),
			ActorID:     req.ActorID,
		})
	}
	return updated, nil
}

func (s *Service) UpdateProfile(ctx context.Context, req domain.UpdateProfileRequest) (domain.Principal, error) {
	current, err := s.repo.Get(ctx, req.PrincipalID)
	if err != nil {
		return domain.Principal{}, err
	}
	if current.Expired() {
		return domain.Principal{}, domain.ErrGone
	}

	fields := map[string]any{}
	if req.Email != nil {
		fields["email"] = strings.TrimSpace(*req.Email)
	}
	if req.FirstName != nil {
		fields["first_name"] = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		fields["last_name"] = strings.TrimSpace(*req.LastName)
	}
	if req.Tier != nil {
		fields["tier"] = strings.TrimSpace(*req.Tier)
	}
	if req.Verified != nil {
		fields["verified"] = *req.Verified
	}
	if len(fields) == 0 {
		return current, nil
	}

	ctx = auditctx.WithActorID(ctx, req.ActorID)
	ctx = auditctx.WithReason(ctx, strings.TrimSpace(req.Reason))

	if err := s.repo.UpdateFields(ctx, req.PrincipalID, fields); err != nil {
		return domain.Principal{}, err
	}
	return s.repo.Get(ctx, req.PrincipalID)
}
