package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectQuota     = "quota"
	ObjectUsage     = "usage"
	ObjectPrincipal = "principal"
	ObjectAuditLog  = "audit_log"
	ObjectRetention = "retention"
)

const (
	ActionQuotaView = "quota.view"

	ActionUsageRecord = "usage.record"

	ActionPrincipalUpdateRole = "principal.update_role"

	ActionAuditLogView = "audit_log.view"

	ActionRetentionSchedule = "retention.schedule"
	ActionRetentionRestore  = "retention.restore"
	ActionRetentionPurge    = "retention.purge"
	ActionRetentionExpire   = "retention.expire"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize resolves the actor's current role from the store on every call
// so a role change takes effect on the next request.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor)
	if err != nil {
		return err
	}

	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "principal:") {
		principalIDRaw := strings.TrimPrefix(actor, "principal:")
		principalID, err := snowflake.ParseString(principalIDRaw)
		if err != nil || principalID == 0 {
			return "", "", ErrInvalidActor
		}
		role, err := s.roleForPrincipal(ctx, principalID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForPrincipal(ctx context.Context, principalID snowflake.ID) (string, error) {
	var principal principaldomain.Principal
	err := s.db.WithContext(ctx).
		Select("role", "deleted_at").
		First(&principal, "id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrForbidden
	}
	if err != nil {
		return "", err
	}
	if principal.Expired() {
		return "", ErrForbidden
	}
	role := strings.TrimSpace(string(principal.Role))
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Standard principals act on their own account only; ownership is
		// checked by the handlers, casbin gates the capability.
		{"role:standard", ObjectQuota, ActionQuotaView},
		{"role:standard", ObjectUsage, ActionUsageRecord},
		{"role:standard", ObjectRetention, ActionRetentionSchedule},
		{"role:standard", ObjectRetention, ActionRetentionRestore},

		{"role:support", ObjectQuota, ActionQuotaView},
		{"role:support", ObjectUsage, ActionUsageRecord},
		{"role:support", ObjectRetention, ActionRetentionSchedule},
		{"role:support", ObjectRetention, ActionRetentionRestore},
		{"role:support", ObjectAuditLog, ActionAuditLogView},

		{"role:admin", ObjectQuota, ActionQuotaView},
		{"role:admin", ObjectUsage, ActionUsageRecord},
		{"role:admin", ObjectRetention, ActionRetentionSchedule},
		{"role:admin", ObjectRetention, ActionRetentionRestore},
		{"role:admin", ObjectRetention, ActionRetentionPurge},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectPrincipal, ActionPrincipalUpdateRole},

		{"role:superadmin", ObjectQuota, ActionQuotaView},
		{"role:superadmin", ObjectUsage, ActionUsageRecord},
		{"role:superadmin", ObjectRetention, ActionRetentionSchedule},
		{"role:superadmin", ObjectRetention, ActionRetentionRestore},
		{"role:superadmin", ObjectRetention, ActionRetentionPurge},
		{"role:superadmin", ObjectAuditLog, ActionAuditLogView},
		{"role:superadmin", ObjectPrincipal, ActionPrincipalUpdateRole},

		// Automated processes (expiry sweep, archive purge).
		{"role:system", ObjectRetention, ActionRetentionExpire},
		{"role:system", ObjectRetention, ActionRetentionPurge},
		{"role:system", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
