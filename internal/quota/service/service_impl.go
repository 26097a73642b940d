package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/entitlement"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/smallbiznis/quotaguard/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Write contention on a single principal's counter row is retried a small
// fixed number of times before surfacing as a transient failure.
const maxConflictAttempts = 3

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     quotadomain.Repository
	Resolver *entitlement.Resolver
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     quotadomain.Repository
	resolver *entitlement.Resolver
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) quotadomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("quota.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		resolver: p.Resolver,
		metrics:  p.Metrics,
	}
}

func (s *Service) Evaluate(ctx context.Context, principalID snowflake.ID) (quotadomain.Decision, error) {
	principal, err := s.livePrincipal(ctx, s.db, principalID)
	if err != nil {
		return quotadomain.Decision{}, err
	}
	policy := s.resolver.Resolve(principal)

	counter, found, err := s.repo.Get(ctx, s.db, principalID)
	if err != nil {
		return quotadomain.Decision{}, err
	}
	now := s.clock.Now()
	if !found {
		counter = quotadomain.NewCounter(principalID, now)
	}
	counter.Rollover(now)

	decision := buildDecision(counter, policy, 0)
	s.recordDecision(ctx, decision)
	return decision, nil
}

func (s *Service) CheckAndIncrement(ctx context.Context, principalID snowflake.ID) (quotadomain.Decision, error) {
	var decision quotadomain.Decision
	var err error
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		decision, err = s.checkAndIncrementOnce(ctx, principalID)
		if err == nil {
			s.recordDecision(ctx, decision)
			return decision, nil
		}
		if !db.IsTransientConflictErr(err) && !db.IsDuplicateKeyErr(err) {
			return quotadomain.Decision{}, err
		}
		s.log.Debug("counter write conflict, retrying",
			zap.String("principal_id", principalID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
	}
	s.log.Warn("counter write conflict retries exhausted",
		zap.String("principal_id", principalID.String()),
		zap.Error(err),
	)
	return quotadomain.Decision{}, quotadomain.ErrStoreConflict
}

func (s *Service) checkAndIncrementOnce(ctx context.Context, principalID snowflake.ID) (quotadomain.Decision, error) {
	var decision quotadomain.Decision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		principal, err := s.livePrincipal(ctx, tx, principalID)
		if err != nil {
			return err
		}
		policy := s.resolver.Resolve(principal)

		counter, found, err := s.repo.GetLocked(ctx, tx, principalID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if !found {
			counter = quotadomain.NewCounter(principalID, now)
			if err := s.repo.Create(ctx, tx, &counter); err != nil {
				return err
			}
		}
		rolled := counter.Rollover(now)

		increment := int64(0)
		if policy.Bypass {
			increment = 1
		} else if counter.DailyCount < policy.DailyLimit && counter.MonthlyCount < policy.MonthlyLimit {
			increment = 1
		}

		if increment > 0 {
			counter.DailyCount += increment
			counter.MonthlyCount += increment
		}
		if increment > 0 || rolled {
			if err := s.repo.Save(ctx, tx, &counter); err != nil {
				return err
			}
		}

		decision = buildDecision(counter, policy, increment)
		return nil
	})
	if err != nil {
		return quotadomain.Decision{}, err
	}
	return decision, nil
}

// livePrincipal reads the row inside the current operation; entitlement
// decisions must never rely on a role cached earlier in the session.
func (s *Service) livePrincipal(ctx context.Context, conn *gorm.DB, principalID snowflake.ID) (principaldomain.Principal, error) {
	var principal principaldomain.Principal
	err := conn.WithContext(ctx).First(&principal, "id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return principaldomain.Principal{}, principaldomain.ErrNotFound
	}
	if err != nil {
		return principaldomain.Principal{}, err
	}
	if principal.Expired() {
		return principaldomain.Principal{}, principaldomain.ErrGone
	}
	return principal, nil
}

// buildDecision evaluates the post-state. increment carries whether this
// call already consumed a unit, so allowed reflects that consumption.
func buildDecision(counter quotadomain.Counter, policy entitlement.Policy, increment int64) quotadomain.Decision {
	if policy.Bypass {
		return quotadomain.Decision{
			Allowed: true,
			Bypass:  true,
			ResetAt: counter.DailyResetAt(),
		}
	}

	dailyRemaining := policy.DailyLimit - counter.DailyCount
	monthlyRemaining := policy.MonthlyLimit - counter.MonthlyCount
	remaining := dailyRemaining
	resetAt := counter.DailyResetAt()
	if monthlyRemaining < dailyRemaining {
		remaining = monthlyRemaining
		resetAt = counter.MonthlyResetAt()
	}
	if remaining < 0 {
		remaining = 0
	}

	allowed := increment > 0
	if increment == 0 {
		allowed = remaining > 0
	}

	return quotadomain.Decision{
		Allowed:     allowed,
		Remaining:   remaining,
		ResetAt:     resetAt,
		UsedPercent: usedPercent(counter.DailyCount, policy.DailyLimit),
	}
}

// usedPercent is clamped for display; after a demotion the stored count
// may legitimately exceed the new limit.
func usedPercent(count, limit int64) int {
	if limit <= 0 {
		return 100
	}
	percent := int(count * 100 / limit)
	if percent > 100 {
		return 100
	}
	return percent
}

func (s *Service) recordDecision(ctx context.Context, decision quotadomain.Decision) {
	if s.metrics == nil {
		return
	}
	switch {
	case decision.Bypass:
		s.metrics.RecordQuotaDecision(ctx, "bypass")
	case decision.Allowed:
		s.metrics.RecordQuotaDecision(ctx, "allowed")
	default:
		s.metrics.RecordQuotaDecision(ctx, "denied")
	}
}
