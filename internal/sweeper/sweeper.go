// Package sweeper runs the background retention jobs: marking principals
// whose grace window elapsed and pruning the audit archive.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	"github.com/smallbiznis/quotaguard/internal/authorization"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/cloudmetrics"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	"github.com/smallbiznis/quotaguard/internal/retention"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

const sweepLeaseName = "retention"

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	RetentionSvc *retention.Service
	AuditSvc     auditdomain.Service
	AuthzSvc     authorization.Service
	Limiter      *ratelimit.RequestLimiter `optional:"true"`
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
}

type Sweeper struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	retentionSvc *retention.Service
	auditSvc     auditdomain.Service
	authzSvc     authorization.Service
	limiter      *ratelimit.RequestLimiter
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.RetentionSvc == nil || p.AuditSvc == nil || p.AuthzSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Sweeper{
		db:           p.DB,
		log:          p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		retentionSvc: p.RetentionSvc,
		auditSvc:     p.AuditSvc,
		authzSvc:     p.AuthzSvc,
		limiter:      p.Limiter,
	}, nil
}

func (s *Sweeper) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	sweepMetrics := obsmetrics.Sweeper()
	sweepMetrics.IncJobRun(name)

	err := fn(ctx)
	sweepMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		sweepMetrics.IncJobTimeout(name)
	}
	sweepMetrics.IncJobError(name, err)
	cloudmetrics.RecordEngineError(name)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	token, acquired, err := s.acquireLease(parent)
	if err != nil {
		return err
	}
	if !acquired {
		obsmetrics.Sweeper().IncBatchDeferred("expire_overdue", obsmetrics.SweeperBatchDeferredReasonLeaseHeld)
		return nil
	}
	defer s.releaseLease(parent, token)

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"expire_overdue", func(ctx context.Context) error {
			return s.runJob(ctx, "expire_overdue", s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireOverdueJob)
		}},
		{"prune_archive", func(ctx context.Context) error {
			return s.runJob(ctx, "prune_archive", s.cfg.BatchSize, s.cfg.JobTimeout, s.PruneArchiveJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	sweepMetrics := obsmetrics.Sweeper()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			sweepMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweeper run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireOverdueJob soft-deletes principals whose restore window closed.
// Batches keep claiming until the sweep drains or the deadline hits.
func (s *Sweeper) ExpireOverdueJob(ctx context.Context) error {
	ctx, run, _ := s.ensureJobRun(ctx, "expire_overdue", s.cfg.BatchSize)

	if err := s.authzSvc.Authorize(ctx, "system", authorization.ObjectRetention, authorization.ActionRetentionExpire); err != nil {
		return err
	}

	sweepMetrics := obsmetrics.Sweeper()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		lockStart := s.clock.Now()
		expired, err := s.retentionSvc.SweepExpired(ctx, s.cfg.BatchSize)
		sweepMetrics.ObserveDBLockWait(obsmetrics.LockResourcePrincipalsForExpiry, time.Since(lockStart))
		if err != nil {
			run.IncError()
			return err
		}
		if expired == 0 {
			sweepMetrics.IncBatchDeferred("expire_overdue", obsmetrics.SweeperBatchDeferredReasonSkipLockedEmpty)
			return nil
		}
		run.AddProcessed(int(expired))
		sweepMetrics.AddBatchProcessed("expire_overdue", obsmetrics.LockResourcePrincipalsForExpiry, int(expired))
		if expired < int64(s.cfg.BatchSize) {
			return nil
		}
	}
}

// PruneArchiveJob enforces the archive retention window.
func (s *Sweeper) PruneArchiveJob(ctx context.Context) error {
	ctx, run, _ := s.ensureJobRun(ctx, "prune_archive", s.cfg.BatchSize)

	pruned, err := s.auditSvc.PruneArchive(ctx, s.cfg.ArchiveRetentionDays)
	if err != nil {
		run.IncError()
		return err
	}
	run.AddProcessed(int(pruned))
	obsmetrics.Sweeper().AddBatchProcessed("prune_archive", "audit_entries_archive", int(pruned))
	return nil
}

func (s *Sweeper) acquireLease(ctx context.Context) (string, bool, error) {
	if !s.limiter.Enabled() {
		return "", true, nil
	}
	return s.limiter.TryLease(ctx, sweepLeaseName)
}

func (s *Sweeper) releaseLease(ctx context.Context, token string) {
	if token == "" || !s.limiter.Enabled() {
		return
	}
	if err := s.limiter.ReleaseLease(ctx, sweepLeaseName, token); err != nil {
		s.log.Warn("sweep lease release failed", zap.Error(err))
	}
}
