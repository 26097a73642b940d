package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/quotaguard/internal/audit"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	"github.com/smallbiznis/quotaguard/internal/authorization"
	"github.com/smallbiznis/quotaguard/internal/capture"
	"github.com/smallbiznis/quotaguard/internal/cloudmetrics"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/entitlement"
	"github.com/smallbiznis/quotaguard/internal/events"
	"github.com/smallbiznis/quotaguard/internal/observability"
	obsmiddleware "github.com/smallbiznis/quotaguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	obstracing "github.com/smallbiznis/quotaguard/internal/observability/tracing"
	"github.com/smallbiznis/quotaguard/internal/principal"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	"github.com/smallbiznis/quotaguard/internal/quota"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	"github.com/smallbiznis/quotaguard/internal/retention"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	cloudmetrics.Module,
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	capture.Module,
	entitlement.Module,
	events.Module,
	principal.Module,
	quota.Module,
	ratelimit.Module,
	retention.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	principalSvc principaldomain.Service
	quotaSvc     quotadomain.Service
	retentionSvc *retention.Service
	obsMetrics   *obsmetrics.Metrics
	limiter      *ratelimit.RequestLimiter
	publisher    events.Publisher
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	PrincipalSvc principaldomain.Service
	QuotaSvc     quotadomain.Service
	RetentionSvc *retention.Service
	ObsMetrics   *obsmetrics.Metrics       `optional:"true"`
	Limiter      *ratelimit.RequestLimiter `optional:"true"`
	Publisher    events.Publisher
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		principalSvc: p.PrincipalSvc,
		quotaSvc:     p.QuotaSvc,
		retentionSvc: p.RetentionSvc,
		obsMetrics:   p.ObsMetrics,
		limiter:      p.Limiter,
		publisher:    p.Publisher,
	}

	svc.registerPrincipalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPrincipalRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.ActorContext())

	principals := v1.Group("/principals/:principal_id")
	{
		principals.GET("/quota",
			s.authorizeAction(authorization.ObjectQuota, authorization.ActionQuotaView),
			s.GetQuota,
		)
		principals.POST("/usage",
			s.RequestRateLimit(),
			s.authorizeAction(authorization.ObjectUsage, authorization.ActionUsageRecord),
			s.RecordUsage,
		)
		principals.PATCH("/role",
			s.authorizeAction(authorization.ObjectPrincipal, authorization.ActionPrincipalUpdateRole),
			s.UpdateRole,
		)
		principals.POST("/deletion",
			s.authorizeAction(authorization.ObjectRetention, authorization.ActionRetentionSchedule),
			s.ScheduleDeletion,
		)
		principals.DELETE("/deletion",
			s.authorizeAction(authorization.ObjectRetention, authorization.ActionRetentionRestore),
			s.RestoreAccount,
		)
		principals.POST("/purge",
			s.authorizeAction(authorization.ObjectRetention, authorization.ActionRetentionPurge),
			s.ArchiveAndPurge,
		)
		principals.GET("/audit",
			s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView),
			s.GetAuditHistory,
		)
	}
}
