package cloudmetrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/quotaguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pushInterval = 30 * time.Minute

var registerOnce sync.Once

var Module = fx.Module("cloud.metrics",
	fx.Provide(func() *prometheus.Registry {
		return prometheus.NewRegistry()
	}),
	fx.Provide(NewPusher),
	fx.Invoke(Register),
)

// Register installs the live recorder and starts the periodic push loop.
// Failures are logged and never block quota enforcement.
func Register(lc fx.Lifecycle, cfg config.Config, registry *prometheus.Registry, pusher Pusher, logger *zap.Logger, db *gorm.DB) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Cloud.Metrics.Enabled || pusher == nil {
		return
	}

	registerOnce.Do(func() {
		m := newMetrics(registry)
		setRecorder(&recorder{metrics: m})

		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				logger.Info("starting cloud metrics background worker")
				go func() {
					ticker := time.NewTicker(pushInterval)
					defer ticker.Stop()

					pushOnce(ctx, m, registry, pusher, logger, db)
					for {
						select {
						case <-ticker.C:
							pushOnce(ctx, m, registry, pusher, logger, db)
						case <-ctx.Done():
							logger.Info("stopping cloud metrics background worker")
							return
						}
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	})
}

func pushOnce(ctx context.Context, m *metrics, registry *prometheus.Registry, pusher Pusher, logger *zap.Logger, db *gorm.DB) {
	updateSystemMetrics(m)
	updatePrincipalCount(ctx, m, db)
	if err := pusher.Push(ctx, registry); err != nil {
		logger.Error("cloud metrics push failed", zap.Error(err))
	}
}

func updateSystemMetrics(m *metrics) {
	if m == nil {
		return
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.memoryBytes.Set(float64(stats.Sys))
}

func updatePrincipalCount(ctx context.Context, m *metrics, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	var count int64
	if err := db.WithContext(ctx).
		Table("principals").
		Where("deleted_at IS NULL").
		Count(&count).Error; err != nil {
		return
	}
	m.principalsTotal.Set(float64(count))
}
