package sweeper

import (
	"time"

	"github.com/smallbiznis/quotaguard/internal/config"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration

	// ArchiveRetentionDays of 0 keeps the archive forever.
	ArchiveRetentionDays int

	// EnabledJobs empty means all jobs run (single-process mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:          cfg.SweepInterval,
		BatchSize:            cfg.SweepBatchSize,
		ArchiveRetentionDays: cfg.AuditArchiveRetentionDays,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
