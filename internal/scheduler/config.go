package scheduler

import (
	"time"

	"github.com/smallbiznis/creditcore/internal/config"
)

const (
	JobReleaseExpiredReservations = "release_expired_reservations"
	JobReconcilePendingOrders     = "reconcile_pending_orders"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	PendingOrderGrace time.Duration
	JobTimeout        time.Duration
	// EnabledJobs limits which jobs run. Empty means all jobs.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		PendingOrderGrace: 10 * time.Minute,
		JobTimeout:        30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:       cfg.Scheduler.RunInterval,
		BatchSize:         cfg.Scheduler.BatchSize,
		PendingOrderGrace: cfg.Scheduler.PendingOrderGrace,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PendingOrderGrace <= 0 {
		c.PendingOrderGrace = defaults.PendingOrderGrace
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
