package scheduler

import (
	"time"

	"github.com/smallbiznis/recurra/internal/config"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	JobTimeout        time.Duration
	RecoveryThreshold time.Duration

	// EnabledJobs limits RunOnce to the named jobs. Empty means all
	// jobs run (monolith mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		JobTimeout:        30 * time.Second,
		RecoveryThreshold: 15 * time.Minute,
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
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return c
}

// ProvideConfig maps application config onto the scheduler's knobs.
func ProvideConfig(appCfg config.Config) Config {
	return Config{
		RunInterval:       appCfg.SchedulerInterval,
		BatchSize:         appCfg.SchedulerBatchSize,
		RecoveryThreshold: appCfg.RecoveryThreshold,
	}.withDefaults()
}
