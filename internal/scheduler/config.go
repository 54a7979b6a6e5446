package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/leadcore/internal/config"
)

// Config controls cron specs, retention and batch sizes.
type Config struct {
	Enabled         bool
	UsagePurgeSpec  string
	PauseSweepSpec  string
	JobTimeout      time.Duration
	RetentionDays   int
	PurgeBatchLimit int
	EnabledJobs     []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		UsagePurgeSpec:  "15 3 * * *",
		PauseSweepSpec:  "*/5 * * * *",
		JobTimeout:      time.Minute,
		RetentionDays:   90,
		PurgeBatchLimit: 1000,
	}
}

// ProvideConfig maps application config onto scheduler settings.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:         cfg.Scheduler.Enabled,
		UsagePurgeSpec:  strings.TrimSpace(cfg.Scheduler.UsagePurgeSpec),
		PauseSweepSpec:  strings.TrimSpace(cfg.Scheduler.PauseSweepSpec),
		JobTimeout:      cfg.Scheduler.JobTimeout,
		RetentionDays:   cfg.CostGuard.UsageRetentionDays,
		PurgeBatchLimit: cfg.Scheduler.PurgeBatchLimit,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.UsagePurgeSpec == "" {
		c.UsagePurgeSpec = defaults.UsagePurgeSpec
	}
	if c.PauseSweepSpec == "" {
		c.PauseSweepSpec = defaults.PauseSweepSpec
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaults.RetentionDays
	}
	if c.PurgeBatchLimit <= 0 {
		c.PurgeBatchLimit = defaults.PurgeBatchLimit
	}
	return c
}
