package scheduler

import (
	"time"

	"github.com/smallbiznis/seatledger/internal/config"
)

// Config controls how often background jobs run and how long each may take.
type Config struct {
	RunInterval  time.Duration
	JobTimeout   time.Duration
	LeaseTTL     time.Duration
	DisabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		JobTimeout:  time.Minute,
		LeaseTTL:    5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.RunInterval = cfg.Idempotency.SweepInterval
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	return c
}
