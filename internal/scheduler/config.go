package scheduler

import (
	"time"

	"github.com/smallbiznis/meter/internal/config"
)

// Config controls the pipeline loop.
type Config struct {
	RunInterval   time.Duration
	StageTimeout  time.Duration
	LockKey       string
	LockTTL       time.Duration
	EnabledStages []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  15 * time.Minute,
		StageTimeout: 10 * time.Minute,
		LockKey:      "meter:pipeline",
		LockTTL:      45 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:   cfg.Pipeline.Interval,
		StageTimeout:  cfg.Pipeline.StageTimeout,
		LockTTL:       cfg.Pipeline.LockTTL,
		EnabledStages: cfg.Pipeline.Stages,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = defaults.StageTimeout
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
