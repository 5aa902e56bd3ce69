package scheduler

import (
	"time"

	"github.com/smajobb/marketplace/internal/config"
)

// Config controls job intervals and deadlines.
type Config struct {
	SampleInterval         time.Duration
	SampleRetryInterval    time.Duration
	AlertInterval          time.Duration
	CleanupInterval        time.Duration
	MetricRetention        time.Duration
	NotificationMaxAgeDays int
	JobTimeout             time.Duration
	EnabledJobs            []string
}

func DefaultConfig() Config {
	return Config{
		SampleInterval:         time.Minute,
		SampleRetryInterval:    5 * time.Minute,
		AlertInterval:          5 * time.Minute,
		CleanupInterval:        time.Hour,
		MetricRetention:        7 * 24 * time.Hour,
		NotificationMaxAgeDays: 30,
		JobTimeout:             30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		SampleInterval:         cfg.Monitoring.SampleInterval,
		SampleRetryInterval:    cfg.Monitoring.RetryInterval,
		AlertInterval:          cfg.Monitoring.AlertInterval,
		CleanupInterval:        cfg.Monitoring.CleanupInterval,
		MetricRetention:        cfg.Monitoring.MetricRetention,
		NotificationMaxAgeDays: cfg.Notification.CleanupAgeDays,
		EnabledJobs:            cfg.Monitoring.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.SampleInterval <= 0 {
		c.SampleInterval = defaults.SampleInterval
	}
	if c.SampleRetryInterval <= 0 {
		c.SampleRetryInterval = defaults.SampleRetryInterval
	}
	if c.AlertInterval <= 0 {
		c.AlertInterval = defaults.AlertInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaults.CleanupInterval
	}
	if c.MetricRetention <= 0 {
		c.MetricRetention = defaults.MetricRetention
	}
	if c.NotificationMaxAgeDays <= 0 {
		c.NotificationMaxAgeDays = defaults.NotificationMaxAgeDays
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
