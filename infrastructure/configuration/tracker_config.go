package configuration

import (
	"os"
	"strings"
	"time"

	"reel-tracker/domain/model"
)

const (
	DefaultRefreshInterval      = 5 * time.Minute
	DefaultSampleSize           = 10
	DefaultSampleDelay          = 500 * time.Millisecond
	DefaultBatchSize            = 5
	DefaultBatchDelay           = 2 * time.Second
	DefaultRateLimitBackoff     = time.Minute
	DefaultUpstreamTimeout      = 10 * time.Second
	DefaultRatePerThousandViews = 0.5
)

// ApplyDefaults fills every unset tracker, payout and upstream knob.
func ApplyDefaults(c *Config) {
	t := &c.Tracker
	if t.SchedulerEnabled == nil {
		enabled := true
		t.SchedulerEnabled = &enabled
	}
	if t.RefreshInterval <= 0 {
		t.RefreshInterval = DefaultRefreshInterval
	}
	if t.SampleSize <= 0 {
		t.SampleSize = DefaultSampleSize
	}
	// A negative delay disables pacing; zero means unset.
	if t.SampleDelay == 0 {
		t.SampleDelay = DefaultSampleDelay
	}
	if t.BatchSize <= 0 {
		t.BatchSize = DefaultBatchSize
	}
	if t.BatchDelay == 0 {
		t.BatchDelay = DefaultBatchDelay
	}
	if t.RateLimitBackoff <= 0 {
		t.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if t.HistoryLimit <= 0 {
		t.HistoryLimit = model.DefaultHistoryLimit
	}
	if c.Instagram.Timeout <= 0 {
		c.Instagram.Timeout = DefaultUpstreamTimeout
	}
	if c.Payout.RatePerThousandViews <= 0 {
		c.Payout.RatePerThousandViews = DefaultRatePerThousandViews
	}
}

// Enabled reports whether the background refresh loop should run.
func (t Tracker) Enabled() bool {
	return t.SchedulerEnabled == nil || *t.SchedulerEnabled
}

// getConfigValue gets value from environment first, then config, then default
func getConfigValue(configValue, envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if configValue != "" && !strings.HasPrefix(configValue, "YOUR_") {
		return configValue
	}
	return defaultValue
}
