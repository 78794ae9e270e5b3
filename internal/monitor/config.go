package monitor

import (
	"fmt"
	"time"
)

// Config defines the runtime configuration for the monitor server.
// An empty Addr disables the server.
type Config struct {
	Addr           string        `yaml:"addr"`
	StatusInterval time.Duration `yaml:"status_interval"`
	History        int           `yaml:"history"`
	PreviewWidth   int           `yaml:"preview_width"`
	PreviewQuality int           `yaml:"preview_quality"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// DefaultConfig returns a disabled monitor with the usual intervals.
func DefaultConfig() Config {
	return Config{
		StatusInterval: 2 * time.Second,
		History:        8,
		PreviewWidth:   640,
		PreviewQuality: 75,
		ShutdownGrace:  3 * time.Second,
	}
}

// Enabled reports whether the server should be started.
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.History < 1 {
		return fmt.Errorf("monitor.history must be at least 1, got %d", c.History)
	}
	if c.PreviewQuality < 1 || c.PreviewQuality > 100 {
		return fmt.Errorf("monitor.preview_quality must be in [1,100], got %d", c.PreviewQuality)
	}
	if c.StatusInterval <= 0 {
		return fmt.Errorf("monitor.status_interval must be positive")
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.History <= 0 {
		c.History = def.History
	}
	if c.PreviewQuality <= 0 || c.PreviewQuality > 100 {
		c.PreviewQuality = def.PreviewQuality
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	return c
}
