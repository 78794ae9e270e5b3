// Package config loads the pipeline configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/framesource"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/monitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/mosaic"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/output"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/recorder"
)

// Config is the complete extraction configuration.
type Config struct {
	Input      InputConfig      `yaml:"input"`
	Detector   detector.Config  `yaml:"detector"`
	Compositor CompositorConfig `yaml:"compositor"`
	Output     output.Config    `yaml:"output"`
	Video      recorder.Config  `yaml:"video"`
	Monitor    monitor.Config   `yaml:"monitor"`
	Manifest   bool             `yaml:"manifest"`
	Log        LogConfig        `yaml:"log"`
}

// InputConfig controls frame sampling.
type InputConfig struct {
	StepSize int    `yaml:"step_size"` // Keep one frame in every StepSize
	ImageExt string `yaml:"image_ext"` // Extension matched when the input is a directory
}

// CompositorConfig mirrors mosaic.Config with a textual priority.
type CompositorConfig struct {
	FrameThreshold    float64 `yaml:"frame_threshold"`
	InstanceThreshold float64 `yaml:"instance_threshold"`
	Priority          string  `yaml:"priority"` // ascending or descending
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	mc := mosaic.DefaultConfig()
	return Config{
		Input: InputConfig{
			StepSize: 1,
			ImageExt: "jpg",
		},
		Detector: detector.DefaultConfig(),
		Compositor: CompositorConfig{
			FrameThreshold:    mc.FrameThreshold,
			InstanceThreshold: mc.InstanceThreshold,
			Priority:          mc.Priority.String(),
		},
		Output:   output.DefaultConfig(),
		Video:    recorder.DefaultConfig(),
		Monitor:  monitor.DefaultConfig(),
		Manifest: true,
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Fields the document omits keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var err error
	if c.Input.StepSize < 1 {
		err = multierr.Append(err, fmt.Errorf("input.step_size must be at least 1, got %d", c.Input.StepSize))
	}
	if c.Input.ImageExt == "" {
		err = multierr.Append(err, errors.New("input.image_ext is required"))
	}
	if err2 := c.Detector.Validate(); err2 != nil {
		err = multierr.Append(err, err2)
	}
	if _, err2 := c.MosaicConfig(); err2 != nil {
		err = multierr.Append(err, err2)
	}
	if c.Output.Dir == "" {
		err = multierr.Append(err, errors.New("output.dir is required"))
	}
	if c.Video.Enabled && c.Video.FPS <= 0 {
		err = multierr.Append(err, fmt.Errorf("video.fps must be positive, got %v", c.Video.FPS))
	}
	if c.Monitor.Enabled() {
		if err2 := c.Monitor.Validate(); err2 != nil {
			err = multierr.Append(err, err2)
		}
	}
	if _, err2 := logger.ParseLevel(c.Log.Level); err2 != nil {
		err = multierr.Append(err, err2)
	}
	return err
}

// MosaicConfig converts the compositor section.
func (c *Config) MosaicConfig() (mosaic.Config, error) {
	p, ok := mosaic.ParsePriority(c.Compositor.Priority)
	if !ok {
		return mosaic.Config{}, fmt.Errorf("compositor.priority %q is not ascending or descending", c.Compositor.Priority)
	}
	if c.Compositor.FrameThreshold < 0 || c.Compositor.FrameThreshold > 1 {
		return mosaic.Config{}, fmt.Errorf("compositor.frame_threshold must be in [0,1], got %v", c.Compositor.FrameThreshold)
	}
	if c.Compositor.InstanceThreshold < 0 || c.Compositor.InstanceThreshold > 1 {
		return mosaic.Config{}, fmt.Errorf("compositor.instance_threshold must be in [0,1], got %v", c.Compositor.InstanceThreshold)
	}
	return mosaic.Config{
		FrameThreshold:    c.Compositor.FrameThreshold,
		InstanceThreshold: c.Compositor.InstanceThreshold,
		Priority:          p,
	}, nil
}

// SourceOptions converts the sampling section.
func (c *Config) SourceOptions() framesource.Options {
	return framesource.DefaultOptions(c.Input.StepSize)
}

// LogLevel returns the parsed log level, INFO when unparsable.
func (c *Config) LogLevel() logger.LogLevel {
	lvl, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return logger.INFO
	}
	return lvl
}
