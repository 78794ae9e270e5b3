// Package detector selects the dense pose backend used by the pipeline.
package detector

import (
	"context"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/detector/onnx"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/detector/worker"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// Detector produces class-grouped detections for one frame.
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.ClassGroup, error)
	Close() error
}

// Backend names.
const (
	BackendWorker = "worker"
	BackendONNX   = "onnx"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string        `yaml:"backend"`
	ModelConfig string        `yaml:"model_config"`
	Weights     string        `yaml:"weights"`
	Worker      worker.Config `yaml:"worker"`
	ONNX        onnx.Config   `yaml:"onnx"`
}

// DefaultConfig uses the worker backend.
func DefaultConfig() Config {
	return Config{
		Backend: BackendWorker,
		Worker:  worker.DefaultConfig(),
		ONNX:    onnx.DefaultConfig(),
	}
}

// Validate checks the backend selection.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendWorker:
		if len(c.Worker.Command) == 0 {
			return fmt.Errorf("detector.worker.command is required")
		}
	case BackendONNX:
		if c.Weights == "" {
			return fmt.Errorf("detector.weights must name the .onnx model")
		}
		return c.ONNX.Validate()
	default:
		return fmt.Errorf("unknown detector backend %q", c.Backend)
	}
	return nil
}

// New starts the configured backend.
func New(ctx context.Context, cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendONNX {
		d, err := onnx.New(cfg.ONNX, cfg.Weights)
		if err != nil {
			return nil, fmt.Errorf("onnx detector: %w", err)
		}
		return d, nil
	}
	c, err := worker.Start(ctx, cfg.Worker, cfg.ModelConfig, cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("detector worker: %w", err)
	}
	return c, nil
}
