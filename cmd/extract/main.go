package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/pipeline"
)

var (
	// Command-line flags
	modelCfg   = flag.String("cfg", "", "Model config file passed to the detector")
	weights    = flag.String("wts", "", "Model weights (worker weights or .onnx file)")
	outputDir  = flag.String("output-dir", "/tmp/infer_simple", "Directory for visualization results")
	stepSize   = flag.Int("step-size", 1, "Keep one video frame in every step-size frames")
	imageExt   = flag.String("image-ext", "jpg", "Image file extension when the input is a directory")
	configPath = flag.String("config", "", "Pipeline YAML config (flags given explicitly override it)")
	backend    = flag.String("backend", "", "Detector backend (worker, onnx)")
	video      = flag.Bool("video", false, "Also assemble written images into <name>_IUV.mp4")
	httpAddr   = flag.String("http", "", "Monitor HTTP address, empty disables the monitor")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor   = flag.Bool("log-color", true, "Enable colored log output")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] im_or_folder\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	if len(os.Args) == 1 {
		usage()
		os.Exit(1)
	}
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	input := flag.Arg(0)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.LogLevel(), os.Stderr, cfg.Log.Color)
	logger.Info("Main", "IUV extractor starting on %s", input)
	logger.Info("Main", "Log level: %s", cfg.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, pipeline.Options{Input: input, Config: cfg})
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("Main", "Interrupted after %d frames, %d images in %s", res.Sampled, res.Written, res.OutputDir)
		stop()
		os.Exit(130)
	case err != nil:
		logger.Error("Main", "Run failed: %v", err)
		stop()
		os.Exit(1)
	}
	logger.Info("Main", "Wrote %d images to %s", res.Written, res.OutputDir)
	if res.VideoPath != "" {
		logger.Info("Main", "Video: %s", res.VideoPath)
	}
}

// loadConfig reads -config, if any, then applies the flags that were set
// explicitly on the command line.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.DefaultConfig()
		cfg = &def
		cfg.Output.Dir = *outputDir
		cfg.Input.StepSize = *stepSize
		cfg.Input.ImageExt = *imageExt
		cfg.Log.Level = *logLevel
		cfg.Log.Color = *logColor
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cfg":
			cfg.Detector.ModelConfig = *modelCfg
		case "wts":
			cfg.Detector.Weights = *weights
		case "output-dir":
			cfg.Output.Dir = *outputDir
		case "step-size":
			cfg.Input.StepSize = *stepSize
		case "image-ext":
			cfg.Input.ImageExt = *imageExt
		case "backend":
			cfg.Detector.Backend = *backend
		case "video":
			cfg.Video.Enabled = *video
		case "http":
			cfg.Monitor.Addr = *httpAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
