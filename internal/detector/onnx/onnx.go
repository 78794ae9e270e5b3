// Package onnx runs a dense pose model in-process with ONNX Runtime.
//
// The model takes "images" float32 [1,3,H,W] (RGB scaled to 0..1) and returns
// "boxes" float32 [1,N,6] holding x0, y0, x1, y1, score, class in input
// pixels, and "iuv" float32 [1,N,3,S,S] with one fixed-size patch per box.
// Rows with a score of zero or less are padding.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/densepose"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// Config describes the model geometry and runtime.
type Config struct {
	SharedLibrary string `yaml:"shared_library"`
	InputWidth    int    `yaml:"input_width"`
	InputHeight   int    `yaml:"input_height"`
	MaxDetections int    `yaml:"max_detections"`
	PatchSize     int    `yaml:"patch_size"`
	Classes       int    `yaml:"classes"`
	Threads       int    `yaml:"threads"`
}

// DefaultConfig matches the exported R-50 FPN DensePose graph.
func DefaultConfig() Config {
	return Config{
		InputWidth:    800,
		InputHeight:   800,
		MaxDetections: 100,
		PatchSize:     112,
		Classes:       2,
	}
}

// Validate checks the geometry.
func (c Config) Validate() error {
	switch {
	case c.InputWidth <= 0 || c.InputHeight <= 0:
		return fmt.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	case c.MaxDetections <= 0:
		return fmt.Errorf("max_detections must be positive, got %d", c.MaxDetections)
	case c.PatchSize <= 0:
		return fmt.Errorf("patch_size must be positive, got %d", c.PatchSize)
	case c.Classes <= 0:
		return fmt.Errorf("classes must be positive, got %d", c.Classes)
	}
	return nil
}

const boxColumns = 6

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(lib string) error {
	envOnce.Do(func() {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Detector owns one session and its bound tensors. Detect calls are serialized.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	boxes   *ort.Tensor[float32]
	iuv     *ort.Tensor[float32]
}

// New loads the model at modelPath.
func New(cfg Config, modelPath string) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if modelPath == "" {
		return nil, errors.New("onnx model path is empty")
	}
	if err := initEnvironment(cfg.SharedLibrary); err != nil {
		return nil, fmt.Errorf("error initializing onnxruntime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options.SetIntraOpNumThreads(threads)

	d := &Detector{cfg: cfg}
	n, s := int64(cfg.MaxDetections), int64(cfg.PatchSize)
	if d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputHeight), int64(cfg.InputWidth))); err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	if d.boxes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n, boxColumns)); err != nil {
		d.destroy()
		return nil, fmt.Errorf("error creating boxes tensor: %w", err)
	}
	if d.iuv, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n, types.FieldChannels, s, s)); err != nil {
		d.destroy()
		return nil, fmt.Errorf("error creating iuv tensor: %w", err)
	}

	d.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"boxes", "iuv"},
		[]ort.ArbitraryTensor{d.input},
		[]ort.ArbitraryTensor{d.boxes, d.iuv},
		options,
	)
	if err != nil {
		d.destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	logger.Info("ONNX", "Loaded %s (input %dx%d, %d threads)", modelPath, cfg.InputWidth, cfg.InputHeight, threads)
	return d, nil
}

// Detect runs the model on one frame.
func (d *Detector) Detect(ctx context.Context, frame types.Frame) ([]types.ClassGroup, error) {
	if frame.Image == nil {
		return nil, errors.New("frame has no image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, errors.New("detector closed")
	}

	start := time.Now()
	resized := imaging.Resize(frame.Image, d.cfg.InputWidth, d.cfg.InputHeight, imaging.Linear)
	fillInput(resized, d.input.GetData())

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	w, h := frame.Size()
	groups, err := decodeOutputs(d.cfg, d.boxes.GetData(), d.iuv.GetData(), w, h)
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	logger.Debug("ONNX", "Frame %d inference took %v", frame.Index, time.Since(start))
	return groups, nil
}

// Close releases the session and tensors.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy()
	return nil
}

func (d *Detector) destroy() {
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.boxes != nil {
		d.boxes.Destroy()
		d.boxes = nil
	}
	if d.iuv != nil {
		d.iuv.Destroy()
		d.iuv = nil
	}
}

// fillInput writes img as planar RGB scaled to 0..1.
func fillInput(img *image.NRGBA, dst []float32) {
	b := img.Bounds()
	plane := b.Dx() * b.Dy()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			i := y*b.Dx() + x
			dst[i] = float32(row[x*4]) / 255.0
			dst[plane+i] = float32(row[x*4+1]) / 255.0
			dst[plane*2+i] = float32(row[x*4+2]) / 255.0
		}
	}
}

// decodeOutputs turns raw tensors into class groups in frame coordinates.
// Patches are resampled to the size of their box in the frame.
func decodeOutputs(cfg Config, boxes, iuv []float32, frameW, frameH int) ([]types.ClassGroup, error) {
	n, s := cfg.MaxDetections, cfg.PatchSize
	if len(boxes) != n*boxColumns {
		return nil, fmt.Errorf("unexpected boxes length: got %d, want %d", len(boxes), n*boxColumns)
	}
	patchLen := types.FieldChannels * s * s
	if len(iuv) != n*patchLen {
		return nil, fmt.Errorf("unexpected iuv length: got %d, want %d", len(iuv), n*patchLen)
	}

	sx := float64(frameW) / float64(cfg.InputWidth)
	sy := float64(frameH) / float64(cfg.InputHeight)
	groups := make([]types.ClassGroup, cfg.Classes)

	for i := 0; i < n; i++ {
		row := boxes[i*boxColumns : (i+1)*boxColumns]
		score := float64(row[4])
		if score <= 0 {
			continue
		}
		class := int(row[5])
		if class < 0 || class >= cfg.Classes {
			logger.Warn("ONNX", "Dropping detection %d with class %d", i, class)
			continue
		}

		x0 := clamp(float64(row[0])*sx, 0, float64(frameW))
		y0 := clamp(float64(row[1])*sy, 0, float64(frameH))
		x1 := clamp(float64(row[2])*sx, 0, float64(frameW))
		y1 := clamp(float64(row[3])*sy, 0, float64(frameH))
		bw, bh := int(x1)-int(x0), int(y1)-int(y0)
		if bw <= 0 || bh <= 0 {
			continue
		}

		patch, err := types.FieldFromCHW(s, s, iuv[i*patchLen:(i+1)*patchLen])
		if err != nil {
			return nil, err
		}

		g := &groups[class]
		g.Boxes = append(g.Boxes, []float64{x0, y0, x1, y1, score})
		g.Fields = append(g.Fields, densepose.Resample(patch, bw, bh))
	}
	return groups, nil
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
