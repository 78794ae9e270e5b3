// Package pipeline sequences frame sampling, detection, compositing and
// output for one extraction run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/densepose"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/detector/worker"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/framesource"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/imageset"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/manifest"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/monitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/mosaic"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/output"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// VideoSuffix is appended to the run name for the optional video.
const VideoSuffix = "_IUV.mp4"

// Observer sees every processed frame. m is nil when the frame produced
// no output.
type Observer func(r types.FrameReport, m *mosaic.Mosaic)

// Options configures one run.
type Options struct {
	Input  string
	Config *config.Config
	// Detector is used as is when set; otherwise one is started from
	// Config.Detector and closed with the runner.
	Detector detector.Detector
	Metrics  *metrics.Metrics
	Observer Observer
}

// Result summarizes a run.
type Result struct {
	RunID        string
	OutputDir    string
	VideoPath    string
	ManifestPath string
	Sampled      int
	Written      int
	Skipped      int // No qualifying detection
	Failed       int // Decode or detector error
}

// previewSink receives every frame report. *monitor.Server implements it.
type previewSink interface {
	Publish(rep types.FrameReport, img image.Image)
	Finish()
	Shutdown(ctx context.Context) error
}

// Runner owns the resources of one run.
type Runner struct {
	input       string
	cfg         *config.Config
	det         detector.Detector
	ownDetector bool
	comp        *mosaic.Compositor
	writer      *output.Writer
	manifest    *manifest.Writer
	rec         *recorder.Recorder
	mon         previewSink
	metrics     *metrics.Metrics
	observer    Observer
	res         Result
	closed      bool
}

// New prepares the output directory and starts the detector, recorder,
// manifest and monitor as configured.
func New(ctx context.Context, opts Options) (r *Runner, err error) {
	cfg := opts.Config
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mc, err := cfg.MosaicConfig()
	if err != nil {
		return nil, err
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	r = &Runner{
		input:    opts.Input,
		cfg:      cfg,
		det:      opts.Detector,
		comp:     mosaic.New(mc),
		metrics:  m,
		observer: opts.Observer,
		res:      Result{RunID: uuid.NewString()},
	}
	// release whatever was started if a later step fails
	defer func() {
		if err != nil {
			_, cerr := r.Close()
			err = multierr.Append(err, cerr)
			r = nil
		}
	}()

	r.writer, err = output.NewWriter(cfg.Output, opts.Input)
	if err != nil {
		return r, err
	}
	r.res.OutputDir = r.writer.Dir()
	logger.Info("Pipeline", "Run %s: result directory is %s", r.res.RunID, r.res.OutputDir)

	if r.det == nil {
		r.det, err = detector.New(ctx, cfg.Detector)
		if err != nil {
			return r, err
		}
		r.ownDetector = true
	}

	if cfg.Manifest {
		path := filepath.Join(r.writer.Dir(), manifest.FileName)
		if r.manifest, err = manifest.Create(path); err != nil {
			return r, err
		}
		r.res.ManifestPath = path
	}

	if cfg.Video.Enabled {
		r.res.VideoPath = filepath.Join(r.writer.Dir(), output.RunName(opts.Input)+VideoSuffix)
		r.rec = recorder.NewRecorder(r.res.VideoPath, cfg.Video)
	}

	if cfg.Monitor.Enabled() {
		srv := monitor.NewServer(cfg.Monitor, monitor.RunInfo{
			RunID:     r.res.RunID,
			Input:     opts.Input,
			OutputDir: r.writer.Dir(),
		}, m)
		if err = srv.Start(); err != nil {
			return r, err
		}
		r.mon = srv
	}
	return r, nil
}

// Run processes input, a video file or a directory of images, with the
// given options and releases every resource before returning.
func Run(ctx context.Context, opts Options) (res Result, err error) {
	r, err := New(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		var cerr error
		res, cerr = r.Close()
		err = multierr.Append(err, cerr)
	}()

	if info, statErr := os.Stat(opts.Input); statErr == nil && info.IsDir() {
		set, err := imageset.Open(opts.Input, r.cfg.Input.ImageExt)
		if err != nil {
			return Result{}, err
		}
		return Result{}, r.RunImages(ctx, set)
	}
	return Result{}, framesource.With(ctx, opts.Input, r.cfg.SourceOptions(), func(src *framesource.FrameSource) error {
		return r.RunVideo(ctx, src)
	})
}

// RunVideo processes every frame src yields. Sample indices count the
// emitted frames.
func (r *Runner) RunVideo(ctx context.Context, src *framesource.FrameSource) error {
	if info := src.Info(); info.Width > 0 {
		logger.Info("Pipeline", "Input %s: %dx%d %s, %.2f fps, %d frames, step %d",
			r.input, info.Width, info.Height, info.Codec, info.FrameRate, info.Frames, r.cfg.Input.StepSize)
	}
	sample := 0
	for frame := range src.Frames() {
		r.metrics.FramesDecoded.Store(uint64(src.Stats().Decoded))
		if err := r.Process(ctx, frame, sample); err != nil {
			return err
		}
		sample++
	}
	r.metrics.FramesDecoded.Store(uint64(src.Stats().Decoded))
	return ctx.Err()
}

// RunImages processes every image in set. Sample indices are listing
// positions; unreadable images are logged and counted.
func (r *Runner) RunImages(ctx context.Context, set *imageset.Set) error {
	logger.Info("Pipeline", "Input %s: %d images", r.input, set.Len())
	for frame, err := range set.Frames() {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.metrics.DecodeErrors.Add(1)
			r.res.Failed++
			logger.Warn("Pipeline", "Skipping unreadable image: %v", err)
			r.report(types.FrameReport{
				FrameIndex:  frame.Index,
				SampleIndex: frame.Index,
				OutputIndex: -1,
				Err:         err.Error(),
				Timestamp:   time.Now(),
			}, nil, nil)
			continue
		}
		r.metrics.FramesDecoded.Add(1)
		if err := r.Process(ctx, frame, frame.Index); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Process runs one frame through detection, compositing and output.
// It returns an error only when the run cannot continue.
func (r *Runner) Process(ctx context.Context, frame types.Frame, sampleIndex int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.res.Sampled++
	r.metrics.FramesSampled.Add(1)

	rep := types.FrameReport{
		FrameIndex:  frame.Index,
		SampleIndex: sampleIndex,
		OutputIndex: -1,
		Timestamp:   time.Now(),
	}

	start := time.Now()
	groups, err := r.det.Detect(ctx, frame)
	rep.DetectTime = time.Since(start)
	r.metrics.ObserveDetect(rep.DetectTime)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.metrics.DetectErrors.Add(1)
		if errors.Is(err, worker.ErrBroken) {
			return fmt.Errorf("frame %d: %w", frame.Index, err)
		}
		r.res.Failed++
		rep.Err = err.Error()
		logger.Error("Pipeline", "Detection failed on frame %d: %v", frame.Index, err)
		r.report(rep, nil, nil)
		return nil
	}
	logger.Info("Pipeline", "Inference time: %.3fs", rep.DetectTime.Seconds())

	dets := densepose.Normalize(groups)
	rep.Detections = len(dets)
	r.metrics.Detections.Add(uint64(len(dets)))

	width, height := frame.Size()
	start = time.Now()
	m, ok := r.comp.Compose(width, height, dets)
	rep.ComposeTime = time.Since(start)
	r.metrics.ObserveCompose(rep.ComposeTime)
	if !ok {
		r.res.Skipped++
		r.metrics.FramesSkipped.Add(1)
		logger.Debug("Pipeline", "Frame %d: no output (%d detections, best %.3f)",
			frame.Index, len(dets), densepose.MaxConfidence(dets))
		r.report(rep, nil, nil)
		return nil
	}

	img := m.Image()
	path, idx, err := r.writer.Write(sampleIndex, img)
	if err != nil {
		r.metrics.WriteErrors.Add(1)
		return err
	}
	rep.Accepted = true
	rep.Composited = len(m.Instances)
	rep.OutputPath = path
	rep.OutputIndex = idx
	r.res.Written++
	r.metrics.FramesWritten.Add(1)
	r.metrics.InstancesComposited.Add(uint64(len(m.Instances)))
	logger.Info("Pipeline", "saving image at %s", path)

	r.record(ctx, img)
	r.report(rep, m, img)
	return nil
}

// record feeds the video. A frame of a different size is left out of the
// video; any other recorder failure disables video for the rest of the run.
func (r *Runner) record(ctx context.Context, img *image.NRGBA) {
	if r.rec == nil {
		return
	}
	err := r.rec.SendFrame(ctx, img)
	if err == nil {
		r.metrics.RecordingActive.Store(1)
		r.metrics.RecordingFrames.Store(r.rec.GetStatus().FrameCount)
		return
	}
	r.metrics.RecorderErrors.Add(1)
	if errors.Is(err, recorder.ErrSizeMismatch) {
		logger.Warn("Pipeline", "Frame left out of video: %v", err)
		return
	}
	logger.Error("Pipeline", "Video disabled: %v", err)
	if cerr := r.rec.Close(); cerr != nil {
		logger.Debug("Pipeline", "Recorder close: %v", cerr)
	}
	r.rec = nil
	r.res.VideoPath = ""
	r.metrics.RecordingActive.Store(0)
}

func (r *Runner) report(rep types.FrameReport, m *mosaic.Mosaic, img *image.NRGBA) {
	rep.RunID = r.res.RunID
	if r.manifest != nil {
		if err := r.manifest.Append(rep); err != nil {
			logger.Error("Pipeline", "Manifest disabled: %v", err)
			r.metrics.WriteErrors.Add(1)
			_ = r.manifest.Close()
			r.manifest = nil
			r.res.ManifestPath = ""
		}
	}
	if r.mon != nil {
		// keep preview a nil interface when there is no image, not a typed nil
		var preview image.Image
		if img != nil {
			preview = img
		}
		r.mon.Publish(rep, preview)
	}
	if r.observer != nil {
		r.observer(rep, m)
	}
}

// Result returns the counters so far.
func (r *Runner) Result() Result {
	return r.res
}

// Close finishes the video and manifest, stops the monitor and the
// detector it started, and returns the final result.
func (r *Runner) Close() (Result, error) {
	if r.closed {
		return r.res, nil
	}
	r.closed = true

	var err error
	if r.rec != nil {
		if r.rec.IsRecording() {
			if rerr := r.rec.Stop(); rerr != nil {
				r.metrics.RecorderErrors.Add(1)
				err = multierr.Append(err, fmt.Errorf("video: %w", rerr))
			} else {
				logger.Info("Pipeline", "saving video at %s", r.res.VideoPath)
			}
			r.metrics.RecordingFrames.Store(r.rec.GetStatus().FrameCount)
		} else {
			// nothing was written
			r.res.VideoPath = ""
		}
		r.metrics.RecordingActive.Store(0)
	}
	if r.manifest != nil {
		err = multierr.Append(err, r.manifest.Close())
	}
	if r.det != nil && r.ownDetector {
		err = multierr.Append(err, r.det.Close())
	}
	if r.mon != nil {
		r.mon.Finish()
		err = multierr.Append(err, r.mon.Shutdown(context.Background()))
	}

	logger.Info("Pipeline", "Run %s done: %d sampled, %d written, %d skipped, %d failed",
		r.res.RunID, r.res.Sampled, r.res.Written, r.res.Skipped, r.res.Failed)
	return r.res, err
}
