package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
)

// Config controls the optional video output.
type Config struct {
	Enabled bool    `yaml:"enabled"`
	FPS     float64 `yaml:"fps"`
	Codec   string  `yaml:"codec"`
	Tag     string  `yaml:"tag"`    // Four-character codec tag
	Buffer  int     `yaml:"buffer"` // Frames queued ahead of the encoder
}

// DefaultConfig returns 30 fps MPEG-4 Part 2 tagged mp4v.
func DefaultConfig() Config {
	return Config{
		FPS:    30,
		Codec:  "mpeg4",
		Tag:    "mp4v",
		Buffer: 30,
	}
}

// EncodeFunc encodes packed rgb24 frames read from src until EOF.
type EncodeFunc func(ctx context.Context, path string, width, height int, cfg Config, src io.Reader) error

// ErrSizeMismatch is returned for frames whose size differs from the first frame.
var ErrSizeMismatch = errors.New("frame size differs from video size")

// Recorder assembles frames into one video file
type Recorder struct {
	mu           sync.RWMutex
	path         string
	cfg          Config
	encode       EncodeFunc
	recording    bool
	width        int
	height       int
	frameCount   uint64
	bytesWritten uint64
	startTime    time.Time
	frameChan    chan []byte
	wg           sync.WaitGroup
	encodeDone   chan struct{}
	encodeErr    error
	writeErr     error
}

// NewRecorder creates a recorder that writes to path with ffmpeg
func NewRecorder(path string, cfg Config) *Recorder {
	return NewRecorderWithEncoder(path, cfg, encodeFFmpeg)
}

// NewRecorderWithEncoder creates a recorder with a custom encoder
func NewRecorderWithEncoder(path string, cfg Config, encode EncodeFunc) *Recorder {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 30
	}
	return &Recorder{path: path, cfg: cfg, encode: encode}
}

// Start starts the encoder for frames of the given size
func (r *Recorder) Start(ctx context.Context, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid video size %dx%d", width, height)
	}

	pr, pw := io.Pipe()
	r.width, r.height = width, height
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()
	r.frameChan = make(chan []byte, r.cfg.Buffer)
	r.encodeDone = make(chan struct{})
	r.encodeErr, r.writeErr = nil, nil

	// The encoder outlives ctx so Stop can close the pipe and let it write
	// the trailer. ctx only bounds the blocking sends in SendFrame.
	encCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(r.encodeDone)
		err := r.encode(encCtx, r.path, width, height, r.cfg, pr)
		// unblock the writer if the encoder stopped reading early
		pr.CloseWithError(err)
		r.mu.Lock()
		r.encodeErr = err
		r.mu.Unlock()
	}()

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, pw)

	logger.Info("Recorder", "Recording %dx%d at %.2f fps to %s", width, height, r.cfg.FPS, r.path)
	return nil
}

// SendFrame queues one frame, starting the encoder on the first call.
// It blocks while the queue is full.
func (r *Recorder) SendFrame(ctx context.Context, img *image.NRGBA) error {
	b := img.Bounds()
	if !r.IsRecording() {
		if err := r.Start(ctx, b.Dx(), b.Dy()); err != nil {
			return err
		}
	}

	r.mu.RLock()
	w, h, frames, werr := r.width, r.height, r.frameChan, r.writeErr
	r.mu.RUnlock()
	if werr != nil {
		return werr
	}
	if b.Dx() != w || b.Dy() != h {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrSizeMismatch, b.Dx(), b.Dy(), w, h)
	}

	select {
	case frames <- packRGB(img):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) writeFrames(frames <-chan []byte, pw *io.PipeWriter) {
	defer r.wg.Done()
	defer pw.Close()

	for frame := range frames {
		r.mu.RLock()
		failed := r.writeErr != nil
		r.mu.RUnlock()
		if failed {
			continue // drain
		}

		n, err := pw.Write(frame)
		r.mu.Lock()
		if err != nil {
			r.writeErr = fmt.Errorf("write frame to encoder: %w", err)
		} else {
			r.frameCount++
			r.bytesWritten += uint64(n)
		}
		r.mu.Unlock()
	}
}

// Stop flushes queued frames and waits for the encoder to finish
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}
	r.recording = false
	close(r.frameChan)
	r.mu.Unlock()

	r.wg.Wait()
	<-r.encodeDone

	r.mu.RLock()
	defer r.mu.RUnlock()
	logger.Info("Recorder", "Wrote %d frames to %s", r.frameCount, r.path)
	if r.encodeErr != nil {
		return fmt.Errorf("encode %s: %w", r.path, r.encodeErr)
	}
	return r.writeErr
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.path,
		Width:        r.width,
		Height:       r.height,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// Close stops the recorder if it is running
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool          `json:"recording"`
	Filename     string        `json:"filename"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	FrameCount   uint64        `json:"frame_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Duration     time.Duration `json:"duration_ms"`
	StartTime    time.Time     `json:"start_time"`
}

func packRGB(img *image.NRGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			out = append(out, row[x*4:x*4+3]...)
		}
	}
	return out
}

func encodeFFmpeg(ctx context.Context, path string, width, height int, cfg Config, src io.Reader) error {
	stderr := logger.Writer(logger.DEBUG, "ffmpeg")
	defer stderr.Close()

	out := ffmpeg.KwArgs{
		"c:v":      cfg.Codec,
		"pix_fmt":  "yuv420p",
		"vf":       "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"loglevel": "error",
	}
	if cfg.Tag != "" {
		out["vtag"] = cfg.Tag
	}
	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":    "rawvideo",
		"pix_fmt":   "rgb24",
		"s":         fmt.Sprintf("%dx%d", width, height),
		"framerate": cfg.FPS,
	}).Output(path, out).OverWriteOutput()
	stream.Context = ctx

	return stream.WithInput(src).WithErrorOutput(stderr).Run()
}
