// Package framesource samples frames from a video stream at a fixed stride.
package framesource

import (
	"context"
	"fmt"
	"image"
	"iter"

	"go.uber.org/multierr"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// Options sets the two sampling strides.
//
// Next emits a frame and then discards SingleStride frames, so consecutive
// calls advance the stream by SingleStride+1 decodes. ReadAll and Frames emit
// a frame and then discard BulkStride-1 frames, so they advance by BulkStride.
type Options struct {
	SingleStride int
	BulkStride   int
}

// DefaultOptions uses stride for both sampling modes.
func DefaultOptions(stride int) Options {
	return Options{SingleStride: stride, BulkStride: stride}
}

// Validate checks the strides.
func (o Options) Validate() error {
	if o.SingleStride < 0 {
		return fmt.Errorf("single stride must be >= 0, got %d", o.SingleStride)
	}
	if o.BulkStride < 1 {
		return fmt.Errorf("bulk stride must be >= 1, got %d", o.BulkStride)
	}
	return nil
}

// StreamOpenError reports that a video stream could not be acquired.
type StreamOpenError struct {
	Path string
	Err  error
}

func (e *StreamOpenError) Error() string {
	return fmt.Sprintf("open stream %s: %v", e.Path, e.Err)
}

func (e *StreamOpenError) Unwrap() error {
	return e.Err
}

// Stats counts decoder activity.
type Stats struct {
	Decoded   int
	Emitted   int
	Discarded int
}

// FrameSource walks a stream in order. It is not safe for concurrent use.
type FrameSource struct {
	dec       Decoder
	opts      Options
	info      StreamInfo
	pos       int
	exhausted bool
	closed    bool
	closeErr  error
	stats     Stats
}

// Open starts decoding path with ffmpeg.
func Open(path string, opts Options) (*FrameSource, error) {
	return OpenContext(context.Background(), path, opts)
}

// OpenContext is Open with a context bound to the decoder process.
func OpenContext(ctx context.Context, path string, opts Options) (*FrameSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	dec, info, err := openDecoder(ctx, path)
	if err != nil {
		return nil, &StreamOpenError{Path: path, Err: err}
	}
	s := New(dec, opts)
	s.info = info
	return s, nil
}

// openDecoder is replaced in tests.
var openDecoder = func(ctx context.Context, path string) (Decoder, StreamInfo, error) {
	d, err := openFFmpeg(ctx, path)
	if err != nil {
		return nil, StreamInfo{}, err
	}
	return d, d.info, nil
}

// New wraps an already opened decoder. The source takes ownership of dec.
func New(dec Decoder, opts Options) *FrameSource {
	return &FrameSource{dec: dec, opts: opts}
}

// With opens path, runs fn and closes the source on every exit path,
// including a panic in fn.
func With(ctx context.Context, path string, opts Options, fn func(*FrameSource) error) (err error) {
	s, err := OpenContext(ctx, path, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Close())
	}()
	return fn(s)
}

// Info returns the probed stream description, zero for custom decoders.
func (s *FrameSource) Info() StreamInfo {
	return s.info
}

// Stats returns the decode counters.
func (s *FrameSource) Stats() Stats {
	return s.stats
}

// Next returns the next frame and then skips SingleStride frames. It returns
// false at end of stream or on a decode error; the two are not distinguished.
func (s *FrameSource) Next() (types.Frame, bool) {
	return s.step(s.opts.SingleStride)
}

// Frames yields frames lazily, skipping BulkStride-1 frames after each.
func (s *FrameSource) Frames() iter.Seq[types.Frame] {
	return func(yield func(types.Frame) bool) {
		for {
			f, ok := s.step(s.opts.BulkStride - 1)
			if !ok || !yield(f) {
				return
			}
		}
	}
}

// ReadAll collects Frames until the stream ends.
func (s *FrameSource) ReadAll() []types.Frame {
	var out []types.Frame
	for f := range s.Frames() {
		out = append(out, f)
	}
	return out
}

func (s *FrameSource) step(skip int) (types.Frame, bool) {
	img, ok := s.decode()
	if !ok {
		return types.Frame{}, false
	}
	f := types.Frame{Index: s.pos - 1, Image: img}
	s.stats.Emitted++

	for i := 0; i < skip; i++ {
		if _, ok := s.decode(); !ok {
			break
		}
		s.stats.Discarded++
	}
	return f, true
}

func (s *FrameSource) decode() (*image.NRGBA, bool) {
	if s.exhausted || s.closed {
		return nil, false
	}
	im, err := s.dec.Decode()
	if err != nil {
		s.exhausted = true
		logger.Debug("FrameSource", "Stream ended after %d frames: %v", s.pos, err)
		return nil, false
	}
	s.pos++
	s.stats.Decoded++
	return im, true
}

// Close releases the decoder. Later calls return the first result.
func (s *FrameSource) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.closeErr = s.dec.Close()
	return s.closeErr
}
