package recorder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
)

// captureEncoder stores everything the recorder streams to it.
type captureEncoder struct {
	mu            sync.Mutex
	data          bytes.Buffer
	width, height int
	fps           float64
	fail          error
}

func (c *captureEncoder) encode(_ context.Context, _ string, width, height int, cfg Config, src io.Reader) error {
	c.mu.Lock()
	c.width, c.height, c.fps = width, height, cfg.FPS
	c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.Copy(&c.data, src)
	return err
}

func solid(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestRecorderStreamsFrames(t *testing.T) {
	enc := &captureEncoder{}
	r := NewRecorderWithEncoder("/tmp/out.mp4", DefaultConfig(), enc.encode)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := r.SendFrame(ctx, solid(4, 2, uint8(i+1))); err != nil {
			t.Fatalf("SendFrame %d: %v", i, err)
		}
	}
	if !r.IsRecording() {
		t.Fatal("first frame must start recording")
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if enc.width != 4 || enc.height != 2 || enc.fps != 30 {
		t.Fatalf("encoder saw %dx%d at %v fps", enc.width, enc.height, enc.fps)
	}
	if enc.data.Len() != 3*4*2*3 {
		t.Fatalf("encoder received %d bytes", enc.data.Len())
	}
	if got := enc.data.Bytes()[4*2*3]; got != 2 {
		t.Fatalf("second frame first byte = %d", got)
	}

	st := r.GetStatus()
	if st.Recording || st.FrameCount != 3 || st.BytesWritten != 72 || st.Width != 4 {
		t.Fatalf("status = %+v", st)
	}
}

func TestRecorderRejectsSizeChange(t *testing.T) {
	enc := &captureEncoder{}
	r := NewRecorderWithEncoder("/tmp/out.mp4", DefaultConfig(), enc.encode)
	ctx := context.Background()
	if err := r.SendFrame(ctx, solid(4, 4, 1)); err != nil {
		t.Fatal(err)
	}
	if err := r.SendFrame(ctx, solid(6, 4, 1)); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("err = %v, want ErrSizeMismatch", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRecorderReportsEncoderFailure(t *testing.T) {
	enc := &captureEncoder{fail: errors.New("codec not found")}
	r := NewRecorderWithEncoder("/tmp/out.mp4", DefaultConfig(), enc.encode)
	ctx := context.Background()

	// sends may or may not fail depending on timing, Stop must report it
	for i := 0; i < 5; i++ {
		_ = r.SendFrame(ctx, solid(2, 2, 1))
	}
	if err := r.Stop(); err == nil || !errors.Is(err, enc.fail) {
		t.Fatalf("Stop = %v, want encoder error", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRecorderWithEncoder("x.mp4", Config{}, (&captureEncoder{}).encode)
	if err := r.Stop(); err == nil {
		t.Fatal("expected error")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on idle recorder: %v", err)
	}
}

// cancelAwareEncoder gives up as soon as its context ends, the way a child
// process started with exec.CommandContext is killed.
type cancelAwareEncoder struct {
	n         int64
	cancelled bool
}

func (c *cancelAwareEncoder) encode(ctx context.Context, _ string, _, _ int, _ Config, src io.Reader) error {
	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := io.Copy(io.Discard, src)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		c.n = res.n
		return res.err
	case <-ctx.Done():
		c.cancelled = true
		return ctx.Err()
	}
}

func TestCancelledRunStillFinishesVideo(t *testing.T) {
	enc := &cancelAwareEncoder{}
	r := NewRecorderWithEncoder("/tmp/out.mp4", DefaultConfig(), enc.encode)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 2; i++ {
		if err := r.SendFrame(ctx, solid(4, 2, uint8(i+1))); err != nil {
			t.Fatalf("SendFrame %d: %v", i, err)
		}
	}
	cancel()

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop after cancel: %v", err)
	}
	if enc.cancelled {
		t.Fatal("encoder was cancelled before the frame pipe closed")
	}
	if enc.n != 2*4*2*3 {
		t.Fatalf("encoder received %d bytes", enc.n)
	}
}
