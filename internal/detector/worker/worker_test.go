package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// fakeWorker answers requests on the other end of a pair of pipes.
type fakeWorker struct {
	reqs   chan request
	stdin  *io.PipeReader
	stdout *io.PipeWriter
}

func startFake(t *testing.T, answer func(request) response) (*Client, *fakeWorker) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	fw := &fakeWorker{reqs: make(chan request, 8), stdin: inR, stdout: outW}

	go func() {
		defer outW.Close()
		for {
			var req request
			if err := readMessage(inR, &req); err != nil {
				return
			}
			fw.reqs <- req
			if answer == nil {
				continue // never reply
			}
			if err := writeMessage(outW, answer(req)); err != nil {
				return
			}
		}
	}()

	c := newClient(inW, outR)
	t.Cleanup(func() {
		c.Close()
		outR.Close()
	})
	return c, fw
}

func testFrame() types.Frame {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	copy(img.Pix, []uint8{10, 20, 30, 255, 40, 50, 60, 255})
	return types.Frame{Index: 7, Image: img}
}

func TestDetectRoundTrip(t *testing.T) {
	field := types.NewField(2, 1)
	field.Set(0, 0, [3]float32{3, 0.25, 0.5})
	field.Set(1, 0, [3]float32{4, 0.75, 1})

	c, fw := startFake(t, func(req request) response {
		return response{
			Seq: req.Seq,
			Groups: []group{
				{},
				{
					Boxes:  [][]float64{{0, 0, 2, 1, 0.97}},
					Bodies: []body{encodeBody(field)},
				},
			},
			Timing: map[string]float64{"total_ms": 12.5},
		}
	})

	groups, err := c.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	req := <-fw.reqs
	if req.Type != "frame" || req.PixFmt != "bgr24" || req.Width != 2 || req.Height != 1 || req.Seq != 1 {
		t.Fatalf("request header = %+v", req)
	}
	if !bytes.Equal(req.FrameData, []byte{30, 20, 10, 60, 50, 40}) {
		t.Fatalf("frame data = %v, want BGR order", req.FrameData)
	}

	want := []types.ClassGroup{
		{},
		{
			Boxes:  [][]float64{{0, 0, 2, 1, 0.97}},
			Fields: []*types.Field{field},
		},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups (-want +got):\n%s", diff)
	}
}

func TestDetectWorkerError(t *testing.T) {
	c, _ := startFake(t, func(req request) response {
		return response{Seq: req.Seq, Error: "CUDA out of memory"}
	})
	_, err := c.Detect(context.Background(), testFrame())
	if err == nil || err.Error() != "worker: CUDA out of memory" {
		t.Fatalf("err = %v", err)
	}
	// a reported error keeps the stream usable
	if _, err := c.Detect(context.Background(), testFrame()); errors.Is(err, ErrBroken) {
		t.Fatal("client marked broken after a clean error response")
	}
}

func TestDetectSeqMismatchBreaks(t *testing.T) {
	c, _ := startFake(t, func(req request) response {
		return response{Seq: req.Seq + 5}
	})
	if _, err := c.Detect(context.Background(), testFrame()); err == nil {
		t.Fatal("expected seq mismatch error")
	}
	if _, err := c.Detect(context.Background(), testFrame()); !errors.Is(err, ErrBroken) {
		t.Fatalf("err = %v, want ErrBroken", err)
	}
}

func TestDetectHonoursContext(t *testing.T) {
	c, _ := startFake(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Detect(ctx, testFrame())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if _, err := c.Detect(context.Background(), testFrame()); !errors.Is(err, ErrBroken) {
		t.Fatalf("err = %v, want ErrBroken", err)
	}
}

func TestDetectRejectsEmptyFrame(t *testing.T) {
	c, _ := startFake(t, nil)
	if _, err := c.Detect(context.Background(), types.Frame{}); err == nil {
		t.Fatal("expected error for frame without image")
	}
}

func TestBodyLengthChecked(t *testing.T) {
	_, err := classGroups([]group{{Bodies: []body{{Width: 2, Height: 2, Data: make([]byte, 7)}}}})
	if err == nil {
		t.Fatal("expected error for truncated body")
	}
	_, err = classGroups([]group{{Bodies: []body{{Width: 2, Height: 2, Data: make([]byte, 12)}}}})
	if err == nil {
		t.Fatal("expected error for body smaller than its size")
	}
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	if _, err := Start(context.Background(), Config{}, "cfg.yaml", "model.pkl"); err == nil {
		t.Fatal("expected error")
	}
}
