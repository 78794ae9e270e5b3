package framesource

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeDecoder yields n frames whose first pixel's red channel is the stream position.
type fakeDecoder struct {
	n       int
	pos     int
	failAt  int // decode error at this position, -1 for none
	closes  int
	closeEr error
}

func newFake(n int) *fakeDecoder {
	return &fakeDecoder{n: n, failAt: -1}
}

func (d *fakeDecoder) Decode() (*image.NRGBA, error) {
	if d.pos == d.failAt {
		return nil, errors.New("corrupt packet")
	}
	if d.pos >= d.n {
		return nil, io.EOF
	}
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[0] = uint8(d.pos)
	d.pos++
	return img, nil
}

func (d *fakeDecoder) Close() error {
	d.closes++
	return d.closeEr
}

func positions(t *testing.T, s *FrameSource, useNext bool) []int {
	t.Helper()
	var got []int
	if useNext {
		for {
			f, ok := s.Next()
			if !ok {
				break
			}
			if int(f.Image.Pix[0]) != f.Index {
				t.Fatalf("frame index %d does not match decoded position %d", f.Index, f.Image.Pix[0])
			}
			got = append(got, f.Index)
		}
		return got
	}
	for _, f := range s.ReadAll() {
		if int(f.Image.Pix[0]) != f.Index {
			t.Fatalf("frame index %d does not match decoded position %d", f.Index, f.Image.Pix[0])
		}
		got = append(got, f.Index)
	}
	return got
}

func TestReadAllStride(t *testing.T) {
	tests := []struct {
		stride int
		want   []int
	}{
		{1, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{2, []int{0, 2, 4, 6, 8}},
		{3, []int{0, 3, 6, 9}},
		{20, []int{0}},
	}
	for _, tt := range tests {
		dec := newFake(10)
		s := New(dec, DefaultOptions(tt.stride))
		got := positions(t, s, false)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("stride %d (-want +got):\n%s", tt.stride, diff)
		}
	}
}

func TestNextStride(t *testing.T) {
	tests := []struct {
		stride int
		want   []int
	}{
		{0, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{1, []int{0, 2, 4, 6, 8}},
		{2, []int{0, 3, 6, 9}},
		{4, []int{0, 5}},
	}
	for _, tt := range tests {
		s := New(newFake(10), Options{SingleStride: tt.stride, BulkStride: 1})
		got := positions(t, s, true)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("stride %d (-want +got):\n%s", tt.stride, diff)
		}
	}
}

func TestNextAdvancesByStridePlusOne(t *testing.T) {
	dec := newFake(10)
	s := New(dec, DefaultOptions(2))
	if _, ok := s.Next(); !ok {
		t.Fatal("expected first frame")
	}
	if dec.pos != 3 {
		t.Fatalf("stream cursor = %d after one Next, want 3", dec.pos)
	}
	st := s.Stats()
	if st.Decoded != 3 || st.Emitted != 1 || st.Discarded != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDecodeErrorEndsStream(t *testing.T) {
	dec := newFake(10)
	dec.failAt = 4
	s := New(dec, DefaultOptions(1))
	got := positions(t, s, false)
	if diff := cmp.Diff([]int{0, 1, 2, 3}, got); diff != "" {
		t.Fatalf("frames before the error must survive (-want +got):\n%s", diff)
	}
	// stays exhausted
	if _, ok := s.Next(); ok {
		t.Fatal("Next after exhaustion returned a frame")
	}
}

func TestFramesStopsEarly(t *testing.T) {
	dec := newFake(10)
	s := New(dec, DefaultOptions(1))
	n := 0
	for range s.Frames() {
		n++
		if n == 3 {
			break
		}
	}
	if dec.pos != 3 {
		t.Fatalf("lazy iteration decoded %d frames, want 3", dec.pos)
	}
}

func TestCloseIdempotent(t *testing.T) {
	dec := newFake(3)
	dec.closeEr = errors.New("busy")
	s := New(dec, DefaultOptions(1))
	if err := s.Close(); err == nil {
		t.Fatal("expected close error")
	}
	if err := s.Close(); err == nil || dec.closes != 1 {
		t.Fatalf("second close: err=%v closes=%d", err, dec.closes)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("closed source returned a frame")
	}
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mp4")
	_, err := Open(path, DefaultOptions(1))
	var openErr *StreamOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *StreamOpenError, got %T %v", err, err)
	}
	if openErr.Path != path || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error does not carry the cause: %v", err)
	}

	called := false
	err = With(context.Background(), path, DefaultOptions(1), func(*FrameSource) error {
		called = true
		return nil
	})
	if !errors.As(err, &openErr) || called {
		t.Fatalf("With must fail before calling fn: called=%v err=%v", called, err)
	}
}

func TestOpenRejectsBadOptions(t *testing.T) {
	if _, err := Open("x.mp4", Options{SingleStride: 1, BulkStride: 0}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := DefaultOptions(1).Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}
}

func TestRawDecoder(t *testing.T) {
	frame := []byte{
		10, 20, 30, 40, 50, 60,
		70, 80, 90, 100, 110, 120,
	}
	r := io.NopCloser(bytes.NewReader(append(frame, 1, 2, 3))) // trailing partial frame
	d := newRawDecoder(r, 2, 2)

	img, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []uint8{10, 20, 30, 255, 40, 50, 60, 255, 70, 80, 90, 255, 100, 110, 120, 255}
	if diff := cmp.Diff(want, img.Pix); diff != "" {
		t.Fatalf("pixels (-want +got):\n%s", diff)
	}
	if _, err := d.Decode(); err == nil {
		t.Fatal("partial frame must end the stream")
	}
}

func TestParseRate(t *testing.T) {
	for in, want := range map[string]float64{"30/1": 30, "30000/1001": 30000.0 / 1001, "0/0": 0, "25": 25, "": 0} {
		if got := parseRate(in); got != want {
			t.Errorf("parseRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseProbeRotation(t *testing.T) {
	cases := []struct {
		name string
		json string
		want StreamInfo
	}{
		{
			name: "display matrix",
			json: `{"streams":[
				{"codec_type":"audio","codec_name":"aac"},
				{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,
				 "avg_frame_rate":"30/1","nb_frames":"120",
				 "side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]}]}`,
			want: StreamInfo{Width: 1080, Height: 1920, FrameRate: 30, Frames: 120, Codec: "h264", Rotation: 270},
		},
		{
			name: "rotate tag",
			json: `{"streams":[{"codec_type":"video","codec_name":"hevc","width":640,"height":480,
				"avg_frame_rate":"0/0","r_frame_rate":"25/1","tags":{"rotate":"90"}}]}`,
			want: StreamInfo{Width: 480, Height: 640, FrameRate: 25, Codec: "hevc", Rotation: 90},
		},
		{
			name: "upside down",
			json: `{"streams":[{"codec_type":"video","codec_name":"h264","width":640,"height":480,
				"side_data_list":[{"side_data_type":"Display Matrix","rotation":180}]}]}`,
			want: StreamInfo{Width: 640, Height: 480, Codec: "h264", Rotation: 180},
		},
		{
			name: "unrotated",
			json: `{"streams":[{"codec_type":"video","codec_name":"mpeg4","width":8,"height":6,"avg_frame_rate":"24/1"}]}`,
			want: StreamInfo{Width: 8, Height: 6, FrameRate: 24, Codec: "mpeg4"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseProbe([]byte(tc.json))
			if err != nil {
				t.Fatalf("parseProbe: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("StreamInfo mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseProbeErrors(t *testing.T) {
	for name, in := range map[string]string{
		"no video":     `{"streams":[{"codec_type":"audio"}]}`,
		"invalid size": `{"streams":[{"codec_type":"video","width":0,"height":480}]}`,
		"bad json":     `{"streams":`,
	} {
		if _, err := parseProbe([]byte(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func stubOpen(t *testing.T, dec Decoder) {
	t.Helper()
	orig := openDecoder
	openDecoder = func(context.Context, string) (Decoder, StreamInfo, error) {
		return dec, StreamInfo{Width: 2, Height: 2}, nil
	}
	t.Cleanup(func() { openDecoder = orig })
}

func TestWithClosesOnEveryExit(t *testing.T) {
	t.Run("return", func(t *testing.T) {
		dec := newFake(4)
		stubOpen(t, dec)
		var n int
		err := With(context.Background(), "clip.mp4", DefaultOptions(1), func(s *FrameSource) error {
			n = len(s.ReadAll())
			return nil
		})
		if err != nil || n != 4 || dec.closes != 1 {
			t.Fatalf("err=%v frames=%d closes=%d", err, n, dec.closes)
		}
	})

	t.Run("error", func(t *testing.T) {
		dec := newFake(4)
		dec.closeEr = errors.New("close failed")
		stubOpen(t, dec)
		fnErr := errors.New("detector down")
		err := With(context.Background(), "clip.mp4", DefaultOptions(1), func(*FrameSource) error {
			return fnErr
		})
		if !errors.Is(err, fnErr) || !errors.Is(err, dec.closeEr) {
			t.Fatalf("both errors must be reported: %v", err)
		}
		if dec.closes != 1 {
			t.Fatalf("closes = %d", dec.closes)
		}
	})

	t.Run("panic", func(t *testing.T) {
		dec := newFake(4)
		stubOpen(t, dec)
		func() {
			defer func() {
				if recover() == nil {
					t.Fatal("panic was swallowed")
				}
			}()
			_ = With(context.Background(), "clip.mp4", DefaultOptions(1), func(*FrameSource) error {
				panic("boom")
			})
		}()
		if dec.closes != 1 {
			t.Fatalf("closes = %d after panic", dec.closes)
		}
	})
}

func TestOpenKeepsProbeInfo(t *testing.T) {
	stubOpen(t, newFake(1))
	s, err := Open("clip.mp4", DefaultOptions(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if s.Info().Width != 2 {
		t.Fatalf("info = %+v", s.Info())
	}
}
