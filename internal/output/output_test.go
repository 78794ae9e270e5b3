package output

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestRunName(t *testing.T) {
	for in, want := range map[string]string{
		"/data/clips/walk.01.mp4": "walk",
		"videos/dance.mp4":        "dance",
		"/data/frames/":           "frames",
		"frames":                  "frames",
	} {
		if got := RunName(in); got != want {
			t.Errorf("RunName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := ResultDir("/tmp/out", "a/b/walk.mp4"); got != filepath.Join("/tmp/out", "walk") {
		t.Errorf("ResultDir = %q", got)
	}
}

func testImage() *image.NRGBA {
	return imaging.New(3, 2, color.NRGBA{R: 9, G: 8, B: 7, A: 255})
}

func TestWriteKeepsGaps(t *testing.T) {
	w, err := NewWriter(Config{Dir: t.TempDir()}, "clip.mp4")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, idx := range []int{0, 2, 5} {
		path, got, err := w.Write(idx, testImage())
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if got != idx || filepath.Base(path) != filepath.Base(w.Path(idx)) {
			t.Fatalf("index %d written as %d at %s", idx, got, path)
		}
	}
	for _, name := range []string{"0_IUV.png", "2_IUV.png", "5_IUV.png"} {
		if _, err := os.Stat(filepath.Join(w.Dir(), name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if w.Written() != 3 {
		t.Fatalf("Written = %d", w.Written())
	}
}

func TestWriteContiguous(t *testing.T) {
	w, err := NewWriter(Config{Dir: t.TempDir(), ContiguousNumbering: true}, "clip.mp4")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i, idx := range []int{3, 9} {
		_, got, err := w.Write(idx, testImage())
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if got != i {
			t.Fatalf("sample %d numbered %d, want %d", idx, got, i)
		}
	}
}

func TestWrittenPixelsRoundTrip(t *testing.T) {
	w, err := NewWriter(Config{Dir: t.TempDir(), Suffix: "_x.png"}, "run")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	path, _, err := w.Write(0, testImage())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "0_x.png" {
		t.Fatalf("path = %s", path)
	}
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r, g, b, _ := img.At(1, 1).RGBA()
	if r>>8 != 9 || g>>8 != 8 || b>>8 != 7 {
		t.Fatalf("pixel = %d,%d,%d", r>>8, g>>8, b>>8)
	}
}
