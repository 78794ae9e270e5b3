// Package output writes composited frames to the per-run result directory.
package output

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultSuffix follows the frame index in every output file name.
const DefaultSuffix = "_IUV.png"

// Config controls file naming.
type Config struct {
	// Dir is the parent of the per-run result directories.
	Dir    string `yaml:"dir"`
	Suffix string `yaml:"suffix"`
	// ContiguousNumbering numbers written files 0, 1, 2, ... instead of
	// using the sample index, which leaves gaps for skipped frames.
	ContiguousNumbering bool `yaml:"contiguous_numbering"`
}

// DefaultConfig returns the default output layout.
func DefaultConfig() Config {
	return Config{
		Dir:    "/tmp/infer_simple",
		Suffix: DefaultSuffix,
	}
}

// RunName is the input's base name up to its first dot.
func RunName(input string) string {
	base := filepath.Base(filepath.Clean(input))
	name, _, _ := strings.Cut(base, ".")
	return name
}

// ResultDir returns <outputDir>/<RunName(input)>.
func ResultDir(outputDir, input string) string {
	return filepath.Join(outputDir, RunName(input))
}

// Writer saves mosaics as numbered images. It is not safe for concurrent use.
type Writer struct {
	dir        string
	suffix     string
	contiguous bool
	written    int
}

// NewWriter creates the result directory for input.
func NewWriter(cfg Config, input string) (*Writer, error) {
	dir := ResultDir(cfg.Dir, input)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	suffix := cfg.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Writer{dir: dir, suffix: suffix, contiguous: cfg.ContiguousNumbering}, nil
}

// Dir returns the result directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Written returns how many files were saved.
func (w *Writer) Written() int {
	return w.written
}

// Path returns the file name used for index.
func (w *Writer) Path(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%d%s", index, w.suffix))
}

// Write saves img for the frame at sampleIndex and returns the path and the
// index used in its name.
func (w *Writer) Write(sampleIndex int, img image.Image) (string, int, error) {
	index := sampleIndex
	if w.contiguous {
		index = w.written
	}
	path := w.Path(index)
	if err := imaging.Save(img, path); err != nil {
		return "", -1, fmt.Errorf("save %s: %w", path, err)
	}
	w.written++
	return path, index, nil
}
