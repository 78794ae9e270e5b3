// Package imageset loads still images from a directory as frames.
package imageset

import (
	"fmt"
	"image"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"

	// Formats beyond the stdlib ones imaging registers.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// List returns the files in dir whose name ends with "."+ext, sorted by name.
// Subdirectories are not searched.
func List(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	suffix := "." + strings.TrimPrefix(ext, ".")

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}

// Load decodes one image, applying its EXIF orientation.
func Load(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return imaging.Clone(img), nil
}

// Set is an ordered list of image files.
type Set struct {
	paths []string
}

// Open lists dir for files with extension ext.
func Open(dir, ext string) (*Set, error) {
	paths, err := List(dir, ext)
	if err != nil {
		return nil, err
	}
	return &Set{paths: paths}, nil
}

// FromPaths builds a set from explicit paths, kept in the given order.
func FromPaths(paths ...string) *Set {
	return &Set{paths: slices.Clone(paths)}
}

// Len returns the number of files.
func (s *Set) Len() int {
	return len(s.paths)
}

// Paths returns the files in iteration order.
func (s *Set) Paths() []string {
	return slices.Clone(s.paths)
}

// Frames loads each image lazily. Index is the file's position in the set,
// counted whether or not it decodes.
func (s *Set) Frames() iter.Seq2[types.Frame, error] {
	return func(yield func(types.Frame, error) bool) {
		for i, p := range s.paths {
			img, err := Load(p)
			f := types.Frame{Index: i, Name: filepath.Base(p), Image: img}
			if !yield(f, err) {
				return
			}
		}
	}
}
