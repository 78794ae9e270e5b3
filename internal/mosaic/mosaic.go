// Package mosaic merges the dense fields of one frame's detections into a
// single per-pixel IUV map.
package mosaic

import (
	"cmp"
	"image"
	"slices"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/densepose"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// Priority selects the order in which detections claim pixels.
type Priority int

const (
	// Ascending processes low confidence first. Because claimed pixels are
	// never overwritten, the lower confidence detection keeps overlaps.
	Ascending Priority = iota
	// Descending processes high confidence first, so it keeps overlaps.
	Descending
)

// String returns the config name of the priority.
func (p Priority) String() string {
	switch p {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	default:
		return "unknown"
	}
}

// ParsePriority parses "ascending" or "descending".
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "", "ascending", "asc":
		return Ascending, true
	case "descending", "desc":
		return Descending, true
	}
	return Ascending, false
}

// Default thresholds.
const (
	DefaultFrameThreshold    = 0.9
	DefaultInstanceThreshold = 0.65
)

// Config controls frame acceptance and instance inclusion.
type Config struct {
	// FrameThreshold is the minimum best confidence a frame needs to produce output.
	FrameThreshold float64
	// InstanceThreshold must be strictly exceeded for a detection to be merged.
	InstanceThreshold float64
	Priority          Priority
}

// DefaultConfig returns the reference thresholds with ascending priority.
func DefaultConfig() Config {
	return Config{
		FrameThreshold:    DefaultFrameThreshold,
		InstanceThreshold: DefaultInstanceThreshold,
		Priority:          Ascending,
	}
}

// Instance records one detection merged into a mosaic.
type Instance struct {
	Order      int // Position in the priority iteration; Owner values refer to it
	Source     int // Position in the input detection list
	ClassID    int
	Confidence float64
	Box        types.Box
	Pixels     int // Pixels this instance claimed
}

// Mosaic is a finished per-frame IUV map.
type Mosaic struct {
	Width     int
	Height    int
	Pix       []uint8 // I, U, V interleaved, row-major
	Instances []Instance

	owner []int32
}

// Compositor merges detections under a fixed Config. It holds no per-frame state.
type Compositor struct {
	cfg Config
}

// New creates a compositor.
func New(cfg Config) *Compositor {
	return &Compositor{cfg: cfg}
}

// Config returns the compositor configuration.
func (c *Compositor) Config() Config {
	return c.cfg
}

// Compose uses the default configuration.
func Compose(width, height int, dets []types.Detection) (*Mosaic, bool) {
	return New(DefaultConfig()).Compose(width, height, dets)
}

// Compose merges dets into a width x height mosaic. It returns false, and
// allocates nothing, when dets is empty or no detection reaches the frame
// threshold.
func (c *Compositor) Compose(width, height int, dets []types.Detection) (*Mosaic, bool) {
	if len(dets) == 0 || width <= 0 || height <= 0 {
		return nil, false
	}
	if densepose.MaxConfidence(dets) < c.cfg.FrameThreshold {
		return nil, false
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		r := cmp.Compare(dets[a].Confidence, dets[b].Confidence)
		if c.cfg.Priority == Descending {
			r = -r
		}
		return r
	})

	cv := newCanvas(width, height)
	var instances []Instance
	for pos, idx := range order {
		d := dets[idx]
		if d.Confidence <= c.cfg.InstanceThreshold || d.Field == nil {
			continue
		}
		n := cv.merge(d.Field, int(d.Box.X0), int(d.Box.Y0), pos)
		instances = append(instances, Instance{
			Order:      pos,
			Source:     idx,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			Box:        d.Box,
			Pixels:     n,
		})
	}

	return &Mosaic{
		Width:     width,
		Height:    height,
		Pix:       cv.finish(),
		Instances: instances,
		owner:     cv.owner,
	}, true
}

// IUV returns the 8-bit channel values at (x, y).
func (m *Mosaic) IUV(x, y int) [3]uint8 {
	i := (y*m.Width + x) * types.FieldChannels
	return [3]uint8{m.Pix[i], m.Pix[i+1], m.Pix[i+2]}
}

// Owner returns the priority order of the detection that claimed (x, y).
func (m *Mosaic) Owner(x, y int) (int, bool) {
	o := m.owner[y*m.Width+x]
	if o == 0 {
		return 0, false
	}
	return int(o) - 1, true
}

// Bounds returns the mosaic rectangle.
func (m *Mosaic) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Covered counts claimed pixels.
func (m *Mosaic) Covered() int {
	n := 0
	for _, o := range m.owner {
		if o != 0 {
			n++
		}
	}
	return n
}

// Image renders the mosaic for PNG output. I, U and V go to the blue, green
// and red channels, the layout OpenCV-based DensePose tooling reads back.
func (m *Mosaic) Image() *image.NRGBA {
	img := image.NewNRGBA(m.Bounds())
	for p := 0; p < m.Width*m.Height; p++ {
		src := m.Pix[p*types.FieldChannels:]
		dst := img.Pix[p*4:]
		dst[0] = src[2]
		dst[1] = src[1]
		dst[2] = src[0]
		dst[3] = 0xff
	}
	return img
}
