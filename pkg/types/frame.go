package types

import (
	"image"
	"time"
)

// Frame is one decoded picture handed to the detector.
type Frame struct {
	Index int          // Position in the source (stream position or listing index)
	Name  string       // Source file name, empty for video frames
	Image *image.NRGBA // Decoded pixels, never modified after decode
}

// Size returns the frame dimensions.
func (f Frame) Size() (width, height int) {
	if f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}

// FrameReport summarizes what happened to one sampled frame
type FrameReport struct {
	RunID       string
	FrameIndex  int // Position in the source
	SampleIndex int // Position among sampled frames
	OutputIndex int // Index used in the output file name, -1 when nothing was written
	Accepted    bool
	Detections  int
	Composited  int
	OutputPath  string
	DetectTime  time.Duration
	ComposeTime time.Duration
	Err         string
	Timestamp   time.Time
}
