package mosaic

import (
	"math"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// canvas is the float accumulator for one Compose call. It is never reused.
type canvas struct {
	width, height int
	pix           []float32 // HWC, types.FieldChannels per pixel
	owner         []int32   // 0 = unclaimed, otherwise order+1
}

func newCanvas(width, height int) *canvas {
	return &canvas{
		width:  width,
		height: height,
		pix:    make([]float32, width*height*types.FieldChannels),
		owner:  make([]int32, width*height),
	}
}

func (c *canvas) claimed(i int) bool {
	p := c.pix[i*types.FieldChannels : (i+1)*types.FieldChannels]
	return p[0] != 0 || p[1] != 0 || p[2] != 0
}

// merge writes f at (ox, oy) into every unclaimed pixel it covers and
// returns how many pixels it claimed.
func (c *canvas) merge(f *types.Field, ox, oy int, order int) int {
	x0, y0 := max(ox, 0), max(oy, 0)
	x1, y1 := min(ox+f.Width, c.width), min(oy+f.Height, c.height)
	if x0 >= x1 || y0 >= y1 {
		return 0
	}

	n := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			i := y*c.width + x
			if c.claimed(i) {
				continue
			}
			v := f.At(x-ox, y-oy)
			if v[0] == 0 && v[1] == 0 && v[2] == 0 {
				continue
			}
			copy(c.pix[i*types.FieldChannels:], v[:])
			c.owner[i] = int32(order + 1)
			n++
		}
	}
	return n
}

// finish scales U and V to 8 bits and clamps every channel.
func (c *canvas) finish() []uint8 {
	out := make([]uint8, len(c.pix))
	for i, v := range c.pix {
		if i%types.FieldChannels != 0 {
			v *= 255
		}
		out[i] = clampByte(v)
	}
	return out
}

func clampByte(v float32) uint8 {
	switch {
	case math.IsNaN(float64(v)), v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
