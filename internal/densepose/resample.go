package densepose

import (
	"math"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// Resample scales f to width x height. The part index channel is sampled with
// nearest neighbour so part ids are never blended; U and V are interpolated
// bilinearly. Returns nil for an empty target.
func Resample(f *types.Field, width, height int) *types.Field {
	if f == nil || width <= 0 || height <= 0 {
		return nil
	}
	if f.Width == width && f.Height == height {
		out := types.NewField(width, height)
		copy(out.Pix, f.Pix)
		return out
	}

	out := types.NewField(width, height)
	sx := float64(f.Width) / float64(width)
	sy := float64(f.Height) / float64(height)

	for y := 0; y < height; y++ {
		// pixel centers, as in align_corners=false
		fy := (float64(y)+0.5)*sy - 0.5
		y0, y1, wy := neighbours(fy, f.Height)
		ny := clampIndex(int(math.Floor((float64(y)+0.5)*sy)), f.Height)

		for x := 0; x < width; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0, x1, wx := neighbours(fx, f.Width)
			nx := clampIndex(int(math.Floor((float64(x)+0.5)*sx)), f.Width)

			var v [types.FieldChannels]float32
			v[0] = f.At(nx, ny)[0]

			a, b := f.At(x0, y0), f.At(x1, y0)
			c, d := f.At(x0, y1), f.At(x1, y1)
			for ch := 1; ch < types.FieldChannels; ch++ {
				top := float64(a[ch])*(1-wx) + float64(b[ch])*wx
				bot := float64(c[ch])*(1-wx) + float64(d[ch])*wx
				v[ch] = float32(top*(1-wy) + bot*wy)
			}
			out.Set(x, y, v)
		}
	}
	return out
}

func neighbours(pos float64, size int) (lo, hi int, w float64) {
	if pos <= 0 {
		return 0, 0, 0
	}
	lo = int(math.Floor(pos))
	if lo >= size-1 {
		return size - 1, size - 1, 0
	}
	return lo, lo + 1, pos - float64(lo)
}

func clampIndex(i, size int) int {
	if i < 0 {
		return 0
	}
	if i >= size {
		return size - 1
	}
	return i
}
