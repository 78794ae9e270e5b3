package types

import "fmt"

// FieldChannels is the number of channels in a dense field: part index, U, V.
const FieldChannels = 3

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X0, Y0, X1, Y1 float64
}

// Width returns the box width in pixels
func (b Box) Width() float64 { return b.X1 - b.X0 }

// Height returns the box height in pixels
func (b Box) Height() float64 { return b.Y1 - b.Y0 }

// Field is a dense IUV patch covering one detected instance.
// Channel 0 holds the part index (0 means no surface), channels 1 and 2 hold
// U and V in their unscaled range. Pixels are stored interleaved, row-major.
type Field struct {
	Width  int
	Height int
	Pix    []float32
}

// NewField allocates a zeroed field.
func NewField(width, height int) *Field {
	return &Field{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*FieldChannels),
	}
}

// FieldFromCHW builds a field from channel-first data, the layout detectors emit.
func FieldFromCHW(width, height int, data []float32) (*Field, error) {
	plane := width * height
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid field size %dx%d", width, height)
	}
	if len(data) != plane*FieldChannels {
		return nil, fmt.Errorf("field data length %d does not match %dx%dx%d", len(data), FieldChannels, height, width)
	}

	f := NewField(width, height)
	for c := 0; c < FieldChannels; c++ {
		src := data[c*plane : (c+1)*plane]
		for i, v := range src {
			f.Pix[i*FieldChannels+c] = v
		}
	}
	return f, nil
}

// At returns the three channel values at (x, y).
func (f *Field) At(x, y int) [FieldChannels]float32 {
	i := (y*f.Width + x) * FieldChannels
	return [FieldChannels]float32{f.Pix[i], f.Pix[i+1], f.Pix[i+2]}
}

// Set stores the three channel values at (x, y).
func (f *Field) Set(x, y int, v [FieldChannels]float32) {
	i := (y*f.Width + x) * FieldChannels
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = v[0], v[1], v[2]
}

// Detection is one detected instance after class flattening.
type Detection struct {
	Box        Box
	Confidence float64
	ClassID    int
	Field      *Field      // nil when the detector produced no dense output
	Segment    []byte      // Encoded mask, nil when absent
	Keypoints  [][]float64 // nil when absent
}

// ClassGroup is the detector output for one class. Boxes rows are
// x0, y0, x1, y1[, ...], score with the confidence in the last column.
// Fields, Segments and Keypoints are optional and parallel to Boxes.
type ClassGroup struct {
	Boxes     [][]float64
	Fields    []*Field
	Segments  [][]byte
	Keypoints [][][]float64
}
