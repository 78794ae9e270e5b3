package worker

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// maxMessageSize bounds a single response. A 4K frame with a few hundred
// dense patches stays well below it.
const maxMessageSize = 512 << 20

// request is one frame sent to the worker.
type request struct {
	Type      string `msgpack:"type"`
	Seq       uint64 `msgpack:"seq"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	PixFmt    string `msgpack:"pix_fmt"`
	FrameData []byte `msgpack:"frame_data"`
}

// response carries the detector output for one request.
type response struct {
	Seq    uint64             `msgpack:"seq"`
	Groups []group            `msgpack:"groups"`
	Timing map[string]float64 `msgpack:"timing"`
	Error  string             `msgpack:"error"`
}

// group is the output for one class.
type group struct {
	Boxes     [][]float64   `msgpack:"boxes"`
	Bodies    []body        `msgpack:"bodies"`
	Segms     [][]byte      `msgpack:"segms"`
	Keypoints [][][]float64 `msgpack:"keypoints"`
}

// body is a dense patch as channel-first little-endian float32 bytes.
type body struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Data   []byte `msgpack:"data"`
}

// writeMessage writes a 4-byte big-endian length followed by the msgpack body.
func writeMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// classGroups converts wire groups into detector output.
func classGroups(groups []group) ([]types.ClassGroup, error) {
	out := make([]types.ClassGroup, len(groups))
	for i, g := range groups {
		cg := types.ClassGroup{
			Boxes:     g.Boxes,
			Segments:  g.Segms,
			Keypoints: g.Keypoints,
		}
		if len(g.Bodies) > 0 {
			cg.Fields = make([]*types.Field, len(g.Bodies))
			for j, b := range g.Bodies {
				f, err := b.field()
				if err != nil {
					return nil, fmt.Errorf("class %d body %d: %w", i, j, err)
				}
				cg.Fields[j] = f
			}
		}
		out[i] = cg
	}
	return out, nil
}

func (b body) field() (*types.Field, error) {
	if len(b.Data)%4 != 0 {
		return nil, fmt.Errorf("body data length %d is not a multiple of 4", len(b.Data))
	}
	vals := make([]float32, len(b.Data)/4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:]))
	}
	return types.FieldFromCHW(b.Width, b.Height, vals)
}

// encodeBody is the inverse of body.field, used by tests and tools.
func encodeBody(f *types.Field) body {
	plane := f.Width * f.Height
	data := make([]byte, plane*types.FieldChannels*4)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := f.At(x, y)
			for c := 0; c < types.FieldChannels; c++ {
				off := (c*plane + y*f.Width + x) * 4
				binary.LittleEndian.PutUint32(data[off:], math.Float32bits(v[c]))
			}
		}
	}
	return body{Width: f.Width, Height: f.Height, Data: data}
}
