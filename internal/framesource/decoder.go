package framesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
)

// Decoder produces decoded frames one at a time. Any error ends the stream.
type Decoder interface {
	Decode() (*image.NRGBA, error)
	Close() error
}

// StreamInfo describes the probed video stream.
type StreamInfo struct {
	Width     int
	Height    int
	FrameRate float64 // 0 when unknown
	Frames    int     // 0 when the container does not report it
	Codec     string
	Rotation  int // display rotation in degrees, normalized to [0, 360)
}

// rawDecoder reads packed rgb24 frames of a fixed size.
type rawDecoder struct {
	r      io.ReadCloser
	width  int
	height int
	buf    []byte
}

func newRawDecoder(r io.ReadCloser, width, height int) *rawDecoder {
	return &rawDecoder{
		r:      r,
		width:  width,
		height: height,
		buf:    make([]byte, width*height*3),
	}
}

func (d *rawDecoder) Decode() (*image.NRGBA, error) {
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, d.width, d.height))
	for p := 0; p < d.width*d.height; p++ {
		copy(img.Pix[p*4:p*4+3], d.buf[p*3:p*3+3])
		img.Pix[p*4+3] = 0xff
	}
	return img, nil
}

func (d *rawDecoder) Close() error {
	return d.r.Close()
}

// ffmpegDecoder runs ffmpeg as a child process and reads raw frames from its stdout.
type ffmpegDecoder struct {
	*rawDecoder
	info   StreamInfo
	cancel context.CancelFunc
	stderr io.WriteCloser

	done   chan struct{}
	runErr error
	once   sync.Once
}

type probeResult struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Probe reads the first video stream's geometry with ffprobe. Width and
// Height are the size of the frames ffmpeg emits, which is the coded size
// swapped when the stream carries a 90 or 270 degree rotation.
func Probe(path string) (StreamInfo, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe([]byte(out))
}

func parseProbe(data []byte) (StreamInfo, error) {
	var res probeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return StreamInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	for _, s := range res.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return StreamInfo{}, fmt.Errorf("video stream has invalid size %dx%d", s.Width, s.Height)
		}
		info := StreamInfo{Width: s.Width, Height: s.Height, Codec: s.CodecName}
		info.FrameRate = parseRate(s.AvgFrameRate)
		if info.FrameRate == 0 {
			info.FrameRate = parseRate(s.RFrameRate)
		}
		info.Frames, _ = strconv.Atoi(s.NbFrames)

		// Newer ffprobe reports the display matrix, older builds the rotate tag.
		rot := 0
		if r, err := strconv.Atoi(s.Tags.Rotate); err == nil {
			rot = r
		}
		for _, sd := range s.SideDataList {
			if sd.Rotation != nil {
				rot = int(math.Round(*sd.Rotation))
				break
			}
		}
		info.Rotation = ((rot % 360) + 360) % 360
		if info.Rotation == 90 || info.Rotation == 270 {
			info.Width, info.Height = info.Height, info.Width
		}
		return info, nil
	}
	return StreamInfo{}, errors.New("no video stream")
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func openFFmpeg(ctx context.Context, path string) (*ffmpegDecoder, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	info, err := Probe(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	d := &ffmpegDecoder{
		rawDecoder: newRawDecoder(pr, info.Width, info.Height),
		info:       info,
		cancel:     cancel,
		stderr:     logger.Writer(logger.DEBUG, "ffmpeg"),
		done:       make(chan struct{}),
	}

	stream := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24", "loglevel": "error"})
	stream.Context = ctx

	go func() {
		defer close(d.done)
		d.runErr = stream.WithOutput(pw).WithErrorOutput(d.stderr).Run()
		pw.CloseWithError(d.runErr)
	}()

	logger.Debug("FrameSource", "Decoding %s (%dx%d, %s, %.2f fps, rotation %d)", path, info.Width, info.Height, info.Codec, info.FrameRate, info.Rotation)
	return d, nil
}

// Close stops ffmpeg and waits for it to exit.
func (d *ffmpegDecoder) Close() error {
	var err error
	d.once.Do(func() {
		d.cancel()
		err = d.rawDecoder.Close()
		<-d.done
		d.stderr.Close()
	})
	return err
}
