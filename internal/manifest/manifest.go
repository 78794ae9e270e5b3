// Package manifest records one protobuf Struct per processed frame in a
// length-delimited file next to the output images.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// FileName is the manifest name inside a result directory.
const FileName = "frames.pb"

// Record converts a frame report to a Struct.
func Record(r types.FrameReport) (*structpb.Struct, error) {
	fields := map[string]any{
		"run_id":       r.RunID,
		"frame_index":  r.FrameIndex,
		"sample_index": r.SampleIndex,
		"output_index": r.OutputIndex,
		"accepted":     r.Accepted,
		"detections":   r.Detections,
		"composited":   r.Composited,
		"detect_ms":    float64(r.DetectTime.Microseconds()) / 1000,
		"compose_ms":   float64(r.ComposeTime.Microseconds()) / 1000,
		"timestamp":    r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if r.OutputPath != "" {
		fields["output_path"] = r.OutputPath
	}
	if r.Err != "" {
		fields["error"] = r.Err
	}
	return structpb.NewStruct(fields)
}

// Writer appends records to a manifest file.
type Writer struct {
	f     *os.File
	bw    *bufio.Writer
	count int
}

// Create truncates or creates the manifest at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	return &Writer{f: f, bw: bufio.NewWriter(f)}, nil
}

// Append writes one record.
func (w *Writer) Append(r types.FrameReport) error {
	s, err := Record(r)
	if err != nil {
		return fmt.Errorf("build record: %w", err)
	}
	if _, err := protodelim.MarshalTo(w.bw, s); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	return multierr.Combine(w.bw.Flush(), w.f.Close())
}

// ReadAll decodes every record in the manifest at path.
func ReadAll(path string) ([]*structpb.Struct, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var out []*structpb.Struct
	for {
		s := &structpb.Struct{}
		err := protodelim.UnmarshalFrom(br, s)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, s)
	}
}
