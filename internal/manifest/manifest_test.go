package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

func TestWriteAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reports := []types.FrameReport{
		{RunID: "r1", FrameIndex: 0, SampleIndex: 0, OutputIndex: 0, Accepted: true, Detections: 3, Composited: 2,
			OutputPath: "/tmp/x/0_IUV.png", DetectTime: 1500 * time.Microsecond, Timestamp: ts},
		{RunID: "r1", FrameIndex: 2, SampleIndex: 1, OutputIndex: -1, Detections: 1, Timestamp: ts},
		{RunID: "r1", FrameIndex: 4, SampleIndex: 2, OutputIndex: -1, Err: "worker: timeout", Timestamp: ts},
	}
	for _, r := range reports {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if w.Count() != 3 {
		t.Fatalf("Count = %d", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d records", len(got))
	}

	first := got[0].AsMap()
	if first["accepted"] != true || first["output_path"] != "/tmp/x/0_IUV.png" || first["detect_ms"] != 1.5 {
		t.Fatalf("first record = %v", first)
	}
	if first["composited"] != float64(2) {
		t.Fatalf("numbers decode as float64: %v", first["composited"])
	}
	second := got[1].AsMap()
	if _, ok := second["output_path"]; ok {
		t.Fatalf("skipped frame must not carry an output path: %v", second)
	}
	if second["output_index"] != float64(-1) {
		t.Fatalf("output_index = %v", second["output_index"])
	}
	if got[2].AsMap()["error"] != "worker: timeout" {
		t.Fatalf("error not recorded: %v", got[2].AsMap())
	}
}

func TestReadAllMissing(t *testing.T) {
	if _, err := ReadAll(filepath.Join(t.TempDir(), "none.pb")); err == nil {
		t.Fatal("expected error")
	}
}
