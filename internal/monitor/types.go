package monitor

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// Report is the JSON shape of one frame report.
type Report struct {
	FrameIndex  int     `json:"frame_index"`
	SampleIndex int     `json:"sample_index"`
	OutputIndex int     `json:"output_index"`
	Accepted    bool    `json:"accepted"`
	Detections  int     `json:"detections"`
	Composited  int     `json:"composited"`
	OutputPath  string  `json:"output_path,omitempty"`
	DetectMs    float64 `json:"detect_ms"`
	ComposeMs   float64 `json:"compose_ms"`
	Error       string  `json:"error,omitempty"`
	Timestamp   float64 `json:"timestamp"`
	Version     int     `json:"version"`
}

func newReport(r types.FrameReport, version int) Report {
	return Report{
		FrameIndex:  r.FrameIndex,
		SampleIndex: r.SampleIndex,
		OutputIndex: r.OutputIndex,
		Accepted:    r.Accepted,
		Detections:  r.Detections,
		Composited:  r.Composited,
		OutputPath:  r.OutputPath,
		DetectMs:    float64(r.DetectTime.Microseconds()) / 1000,
		ComposeMs:   float64(r.ComposeTime.Microseconds()) / 1000,
		Error:       r.Err,
		Timestamp:   float64(r.Timestamp.UnixMilli()) / 1000,
		Version:     version,
	}
}

// RunInfo describes the run being monitored.
type RunInfo struct {
	RunID     string  `json:"run_id"`
	Input     string  `json:"input"`
	OutputDir string  `json:"output_dir"`
	Running   bool    `json:"running"`
	StartedAt float64 `json:"started_at"`
	UptimeSec float64 `json:"uptime_sec"`
}

// Status is the payload of /api/status and each /api/status/stream event.
type Status struct {
	Run      RunInfo          `json:"run"`
	Counters metrics.Snapshot `json:"counters"`
	Latest   *Report          `json:"latest_frame"`
	History  []Report         `json:"output_history"`
	Clients  uint64           `json:"clients"`
	Time     float64          `json:"timestamp"`
}
