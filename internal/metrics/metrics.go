package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters of one extraction run
type Metrics struct {
	// Frame counters
	FramesDecoded atomic.Uint64
	FramesSampled atomic.Uint64
	FramesSkipped atomic.Uint64 // Below the frame acceptance threshold
	FramesWritten atomic.Uint64

	// Detection counters
	Detections          atomic.Uint64
	InstancesComposited atomic.Uint64

	// Error counters
	DecodeErrors   atomic.Uint64
	DetectErrors   atomic.Uint64
	WriteErrors    atomic.Uint64
	RecorderErrors atomic.Uint64

	// Latest latencies in ms
	DetectLatencyMs  atomic.Uint64
	ComposeLatencyMs atomic.Uint64

	// Video output
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingFrames atomic.Uint64

	// Monitor clients
	ActiveClients atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"iuv_frames_decoded_total", "Total frames decoded from the input", &m.FramesDecoded},
		{"iuv_frames_sampled_total", "Total frames handed to the detector", &m.FramesSampled},
		{"iuv_frames_skipped_total", "Total frames without a qualifying detection", &m.FramesSkipped},
		{"iuv_frames_written_total", "Total IUV images written", &m.FramesWritten},
		{"iuv_detections_total", "Total detections returned by the detector", &m.Detections},
		{"iuv_instances_composited_total", "Total instances merged into mosaics", &m.InstancesComposited},
		{"iuv_decode_errors_total", "Total input images that failed to decode", &m.DecodeErrors},
		{"iuv_detect_errors_total", "Total detector failures", &m.DetectErrors},
		{"iuv_write_errors_total", "Total output write failures", &m.WriteErrors},
		{"iuv_recorder_errors_total", "Total video encoder failures", &m.RecorderErrors},
		{"iuv_detect_latency_ms", "Latest detector latency in milliseconds", &m.DetectLatencyMs},
		{"iuv_compose_latency_ms", "Latest compositing latency in milliseconds", &m.ComposeLatencyMs},
		{"iuv_recording_active", "Video output active (0=inactive, 1=active)", &m.RecordingActive},
		{"iuv_recording_frames", "Total frames encoded into the output video", &m.RecordingFrames},
		{"iuv_monitor_clients", "Number of connected monitor clients", &m.ActiveClients},
	}
	for _, g := range gauges {
		v := g.v
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(v.Load()) },
		))
	}
}

// ObserveDetect records the latest detector latency
func (m *Metrics) ObserveDetect(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// ObserveCompose records the latest compositing latency
func (m *Metrics) ObserveCompose(d time.Duration) {
	m.ComposeLatencyMs.Store(uint64(d.Milliseconds()))
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	FramesDecoded       uint64 `json:"frames_decoded"`
	FramesSampled       uint64 `json:"frames_sampled"`
	FramesSkipped       uint64 `json:"frames_skipped"`
	FramesWritten       uint64 `json:"frames_written"`
	Detections          uint64 `json:"detections"`
	InstancesComposited uint64 `json:"instances_composited"`
	DecodeErrors        uint64 `json:"decode_errors"`
	DetectErrors        uint64 `json:"detect_errors"`
	WriteErrors         uint64 `json:"write_errors"`
	RecorderErrors      uint64 `json:"recorder_errors"`
	DetectLatencyMs     uint64 `json:"detect_latency_ms"`
	ComposeLatencyMs    uint64 `json:"compose_latency_ms"`
	RecordingFrames     uint64 `json:"recording_frames"`
}

// Snapshot copies the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesDecoded:       m.FramesDecoded.Load(),
		FramesSampled:       m.FramesSampled.Load(),
		FramesSkipped:       m.FramesSkipped.Load(),
		FramesWritten:       m.FramesWritten.Load(),
		Detections:          m.Detections.Load(),
		InstancesComposited: m.InstancesComposited.Load(),
		DecodeErrors:        m.DecodeErrors.Load(),
		DetectErrors:        m.DetectErrors.Load(),
		WriteErrors:         m.WriteErrors.Load(),
		RecorderErrors:      m.RecorderErrors.Load(),
		DetectLatencyMs:     m.DetectLatencyMs.Load(),
		ComposeLatencyMs:    m.ComposeLatencyMs.Load(),
		RecordingFrames:     m.RecordingFrames.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
