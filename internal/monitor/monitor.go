package monitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// Monitor holds the state the HTTP handlers read.
type Monitor struct {
	startTime   time.Time
	historySize int
	metrics     *metrics.Metrics

	mu        sync.Mutex
	run       RunInfo
	version   int
	latest    *types.FrameReport
	latestRep *Report
	history   []Report
}

// NewMonitor creates a Monitor for one run. m may be nil.
func NewMonitor(run RunInfo, historySize int, m *metrics.Metrics) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().History
	}
	if m == nil {
		m = metrics.New()
	}
	now := time.Now()
	run.Running = true
	run.StartedAt = float64(now.UnixMilli()) / 1000
	return &Monitor{
		startTime:   now,
		historySize: historySize,
		metrics:     m,
		run:         run,
	}
}

// Publish stores a new frame report.
func (m *Monitor) Publish(r types.FrameReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.version++
	rep := newReport(r, m.version)
	m.latest = &r
	m.latestRep = &rep
	if r.OutputPath != "" {
		m.history = append([]Report{rep}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
}

// Finish marks the run as complete.
func (m *Monitor) Finish() {
	m.mu.Lock()
	m.run.Running = false
	m.mu.Unlock()
}

// Latest returns the most recent report and its version.
func (m *Monitor) Latest() (types.FrameReport, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return types.FrameReport{}, 0, false
	}
	return *m.latest, m.version, true
}

// Snapshot returns the current status.
func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := m.run
	if run.Running {
		run.UptimeSec = time.Since(m.startTime).Seconds()
	}

	var latest *Report
	if m.latestRep != nil {
		rep := *m.latestRep
		latest = &rep
	}
	historyCopy := make([]Report, len(m.history))
	copy(historyCopy, m.history)

	return Status{
		Run:      run,
		Counters: m.metrics.Snapshot(),
		Latest:   latest,
		History:  historyCopy,
		Clients:  m.metrics.ActiveClients.Load(),
		Time:     float64(time.Now().UnixMilli()) / 1000,
	}
}
