package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/proto"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/manifest"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

const contentTypeProtobuf = "application/protobuf"

// Server serves the run monitor endpoints.
type Server struct {
	cfg         Config
	monitor     *Monitor
	broadcaster *FrameBroadcaster
	metrics     *metrics.Metrics
	srv         *http.Server
	listener    net.Listener
	done        chan error
	stopStreams context.CancelFunc
}

// NewServer returns a monitor server for one run. m may be nil.
func NewServer(cfg Config, run RunInfo, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:         cfg,
		monitor:     NewMonitor(run, cfg.History, m),
		broadcaster: NewFrameBroadcaster(cfg.PreviewWidth, cfg.PreviewQuality, m),
		metrics:     m,
	}
}

// Monitor returns the state behind the handlers.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Publish records a frame report and, when img is non-nil, pushes a preview
// to MJPEG clients.
func (s *Server) Publish(r types.FrameReport, img image.Image) {
	s.monitor.Publish(r)
	if img != nil {
		s.broadcaster.Publish(img)
	}
}

// Finish marks the run complete. The server keeps serving until Shutdown.
func (s *Server) Finish() {
	s.monitor.Finish()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	r.HandleFunc("/api/frames/latest", s.handleLatestFrame).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("monitor listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	base, cancel := context.WithCancel(context.Background())
	s.stopStreams = cancel
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	s.done = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	logger.Info("Monitor", "Serving on http://%s", ln.Addr())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown disconnects stream clients and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.Close()
	if s.srv == nil {
		return nil
	}
	s.stopStreams()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	return <-s.done
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	streamStatus(r.Context(), w, s.cfg.StatusInterval, s.monitor.Snapshot)
}

func (s *Server) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	report, version, ok := s.monitor.Latest()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no frame processed yet"}, http.StatusNotFound)
		return
	}

	if !wantsProtobuf(r.Header.Get("Accept")) {
		writeJSON(w, newReport(report, version))
		return
	}

	rec, err := manifest.Record(report)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	data, err := proto.Marshal(rec)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.Header().Set("X-Frame-Version", strconv.Itoa(version))
	_, _ = w.Write(data)
}

func wantsProtobuf(accept string) bool {
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("Monitor", "Response encode failed: %v", err)
	}
}
