package monitor

import (
	"bytes"
	"image"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/metrics"
)

// FrameBroadcaster manages fanout of JPEG previews to multiple clients.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	latest    []byte
	width     int
	quality   int
	metrics   *metrics.Metrics
	closed    bool
	skipCount int // Previews not encoded because nobody was watching
}

// NewFrameBroadcaster creates a broadcaster that scales previews to width
// (0 keeps the original size).
func NewFrameBroadcaster(width, quality int, m *metrics.Metrics) *FrameBroadcaster {
	if m == nil {
		m = metrics.New()
	}
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		width:   width,
		quality: quality,
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The latest preview, if any, is queued immediately.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.closed {
		close(ch)
		return id, ch
	}
	if fb.latest != nil {
		ch <- fb.latest
	}
	fb.clients[id] = ch
	fb.metrics.ActiveClients.Add(1)

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		fb.metrics.ActiveClients.Add(^uint64(0))
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Clients returns the number of subscribers.
func (fb *FrameBroadcaster) Clients() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Publish encodes img as a JPEG preview and fans it out. Encoding is
// skipped while no client is connected.
func (fb *FrameBroadcaster) Publish(img image.Image) {
	if fb.Clients() == 0 {
		fb.mu.Lock()
		fb.skipCount++
		if fb.skipCount%100 == 0 {
			logger.Debug("FrameBroadcaster", "No clients connected, %d previews skipped", fb.skipCount)
		}
		fb.mu.Unlock()
		return
	}

	data, err := fb.encode(img)
	if err != nil {
		logger.Warn("FrameBroadcaster", "Preview encode failed: %v", err)
		return
	}
	fb.broadcast(data)
}

func (fb *FrameBroadcaster) encode(img image.Image) ([]byte, error) {
	if fb.width > 0 && img.Bounds().Dx() > fb.width {
		img = imaging.Resize(img, fb.width, 0, imaging.Box)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(fb.quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest = data
	fb.skipCount = 0
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// Close disconnects every client.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.closed {
		return
	}
	fb.closed = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
		fb.metrics.ActiveClients.Add(^uint64(0))
	}
}
