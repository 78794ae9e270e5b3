package monitor

import (
	"bytes"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/metrics"
)

func TestBroadcasterFanout(t *testing.T) {
	m := metrics.New()
	fb := NewFrameBroadcaster(100, 80, m)

	id1, ch1 := fb.Subscribe()
	_, ch2 := fb.Subscribe()
	if got := m.ActiveClients.Load(); got != 2 {
		t.Fatalf("ActiveClients = %d", got)
	}

	fb.Publish(imaging.New(400, 200, color.NRGBA{R: 200, A: 255}))

	for i, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case data := <-ch:
			img, err := imaging.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("client %d: decode preview: %v", i, err)
			}
			if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
				t.Fatalf("client %d: preview size %v", i, b)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d: no frame", i)
		}
	}

	fb.Unsubscribe(id1)
	if got := m.ActiveClients.Load(); got != 1 {
		t.Fatalf("ActiveClients after unsubscribe = %d", got)
	}
	if _, ok := <-ch1; ok {
		t.Fatal("unsubscribed channel must be closed")
	}

	fb.Close()
	if got := m.ActiveClients.Load(); got != 0 {
		t.Fatalf("ActiveClients after close = %d", got)
	}
	if _, ok := <-ch2; ok {
		t.Fatal("close must disconnect clients")
	}
}

func TestBroadcasterLatestOnSubscribe(t *testing.T) {
	fb := NewFrameBroadcaster(0, 75, nil)
	_, first := fb.Subscribe()
	fb.Publish(imaging.New(8, 8, color.NRGBA{A: 255}))
	<-first

	_, late := fb.Subscribe()
	select {
	case data := <-late:
		if len(data) == 0 {
			t.Fatal("empty preview")
		}
	default:
		t.Fatal("late subscriber must receive the latest preview")
	}
}

func TestBroadcasterSkipsWithoutClients(t *testing.T) {
	fb := NewFrameBroadcaster(0, 75, nil)
	fb.Publish(imaging.New(8, 8, color.NRGBA{A: 255}))
	if fb.latest != nil {
		t.Fatal("preview encoded with no clients")
	}
}
