package monitor

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/ldscan/internal/lidar"
	"github.com/banshee-data/ldscan/internal/lidar/l2frames"
	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
)

// fakeScans is an in-memory ScanSource.
type fakeScans struct {
	mu           sync.Mutex
	frame        *pipeline.Frame
	stats        pipeline.Stats
	subs         map[string]chan *pipeline.Frame
	unsubscribed []string
	subscribed   chan string
	next         int
}

func newFakeScans() *fakeScans {
	return &fakeScans{
		stats:      pipeline.Stats{Source: "synthetic", Running: true},
		subs:       make(map[string]chan *pipeline.Frame),
		subscribed: make(chan string, 8),
	}
}

func (f *fakeScans) Latest() *pipeline.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func (f *fakeScans) Stats() pipeline.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeScans) Subscribe() (string, <-chan *pipeline.Frame) {
	f.mu.Lock()
	f.next++
	id := fmt.Sprintf("sub-%d", f.next)
	ch := make(chan *pipeline.Frame, 4)
	f.subs[id] = ch
	f.mu.Unlock()
	f.subscribed <- id
	return id, ch
}

func (f *fakeScans) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, id)
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *fakeScans) send(id string, fr *pipeline.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id] <- fr
}

func (f *fakeScans) end(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *fakeScans) setFrame(fr *pipeline.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame = fr
}

// ringPoints returns a full revolution at a constant distance, with every
// eighth point a no-return.
func ringPoints(distance uint16) []lidar.Point {
	pts := make([]lidar.Point, l2frames.ScanCapacity)
	for i := range pts {
		pts[i] = lidar.Point{
			Angle:     2 * math.Pi * float64(i) / float64(len(pts)),
			Distance:  distance,
			Intensity: uint8(i % 256),
		}
		if i%8 == 0 {
			pts[i].Distance = 0
		}
	}
	return pts
}

func testFrame(t *testing.T, seq uint64) *pipeline.Frame {
	t.Helper()
	scan, ok := l2frames.NewScan(ringPoints(1000))
	if !ok {
		t.Fatal("NewScan rejected a full revolution")
	}
	return &pipeline.Frame{
		Seq:       seq,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Duration:  100 * time.Millisecond,
		Scan:      scan,
	}
}

// zeroScan is a full revolution with no returns.
func zeroScan(t *testing.T) *l2frames.Scan {
	t.Helper()
	scan, ok := l2frames.NewScan(ringPoints(0))
	if !ok {
		t.Fatal("NewScan rejected a full revolution")
	}
	return scan
}
