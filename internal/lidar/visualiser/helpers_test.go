package visualiser

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/ldscan/internal/lidar"
	"github.com/banshee-data/ldscan/internal/lidar/l2frames"
	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
)

type fakeScans struct {
	mu         sync.Mutex
	latest     *pipeline.Frame
	subs       map[string]chan *pipeline.Frame
	subscribed chan string
	next       int
}

func newFakeScans() *fakeScans {
	return &fakeScans{
		subs:       make(map[string]chan *pipeline.Frame),
		subscribed: make(chan string, 8),
	}
}

func (f *fakeScans) Latest() *pipeline.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
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

func (f *fakeScans) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeScans) waitSubscribed(t *testing.T) string {
	t.Helper()
	select {
	case id := <-f.subscribed:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("stream never subscribed")
		return ""
	}
}

func testFrame(t *testing.T, seq uint64) *pipeline.Frame {
	t.Helper()
	pts := make([]lidar.Point, l2frames.ScanCapacity)
	for i := range pts {
		pts[i] = lidar.Point{
			Angle:     2*math.Pi*float64(i)/float64(len(pts)) + 0.001,
			Distance:  uint16(500 + i),
			Intensity: uint8(i),
		}
	}
	scan, ok := l2frames.NewScan(pts)
	if !ok {
		t.Fatal("NewScan rejected a full revolution")
	}
	return &pipeline.Frame{
		Seq:       seq,
		Timestamp: time.Unix(1700000000, int64(seq)*1000),
		Duration:  98 * time.Millisecond,
		Scan:      scan,
	}
}

// startBufconn serves a publisher on an in-memory listener and returns a
// connected client.
func startBufconn(t *testing.T, cfg Config, src ScanSource) (*Publisher, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	p := NewPublisher(cfg, src)
	if err := p.Serve(lis); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	t.Cleanup(p.Stop)

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return p, c
}
