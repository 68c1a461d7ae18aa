package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ldscan/internal/lidar/l1packets/parse"
	"github.com/banshee-data/ldscan/internal/lidar/l1packets/source"
	"github.com/banshee-data/ldscan/internal/lidar/l2frames"
	"github.com/banshee-data/ldscan/internal/monitoring"
)

var logf = monitoring.Component("pipeline")

// Defaults for Config.
const (
	DefaultStatsInterval    = 5 * time.Second
	DefaultSubscriberBuffer = 4
)

// Config controls a Runner.
type Config struct {
	// RetryBackoff is the pause after a failed scan before assembly starts
	// again. Zero stops the run on the first failure.
	RetryBackoff time.Duration
	// StatsInterval is how often the throughput line is logged. Negative
	// disables it; zero selects DefaultStatsInterval.
	StatsInterval time.Duration
	// StrictChecksum logs every packet whose CRC-8 does not match. The
	// packet is still used either way.
	StrictChecksum bool
	// SubscriberBuffer is the channel depth given to each subscriber.
	SubscriberBuffer int
}

// Frame is a published scan. Frames are immutable once published and may
// be shared between goroutines.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	// Duration is the wall time spent assembling the scan.
	Duration time.Duration
	Scan     *l2frames.Scan
}

// Stats is a snapshot of runner counters.
type Stats struct {
	Source         string    `json:"source"`
	StartedAt      time.Time `json:"started_at"`
	Running        bool      `json:"running"`
	ScansOK        uint64    `json:"scans_ok"`
	ScansFailed    uint64    `json:"scans_failed"`
	DroppedFrames  uint64    `json:"dropped_frames"`
	LastSeq        uint64    `json:"last_seq"`
	ScansPerSecond float64   `json:"scans_per_second"`
	LastPoints     int       `json:"last_points"`
	Subscribers    int       `json:"subscribers"`
	LastError      string    `json:"last_error,omitempty"`
}

// Runner reads scans from a Source and publishes them. Assembly runs on the
// Run goroutine into the assembler's working buffer; each completed scan is
// copied into a fresh Frame and swapped in atomically, so readers of Latest
// never see a scan that is still being written.
type Runner struct {
	src     source.Source
	cfg     Config
	metrics *Metrics

	latest atomic.Pointer[Frame]

	subsMu sync.RWMutex
	subs   map[string]chan *Frame
	done   bool

	running atomic.Bool
	ok      atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
	rate    atomic.Uint64 // math.Float64bits of scans/s over the last interval

	mu        sync.Mutex
	startedAt time.Time
	lastErr   error
}

// NewRunner returns a Runner for src. metrics may be nil.
func NewRunner(src source.Source, cfg Config, metrics *Metrics) *Runner {
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return &Runner{
		src:     src,
		cfg:     cfg,
		metrics: metrics,
		subs:    make(map[string]chan *Frame),
	}
}

// Run assembles scans until ctx is cancelled, the source reaches EOF, or a
// scan fails with retries disabled. Cancellation closes the source so that
// a blocked read returns; cancellation and EOF are not errors. Subscriber
// channels are closed when Run returns. A Runner runs once.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("pipeline already running")
	}
	defer r.running.Store(false)
	defer r.closeSubscribers()

	r.mu.Lock()
	r.startedAt = time.Now()
	r.mu.Unlock()
	stop := context.AfterFunc(ctx, func() {
		if err := r.src.Close(); err != nil {
			logf("closing %s: %v", r.src.Name(), err)
		}
	})
	defer stop()

	statsDone := make(chan struct{})
	defer close(statsDone)
	if r.cfg.StatsInterval > 0 {
		go r.statsLoop(statsDone)
	}

	asm := l2frames.NewAssembler(r.src)
	asm.SetObserver(r.observer())

	logf("reading scans from %s", r.src.Name())
	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		scan, err := asm.AssembleScan()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				logf("%s: end of stream", r.src.Name())
				return nil
			}

			r.failed.Add(1)
			r.metrics.scanFailed(err)
			r.setErr(err)

			if r.cfg.RetryBackoff <= 0 {
				return fmt.Errorf("scan from %s: %w", r.src.Name(), err)
			}
			logf("scan failed (%s): %v; retrying in %s", parse.ErrorKind(err), err, r.cfg.RetryBackoff)

			t := time.NewTimer(r.cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			continue
		}

		now := time.Now()
		r.publish(&Frame{
			Timestamp: now,
			Duration:  now.Sub(start),
			Scan:      scan.Clone(),
		})
	}
}

func (r *Runner) publish(f *Frame) {
	f.Seq = r.ok.Add(1)
	r.latest.Store(f)
	r.metrics.scanAssembled(f.Duration, f.Timestamp)

	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- f:
		default:
			r.dropped.Add(1)
		}
	}
}

// Latest returns the most recently published frame, or nil before the
// first scan completes.
func (r *Runner) Latest() *Frame {
	return r.latest.Load()
}

// Subscribe registers a consumer for published frames. Sends never block
// the runner: a subscriber that falls behind misses frames. The channel is
// closed by Unsubscribe or when Run returns.
func (r *Runner) Subscribe() (string, <-chan *Frame) {
	id := uuid.NewString()
	ch := make(chan *Frame, r.cfg.SubscriberBuffer)

	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	if r.done {
		close(ch)
		return id, ch
	}
	r.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored.
func (r *Runner) Unsubscribe(id string) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	if ch, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(ch)
	}
}

func (r *Runner) closeSubscribers() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.done = true
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats {
	s := Stats{
		Source:         r.src.Name(),
		Running:        r.running.Load(),
		ScansOK:        r.ok.Load(),
		ScansFailed:    r.failed.Load(),
		DroppedFrames:  r.dropped.Load(),
		ScansPerSecond: math.Float64frombits(r.rate.Load()),
	}
	if f := r.latest.Load(); f != nil {
		s.LastSeq = f.Seq
		s.LastPoints = f.Scan.Len()
	}
	r.subsMu.RLock()
	s.Subscribers = len(r.subs)
	r.subsMu.RUnlock()

	r.mu.Lock()
	s.StartedAt = r.startedAt
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	r.mu.Unlock()
	return s
}

func (r *Runner) setErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// statsLoop logs throughput once per interval, e.g.
// "[pipeline] 10.0 scans/s | 456 points".
func (r *Runner) statsLoop(done <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()

	last := r.ok.Load()
	lastAt := time.Now()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			count := r.ok.Load()
			rate := float64(count-last) / now.Sub(lastAt).Seconds()
			last, lastAt = count, now
			r.rate.Store(math.Float64bits(rate))

			points := 0
			if f := r.latest.Load(); f != nil {
				points = f.Scan.Len()
			}
			logf("%.1f scans/s | %d points | failed=%d dropped=%d",
				rate, points, r.failed.Load(), r.dropped.Load())
		}
	}
}

// observer combines the metrics sink with strict-checksum logging.
func (r *Runner) observer() l2frames.PacketObserver {
	if !r.cfg.StrictChecksum {
		if r.metrics == nil {
			return nil
		}
		return r.metrics
	}
	return &checksumLogger{next: r.metrics, name: r.src.Name()}
}

type checksumLogger struct {
	next       *Metrics
	name       string
	mismatches uint64
}

func (c *checksumLogger) PacketDecoded(pkt *parse.Packet, discarded int) {
	if !pkt.ChecksumOK {
		c.mismatches++
		logf("%s: checksum mismatch (got 0x%02x, total %d)", c.name, pkt.CRC, c.mismatches)
	}
	c.next.PacketDecoded(pkt, discarded)
}

func (c *checksumLogger) PacketFailed(err error, discarded int) {
	c.next.PacketFailed(err, discarded)
}
