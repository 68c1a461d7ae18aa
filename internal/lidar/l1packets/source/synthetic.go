package source

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/ldscan/internal/lidar/l1packets/parse"
)

// SyntheticConfig describes the simulated sensor used in --dev mode.
type SyntheticConfig struct {
	// PacketInterval paces packet generation. Zero generates as fast as the
	// reader consumes, which is what tests want.
	PacketInterval time.Duration
	// NoiseBytes inserts up to this many non-sync bytes before each packet
	// to exercise resynchronisation.
	NoiseBytes int
	// RoomWidthMM and RoomDepthMM size the rectangular room around the
	// sensor. Zero selects 4000 × 3000.
	RoomWidthMM float64
	RoomDepthMM float64
	// Seed makes the noise reproducible.
	Seed uint64
}

const (
	syntheticPacketsPerRev = 38
	syntheticSamplesPerRev = syntheticPacketsPerRev * parse.PointsPerPacket
	syntheticSpeed         = 3600 // deg/s, i.e. 10 revolutions per second
	syntheticMaxRangeMM    = 12000
)

// Synthetic emits well-formed packets describing a sensor spinning in the
// middle of an empty rectangular room.
type Synthetic struct {
	cfg     SyntheticConfig
	rng     *rand.Rand
	pending []byte
	packet  int
	clockMS uint16

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewSynthetic returns a synthetic source.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.RoomWidthMM <= 0 {
		cfg.RoomWidthMM = 4000
	}
	if cfg.RoomDepthMM <= 0 {
		cfg.RoomDepthMM = 3000
	}
	return &Synthetic{
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		done: make(chan struct{}),
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		if s.cfg.PacketInterval > 0 {
			t := time.NewTimer(s.cfg.PacketInterval)
			select {
			case <-t.C:
			case <-s.done:
				t.Stop()
				return 0, ErrClosed
			}
		}
		if s.isClosed() {
			return 0, ErrClosed
		}
		s.pending = s.nextPacket(s.pending[:0])
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *Synthetic) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// nextPacket appends optional noise, a sync byte and the next packet body.
func (s *Synthetic) nextPacket(buf []byte) []byte {
	if s.cfg.NoiseBytes > 0 {
		for i := s.rng.IntN(s.cfg.NoiseBytes + 1); i > 0; i-- {
			b := byte(s.rng.IntN(256))
			if b == parse.SyncByte {
				b = 0
			}
			buf = append(buf, b)
		}
	}

	k := s.packet % syntheticPacketsPerRev
	s.packet++

	// The decoder divides the span by 12, so the end angle is the next
	// packet's start.
	firstSample := k * parse.PointsPerPacket
	pkt := &parse.Packet{
		Speed:         syntheticSpeed,
		StartAngleRaw: sampleAngleRaw(firstSample),
		EndAngleRaw:   sampleAngleRaw(firstSample + parse.PointsPerPacket),
		Timestamp:     s.clockMS,
	}
	for i := range pkt.Samples {
		deg := float64(sampleAngleRaw(firstSample+i)) * parse.AngleResolution
		pkt.Samples[i] = s.sample(deg)
	}

	// 10 Hz rotation: each packet spans 1/38 of 100 ms
	s.clockMS = uint16((int(s.clockMS) + 100/syntheticPacketsPerRev + 1) % 30000)

	body := parse.EncodePacket(pkt)
	buf = append(buf, parse.SyncByte)
	return append(buf, body[:]...)
}

// sampleAngleRaw is the azimuth of the n-th sample of a revolution in
// device units.
func sampleAngleRaw(n int) uint16 {
	return uint16((n % syntheticSamplesPerRev) * 36000 / syntheticSamplesPerRev)
}

// sample ray-casts from the room centre to the nearest wall.
func (s *Synthetic) sample(deg float64) parse.Sample {
	theta := deg * math.Pi / 180
	halfW := s.cfg.RoomWidthMM / 2
	halfD := s.cfg.RoomDepthMM / 2

	d := math.Inf(1)
	if c := math.Abs(math.Cos(theta)); c > 1e-9 {
		d = halfW / c
	}
	if sn := math.Abs(math.Sin(theta)); sn > 1e-9 {
		d = math.Min(d, halfD/sn)
	}
	if d > syntheticMaxRangeMM {
		return parse.Sample{}
	}
	d += s.rng.NormFloat64() * 5

	intensity := 255 - 200*d/syntheticMaxRangeMM
	return parse.Sample{
		Distance:  uint16(math.Max(d, 0)),
		Intensity: uint8(math.Max(math.Min(intensity, 255), 0)),
	}
}
