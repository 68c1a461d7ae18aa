package l2frames

import (
	"github.com/banshee-data/ldscan/internal/lidar"
	"github.com/banshee-data/ldscan/internal/lidar/l1packets/parse"
)

const (
	// PacketsPerScan is the number of packets that make up one revolution.
	PacketsPerScan = 38
	// ScanCapacity is the number of points in a complete scan.
	ScanCapacity = parse.PointsPerPacket * PacketsPerScan
)

// Scan is one 360° revolution. Points are in packet arrival order, then
// sample order within a packet; they are not sorted by angle.
//
// The count never exceeds ScanCapacity, and a Scan returned by the
// Assembler is always complete.
type Scan struct {
	points [ScanCapacity]lidar.Point
	count  int
}

// Len returns the number of points held.
func (s *Scan) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Complete reports whether the scan holds exactly ScanCapacity points.
func (s *Scan) Complete() bool {
	return s.Len() == ScanCapacity
}

// Points returns the filled points. The slice aliases the scan's storage;
// callers must not modify it.
func (s *Scan) Points() []lidar.Point {
	if s == nil {
		return nil
	}
	return s.points[:s.count]
}

// At returns the i-th point.
func (s *Scan) At(i int) lidar.Point {
	return s.points[:s.count][i]
}

// Clone returns an independent copy of the scan.
func (s *Scan) Clone() *Scan {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *Scan) reset() {
	s.count = 0
}

// appendPacket adds one packet's points. It reports false, leaving the scan
// unchanged, if the points would not fit.
func (s *Scan) appendPacket(pts [parse.PointsPerPacket]lidar.Point) bool {
	if s.count+len(pts) > ScanCapacity {
		return false
	}
	copy(s.points[s.count:], pts[:])
	s.count += len(pts)
	return true
}

// NewScan builds a complete scan from exactly ScanCapacity points. It is
// used by decoders of the visualiser frame format and by tests.
func NewScan(points []lidar.Point) (*Scan, bool) {
	if len(points) != ScanCapacity {
		return nil, false
	}
	s := &Scan{count: ScanCapacity}
	copy(s.points[:], points)
	return s, true
}
