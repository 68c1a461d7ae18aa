// Package visualiser streams assembled scans to remote viewers over gRPC.
// This file contains the binary scan frame codec carried in each message.
package visualiser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/ldscan/internal/lidar"
	"github.com/banshee-data/ldscan/internal/lidar/l2frames"
	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
)

// Frame layout, little endian:
//
//	0   4  magic "LDS1"
//	4   8  sequence number
//	12  8  timestamp, unix nanoseconds
//	20  8  assembly duration, nanoseconds
//	28  2  point count
//	30  .. points, 11 bytes each: angle float64 (radians), distance uint16
//	       (mm), intensity uint8
const (
	frameMagic      = "LDS1"
	frameHeaderSize = 30
	framePointSize  = 11
)

// FrameSize is the encoded size of one full scan.
const FrameSize = frameHeaderSize + l2frames.ScanCapacity*framePointSize

// ErrBadFrame is returned by DecodeFrame for input that is not a scan frame.
var ErrBadFrame = errors.New("malformed scan frame")

// EncodeFrame serialises a published frame.
func EncodeFrame(f *pipeline.Frame) []byte {
	points := f.Scan.Points()
	buf := make([]byte, 0, frameHeaderSize+len(points)*framePointSize)
	buf = append(buf, frameMagic...)
	buf = binary.LittleEndian.AppendUint64(buf, f.Seq)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Timestamp.UnixNano()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Duration))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(points)))
	for _, p := range points {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Angle))
		buf = binary.LittleEndian.AppendUint16(buf, p.Distance)
		buf = append(buf, p.Intensity)
	}
	return buf
}

// DecodeFrame parses a frame produced by EncodeFrame. Only complete scans
// are accepted.
func DecodeFrame(b []byte) (*pipeline.Frame, error) {
	if len(b) < frameHeaderSize || string(b[:4]) != frameMagic {
		return nil, fmt.Errorf("%w: bad header", ErrBadFrame)
	}
	n := int(binary.LittleEndian.Uint16(b[28:30]))
	if n != l2frames.ScanCapacity {
		return nil, fmt.Errorf("%w: %d points, want %d", ErrBadFrame, n, l2frames.ScanCapacity)
	}
	if len(b) != frameHeaderSize+n*framePointSize {
		return nil, fmt.Errorf("%w: %d bytes for %d points", ErrBadFrame, len(b), n)
	}

	points := make([]lidar.Point, n)
	off := frameHeaderSize
	for i := range points {
		points[i] = lidar.Point{
			Angle:     math.Float64frombits(binary.LittleEndian.Uint64(b[off:])),
			Distance:  binary.LittleEndian.Uint16(b[off+8:]),
			Intensity: b[off+10],
		}
		off += framePointSize
	}
	scan, ok := l2frames.NewScan(points)
	if !ok {
		return nil, fmt.Errorf("%w: incomplete scan", ErrBadFrame)
	}

	return &pipeline.Frame{
		Seq:       binary.LittleEndian.Uint64(b[4:12]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(b[12:20]))),
		Duration:  time.Duration(binary.LittleEndian.Uint64(b[20:28])),
		Scan:      scan,
	}, nil
}
