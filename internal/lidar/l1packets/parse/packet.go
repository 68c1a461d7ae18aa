package parse

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/banshee-data/ldscan/internal/lidar"
)

/*
Spinning 2D LiDAR serial packet

The sensor streams fixed-size packets over a UART with no framing other than
a leading sync byte. Each packet carries 12 samples spread evenly between a
start and an end azimuth.

PACKET STRUCTURE (47 bytes on the wire, 46 after the sync byte):
├── Sync (1 byte, 0x54) - consumed by FindSync, not part of the body
└── Body (46 bytes)
    ├── [0]      Length     - always 44 (0x2C)
    ├── [1:3]    Speed      - rotation speed in degrees/second
    ├── [3:5]    StartAngle - azimuth of sample 0 in 0.01 degree units
    ├── [5:41]   Samples    - 12 × (2-byte distance mm + 1-byte intensity)
    ├── [41:43]  EndAngle   - azimuth of the last sample in 0.01 degree units
    ├── [43:45]  Timestamp  - sensor clock in milliseconds (wraps at 30000)
    └── [45]     CRC8       - over sync byte and body[0:45]

All multi-byte fields are little-endian. Only the length byte is validated;
speed, timestamp and CRC are decoded for diagnostics but never reject a
packet.
*/

// Packet wire constants.
const (
	SyncByte        = 0x54 // 'T', marks the start of every packet
	PacketLength    = 44   // required value of the length byte
	BodySize        = 46   // bytes following the sync byte
	PointsPerPacket = 12

	offsetLength     = 0
	offsetSpeed      = 1
	offsetStartAngle = 3
	offsetSamples    = 5
	bytesPerSample   = 3
	offsetEndAngle   = 41
	offsetTimestamp  = 43
	offsetCRC        = 45

	// AngleResolution converts raw angle units to degrees.
	AngleResolution = 0.01
)

// Sample is one raw distance/intensity pair from a packet.
type Sample struct {
	Distance  uint16
	Intensity uint8
}

// Packet is a decoded packet body. Angles are kept in raw device units so
// that a body can be re-encoded bit-for-bit.
type Packet struct {
	Length        uint8
	Speed         uint16
	StartAngleRaw uint16
	EndAngleRaw   uint16
	Timestamp     uint16
	CRC           uint8
	Samples       [PointsPerPacket]Sample

	// ChecksumOK reports whether CRC matched the computed CRC-8. Informational.
	ChecksumOK bool
}

// StartAngle returns the azimuth of the first sample in degrees.
func (p *Packet) StartAngle() float64 {
	return float64(p.StartAngleRaw) * AngleResolution
}

// EndAngle returns the azimuth of the last sample in degrees, as sent by
// the device (before wraparound correction).
func (p *Packet) EndAngle() float64 {
	return float64(p.EndAngleRaw) * AngleResolution
}

// AngleStep returns the per-sample angular increment in degrees. A packet
// whose end angle is below its start angle has crossed 0° and the end angle
// is treated as lying one revolution later.
func (p *Packet) AngleStep() float64 {
	start := p.StartAngle()
	end := p.EndAngle()
	if end < start {
		end += 360.0
	}
	return (end - start) / PointsPerPacket
}

// Points interpolates an angle for each sample and returns them in sample
// order.
func (p *Packet) Points() [PointsPerPacket]lidar.Point {
	var points [PointsPerPacket]lidar.Point
	start := p.StartAngle()
	step := p.AngleStep()
	for i, s := range p.Samples {
		deg := start + step*float64(i)
		points[i] = lidar.Point{
			Angle:     lidar.DegreesToRadians(deg),
			Distance:  s.Distance,
			Intensity: s.Intensity,
		}
	}
	return points
}

// ParsePacket validates and decodes a 46-byte packet body.
func ParsePacket(body []byte) (*Packet, error) {
	if len(body) != BodySize {
		return nil, fmt.Errorf("invalid packet body size: expected %d bytes, got %d", BodySize, len(body))
	}
	if body[offsetLength] != PacketLength {
		return nil, &LengthError{Got: body[offsetLength]}
	}

	p := &Packet{
		Length:        body[offsetLength],
		Speed:         binary.LittleEndian.Uint16(body[offsetSpeed:]),
		StartAngleRaw: binary.LittleEndian.Uint16(body[offsetStartAngle:]),
		EndAngleRaw:   binary.LittleEndian.Uint16(body[offsetEndAngle:]),
		Timestamp:     binary.LittleEndian.Uint16(body[offsetTimestamp:]),
		CRC:           body[offsetCRC],
	}
	for i := range p.Samples {
		off := offsetSamples + i*bytesPerSample
		p.Samples[i] = Sample{
			Distance:  binary.LittleEndian.Uint16(body[off:]),
			Intensity: body[off+2],
		}
	}
	p.ChecksumOK = Checksum(body) == p.CRC
	return p, nil
}

// ReadPacket reads one packet body from r, which must be positioned just
// after a sync byte, and parses it. Short reads are accumulated until the
// whole body has arrived.
func ReadPacket(r io.Reader) (*Packet, error) {
	var body [BodySize]byte
	if _, err := io.ReadFull(r, body[:]); err != nil {
		return nil, fmt.Errorf("%w: reading packet body: %w", ErrIO, err)
	}
	return ParsePacket(body[:])
}

// DecodePacket reads one packet from r and returns its 12 points. On error
// no points are returned.
func DecodePacket(r io.Reader) ([PointsPerPacket]lidar.Point, error) {
	p, err := ReadPacket(r)
	if err != nil {
		return [PointsPerPacket]lidar.Point{}, err
	}
	return p.Points(), nil
}

// EncodePacket serialises p into a packet body. A zero Length is written as
// PacketLength and the CRC byte is always recomputed.
func EncodePacket(p *Packet) [BodySize]byte {
	var body [BodySize]byte
	body[offsetLength] = p.Length
	if body[offsetLength] == 0 {
		body[offsetLength] = PacketLength
	}
	binary.LittleEndian.PutUint16(body[offsetSpeed:], p.Speed)
	binary.LittleEndian.PutUint16(body[offsetStartAngle:], p.StartAngleRaw)
	for i, s := range p.Samples {
		off := offsetSamples + i*bytesPerSample
		binary.LittleEndian.PutUint16(body[off:], s.Distance)
		body[off+2] = s.Intensity
	}
	binary.LittleEndian.PutUint16(body[offsetEndAngle:], p.EndAngleRaw)
	binary.LittleEndian.PutUint16(body[offsetTimestamp:], p.Timestamp)
	body[offsetCRC] = Checksum(body[:])
	return body
}
