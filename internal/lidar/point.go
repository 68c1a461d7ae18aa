// Package lidar holds the measurement types shared by every layer of the
// scan pipeline: L1 packet parsing produces Points, L2 assembles them into
// scans, and consumers (monitor, visualiser) read them.
package lidar

import "math"

// Point is one polar measurement from the sensor. Points are values and are
// never mutated once a packet has been decoded.
type Point struct {
	// Angle in radians. Not normalised: a packet that crosses 0° can yield
	// angles slightly above 2π.
	Angle float64 `json:"angle"`
	// Distance in millimetres.
	Distance uint16 `json:"distance"`
	// Intensity is the raw return strength, 0-255.
	Intensity uint8 `json:"intensity"`
}

// AngleDegrees returns the point's angle in degrees.
func (p Point) AngleDegrees() float64 {
	return p.Angle * 180.0 / math.Pi
}

// DegreesToRadians converts an angle in degrees to radians.
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
