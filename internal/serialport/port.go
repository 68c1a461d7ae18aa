// Package serialport opens and configures the UART the LiDAR streams on.
//
// The scan pipeline only needs an io.Reader; this package owns everything
// around it: option normalisation, the go.bug.st/serial mapping, read
// timeouts, and a test double that behaves like a real port.
package serialport

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens a serial port at path with the given options. Tests replace
// it to avoid touching hardware.
type Opener func(path string, opts PortOptions) (SerialPorter, error)
