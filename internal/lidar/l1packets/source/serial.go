package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/ldscan/internal/monitoring"
	"github.com/banshee-data/ldscan/internal/serialport"
)

// ErrReadTimeout is returned by a serial source when no byte arrived within
// its read timeout. Assemblers see it wrapped in parse.ErrIO.
var ErrReadTimeout = errors.New("serial read timed out")

// openPort is replaced in tests.
var openPort serialport.Opener = serialport.Open

type serialSource struct {
	port    serialport.SerialPorter
	name    string
	timeout time.Duration
	closer  closeOnce
}

// OpenSerial opens the LiDAR UART at path. With a positive readTimeout a
// read on an idle line fails with ErrReadTimeout instead of blocking
// forever.
func OpenSerial(path string, opts serialport.PortOptions, readTimeout time.Duration) (Source, error) {
	port, err := openPort(path, opts)
	if err != nil {
		return nil, err
	}
	if err := serialport.ApplyReadTimeout(port, readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	monitoring.Logf("LiDAR serial port %s opened at %s", path, opts)
	return &serialSource{port: port, name: "serial:" + path, timeout: readTimeout}, nil
}

// NewSerialSource wraps an already open port.
func NewSerialSource(path string, port serialport.SerialPorter) Source {
	return &serialSource{port: port, name: "serial:" + path}
}

// Read passes through to the port. go.bug.st/serial reports an expired
// read timeout as (0, nil), which bufio would retry many times over.
func (s *serialSource) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil && len(p) > 0 && s.timeout > 0 {
		return 0, fmt.Errorf("%w after %s", ErrReadTimeout, s.timeout)
	}
	return n, err
}

func (s *serialSource) Name() string { return s.name }

func (s *serialSource) Close() error {
	return s.closer.do(s.port.Close)
}
