package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestableSerialPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with scripted reads for
// testing. With BlockReads set it behaves like an idle UART: Read waits
// until data is added or the port is closed.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// MaxReadSize caps the bytes returned per Read, to exercise short reads
	MaxReadSize int

	// ReadError is returned once the read buffer has been drained, if set
	ReadError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// TimeoutReads makes a drained Read return (0, nil), the way a real
	// port reports an expired read timeout
	TimeoutReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort preloaded with data.
func NewTestableSerialPort(data []byte) *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(append([]byte(nil), data...)),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read returns buffered data. Once drained it returns ReadError if set,
// (0, nil) if TimeoutReads is set, blocks if BlockReads is set, and
// otherwise reports io.EOF.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	for {
		if t.Closed {
			return 0, ErrPortClosed
		}
		if t.ReadBuffer.Len() > 0 {
			break
		}
		if t.ReadError != nil {
			return 0, t.ReadError
		}
		if t.TimeoutReads {
			return 0, nil
		}
		if !t.BlockReads {
			break
		}
		t.readCond.Wait()
	}

	if t.MaxReadSize > 0 && len(p) > t.MaxReadSize {
		p = p[:t.MaxReadSize]
	}
	return t.ReadBuffer.Read(p)
}

// Write records data written to the port.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes any blocked reader.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// IsClosed reports whether Close has been called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}
