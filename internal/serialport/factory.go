package serialport

import (
	"fmt"
	"runtime"
	"time"

	"go.bug.st/serial"
)

// DefaultPortPath returns the usual device node of a USB-UART adapter on
// this platform.
func DefaultPortPath() string {
	if runtime.GOOS == "darwin" {
		return "/dev/tty.usbserial-0001"
	}
	return "/dev/ttyUSB0"
}

// Open opens a real serial port at path. Any bytes already queued by the
// driver are discarded so decoding starts on fresh data.
func Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port %s: %w", path, err)
	}
	return port, nil
}

// ApplyReadTimeout sets a read timeout if the port supports one. A zero
// timeout leaves reads blocking.
func ApplyReadTimeout(port SerialPorter, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	tp, ok := port.(TimeoutSerialPorter)
	if !ok {
		return fmt.Errorf("serial port %T does not support read timeouts", port)
	}
	return tp.SetReadTimeout(timeout)
}
