package parse

import (
	"errors"
	"fmt"
)

var (
	// ErrIO reports that the byte source failed or closed before a whole
	// packet could be read.
	ErrIO = errors.New("lidar byte source read failed")

	// ErrInvalidLength reports a packet whose length byte is not PacketLength.
	ErrInvalidLength = errors.New("invalid packet length")
)

// LengthError carries the offending length byte. It matches ErrInvalidLength
// with errors.Is.
type LengthError struct {
	Got byte
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%v: got %d, want %d", ErrInvalidLength, e.Got, PacketLength)
}

func (e *LengthError) Is(target error) bool {
	return target == ErrInvalidLength
}

// ErrorKind classifies a decode error for logging and metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}
