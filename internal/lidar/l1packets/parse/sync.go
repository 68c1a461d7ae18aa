package parse

import (
	"fmt"
	"io"
)

// FindSync consumes bytes from r until it has read a SyncByte, leaving r
// positioned at the start of a packet body. It returns how many bytes were
// discarded before the marker. Read failures are returned wrapped in ErrIO
// and are never retried here.
func FindSync(r io.ByteReader) (discarded int, err error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return discarded, fmt.Errorf("%w: waiting for sync byte: %w", ErrIO, err)
		}
		if b == SyncByte {
			return discarded, nil
		}
		discarded++
	}
}
