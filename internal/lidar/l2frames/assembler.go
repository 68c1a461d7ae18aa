package l2frames

import (
	"bufio"
	"fmt"
	"io"

	"github.com/banshee-data/ldscan/internal/lidar/l1packets/parse"
)

// readBufferSize holds a few packets so that single-byte sync reads do not
// each hit the serial driver.
const readBufferSize = 512

// PacketObserver receives per-packet outcomes from an Assembler. It is
// used for metrics and must not block.
type PacketObserver interface {
	// PacketDecoded is called after a packet has been parsed. discarded is
	// the number of bytes skipped while searching for its sync byte.
	PacketDecoded(pkt *parse.Packet, discarded int)
	// PacketFailed is called when synchronisation or decoding fails.
	PacketFailed(err error, discarded int)
}

// PacketError reports which packet of a scan failed.
type PacketError struct {
	Index int
	Err   error
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("packet %d of %d: %v", e.Index, PacketsPerScan, e.Err)
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

// Assembler drives frame synchronisation and packet decoding over a byte
// stream and gathers PacketsPerScan packets into a Scan.
//
// An Assembler is not safe for concurrent use. It owns its scan buffer: the
// *Scan returned by AssembleScan is valid until the next call, which
// overwrites it. Clone it to keep it longer.
type Assembler struct {
	r        *bufio.Reader
	scan     Scan
	observer PacketObserver
}

// NewAssembler returns an Assembler reading from src. src may return short
// reads; it is buffered internally.
func NewAssembler(src io.Reader) *Assembler {
	br, ok := src.(*bufio.Reader)
	if !ok || br.Size() < readBufferSize {
		br = bufio.NewReaderSize(src, readBufferSize)
	}
	return &Assembler{r: br}
}

// SetObserver installs an observer for packet outcomes. nil removes it.
func (a *Assembler) SetObserver(o PacketObserver) {
	a.observer = o
}

// AssembleScan reads PacketsPerScan packets and returns the complete scan.
// Any synchronisation or decode failure aborts the whole scan and is
// returned as a *PacketError; no partial scan is ever returned. The next
// call starts again from an empty scan at the current stream position.
func (a *Assembler) AssembleScan() (*Scan, error) {
	a.scan.reset()
	for i := 0; i < PacketsPerScan; i++ {
		if err := a.nextPacket(); err != nil {
			a.scan.reset()
			return nil, &PacketError{Index: i, Err: err}
		}
	}
	return &a.scan, nil
}

func (a *Assembler) nextPacket() error {
	discarded, err := parse.FindSync(a.r)
	if err != nil {
		a.failed(err, discarded)
		return err
	}
	pkt, err := parse.ReadPacket(a.r)
	if err != nil {
		a.failed(err, discarded)
		return err
	}
	if !a.scan.appendPacket(pkt.Points()) {
		err := fmt.Errorf("scan buffer full at %d points", a.scan.count)
		a.failed(err, discarded)
		return err
	}
	if a.observer != nil {
		a.observer.PacketDecoded(pkt, discarded)
	}
	return nil
}

func (a *Assembler) failed(err error, discarded int) {
	if a.observer != nil {
		a.observer.PacketFailed(err, discarded)
	}
}
