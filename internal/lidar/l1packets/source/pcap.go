package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// packetDataReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetDataReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

type pcapSource struct {
	f       *os.File
	r       packetDataReader
	name    string
	udpPort int
	pending []byte
	packets int
	closed  atomic.Bool
	closer  closeOnce
}

// OpenPCAP replays a packet capture of a serial-over-UDP bridge (ser2net,
// ESP32 UART bridges and similar). UDP payloads addressed to udpPort are
// concatenated into one byte stream; udpPort 0 accepts every UDP payload.
// Both classic pcap and pcapng files are accepted.
func OpenPCAP(path string, udpPort int) (Source, error) {
	if path == "" {
		return nil, errors.New("pcap source requires a file path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}

	r, err := newPacketDataReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}

	return &pcapSource{f: f, r: r, name: "pcap:" + path, udpPort: udpPort}, nil
}

func newPacketDataReader(f *os.File) (packetDataReader, error) {
	if r, err := pcapgo.NewReader(bufio.NewReader(f)); err == nil {
		return r, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return pcapgo.NewNgReader(bufio.NewReader(f), pcapgo.DefaultNgReaderOptions)
}

func (s *pcapSource) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		if s.closed.Load() {
			return 0, ErrClosed
		}
		if err := s.nextPayload(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// nextPayload loads the next matching UDP payload into pending.
func (s *pcapSource) nextPayload() error {
	for {
		data, _, err := s.r.ReadPacketData()
		if err != nil {
			return err
		}
		s.packets++

		packet := gopacket.NewPacket(data, s.r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if s.udpPort != 0 && int(udp.DstPort) != s.udpPort {
			continue
		}
		s.pending = append(s.pending[:0], udp.Payload...)
		return nil
	}
}

func (s *pcapSource) Name() string { return s.name }

func (s *pcapSource) Close() error {
	s.closed.Store(true)
	return s.closer.do(s.f.Close)
}
