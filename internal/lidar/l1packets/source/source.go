// Package source provides the byte streams the scan assembler reads from.
//
// Every Source is an io.ReadCloser with an explicit lifecycle: it is opened
// by one of the constructors here, read by exactly one assembler, and
// closed by its owner. Closing a Source unblocks a pending Read.
package source

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/ldscan/internal/serialport"
)

// Source is a LiDAR byte stream.
type Source interface {
	io.ReadCloser
	// Name identifies the source in logs, e.g. "serial:/dev/ttyUSB0".
	Name() string
}

// Kind selects a Source implementation.
type Kind string

const (
	KindSerial    Kind = "serial"
	KindReplay    Kind = "replay"
	KindPCAP      Kind = "pcap"
	KindSynthetic Kind = "synthetic"
)

// ParseKind validates a source kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSerial, KindReplay, KindPCAP, KindSynthetic:
		return k, nil
	case "":
		return KindSerial, nil
	default:
		return "", fmt.Errorf("unknown source kind %q: expected serial, replay, pcap or synthetic", s)
	}
}

// Options configures Open.
type Options struct {
	Kind Kind

	// Serial
	PortPath    string
	Port        serialport.PortOptions
	ReadTimeout time.Duration

	// Replay
	ReplayPath string
	ReplayLoop bool

	// PCAP
	PCAPPath string
	UDPPort  int

	// Synthetic
	Synthetic SyntheticConfig
}

// Open opens the source described by opts.
func Open(opts Options) (Source, error) {
	switch opts.Kind {
	case KindSerial, "":
		path := opts.PortPath
		if path == "" {
			path = serialport.DefaultPortPath()
		}
		return OpenSerial(path, opts.Port, opts.ReadTimeout)
	case KindReplay:
		return OpenReplay(opts.ReplayPath, opts.ReplayLoop)
	case KindPCAP:
		return OpenPCAP(opts.PCAPPath, opts.UDPPort)
	case KindSynthetic:
		return NewSynthetic(opts.Synthetic), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", opts.Kind)
	}
}

// closeOnce makes Close idempotent for sources that may be closed both by
// context cancellation and by a deferred cleanup.
type closeOnce struct {
	once sync.Once
	err  error
}

func (c *closeOnce) do(fn func() error) error {
	c.once.Do(func() { c.err = fn() })
	return c.err
}
