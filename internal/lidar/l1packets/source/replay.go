package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// ErrClosed is returned by Read after a Source has been closed.
var ErrClosed = errors.New("source closed")

type replaySource struct {
	f      *os.File
	name   string
	loop   bool
	closed atomic.Bool
	closer closeOnce
}

// OpenReplay opens a raw capture of the serial byte stream, e.g. one made
// with `cat /dev/ttyUSB0 > capture.bin`. With loop set the file restarts
// at EOF instead of ending the stream.
func OpenReplay(path string, loop bool) (Source, error) {
	if path == "" {
		return nil, errors.New("replay source requires a file path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	return &replaySource{f: f, name: "replay:" + path, loop: loop}, nil
}

func (s *replaySource) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n, err := s.f.Read(p)
	if err == io.EOF && s.loop {
		if _, serr := s.f.Seek(0, io.SeekStart); serr != nil {
			return n, fmt.Errorf("failed to rewind replay file: %w", serr)
		}
		if n > 0 {
			return n, nil
		}
		return s.f.Read(p)
	}
	return n, err
}

func (s *replaySource) Name() string { return s.name }

func (s *replaySource) Close() error {
	s.closed.Store(true)
	return s.closer.do(s.f.Close)
}
