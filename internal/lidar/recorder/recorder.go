// Package recorder captures the raw byte stream of a scan source to disk so
// that a session can be replayed later with the replay source.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/ldscan/internal/lidar/l1packets/source"
	"github.com/banshee-data/ldscan/internal/monitoring"
)

var logf = monitoring.Component("recorder")

// FileExtension is the extension for raw capture files.
const FileExtension = ".ldraw"

// HeaderExtension is appended to the capture path for the metadata file.
const HeaderExtension = ".json"

// CaptureHeader contains metadata about a recorded capture. It is written
// next to the capture file when the recorder is closed.
type CaptureHeader struct {
	Version   string `json:"version"`
	Source    string `json:"source"`
	CreatedNs int64  `json:"created_ns"`
	EndNs     int64  `json:"end_ns"`
	Bytes     uint64 `json:"bytes"`
	// WriteError is set if recording stopped early.
	WriteError string `json:"write_error,omitempty"`
}

// Recorder is a source.Source that copies every byte read from the wrapped
// source into a capture file. A failing disk stops the recording but never
// the stream.
type Recorder struct {
	src  source.Source
	path string

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	header  CaptureHeader
	failed  bool
	closed  bool
	onClose sync.Once
	err     error
}

// NewRecorder wraps src. If path is empty a timestamped file is created in
// the temp directory; a path without an extension gets FileExtension.
func NewRecorder(path string, src source.Source) (*Recorder, error) {
	now := time.Now()
	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("ldscan_%d%s", now.Unix(), FileExtension))
	} else if filepath.Ext(path) == "" {
		path += FileExtension
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	logf("recording %s to %s", src.Name(), path)
	return &Recorder{
		src:  src,
		path: path,
		file: f,
		w:    bufio.NewWriterSize(f, 64*1024),
		header: CaptureHeader{
			Version:   "1",
			Source:    src.Name(),
			CreatedNs: now.UnixNano(),
		},
	}, nil
}

// Name reports the wrapped source's name.
func (r *Recorder) Name() string {
	return r.src.Name()
}

func (r *Recorder) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.record(p[:n])
	}
	return n, err
}

func (r *Recorder) record(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.failed {
		return
	}
	if _, err := r.w.Write(b); err != nil {
		r.failed = true
		r.header.WriteError = err.Error()
		logf("capture write failed, recording stopped: %v", err)
		return
	}
	r.header.Bytes += uint64(len(b))
}

// Close closes the wrapped source, then flushes the capture and writes its
// header. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.onClose.Do(func() {
		srcErr := r.src.Close()

		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = true
		r.header.EndNs = time.Now().UnixNano()

		var errs []string
		if err := r.w.Flush(); err != nil && !r.failed {
			errs = append(errs, fmt.Sprintf("flush: %v", err))
		}
		if err := r.file.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("close: %v", err))
		}
		if err := writeHeader(r.path+HeaderExtension, r.header); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			r.err = fmt.Errorf("failed to finish capture %s: %s", r.path, strings.Join(errs, "; "))
		} else if srcErr != nil {
			r.err = srcErr
		}
		logf("capture %s closed: %d bytes", r.path, r.header.Bytes)
	})
	return r.err
}

// Path returns the capture file path.
func (r *Recorder) Path() string {
	return r.path
}

// BytesWritten returns how many bytes have been captured.
func (r *Recorder) BytesWritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Bytes
}

func writeHeader(path string, h CaptureHeader) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// ReadHeader loads the header written for the capture at path.
func ReadHeader(path string) (CaptureHeader, error) {
	var h CaptureHeader
	data, err := os.ReadFile(path + HeaderExtension)
	if err != nil {
		return h, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("failed to parse header: %w", err)
	}
	return h, nil
}
