package recorder

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/ldscan/internal/lidar/l1packets/source"
	"github.com/banshee-data/ldscan/internal/lidar/l2frames"
)

func TestRecorder_CaptureReplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench")
	rec, err := NewRecorder(path, source.NewSynthetic(source.SyntheticConfig{Seed: 3}))
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	if !strings.HasSuffix(rec.Path(), FileExtension) {
		t.Errorf("Path() = %q, want %s suffix", rec.Path(), FileExtension)
	}
	if rec.Name() != "synthetic" {
		t.Errorf("Name() = %q, want synthetic", rec.Name())
	}

	live := l2frames.NewAssembler(rec)
	var want []*l2frames.Scan
	for i := 0; i < 2; i++ {
		scan, err := live.AssembleScan()
		if err != nil {
			t.Fatalf("live scan %d: %v", i, err)
		}
		want = append(want, scan.Clone())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	info, err := os.Stat(rec.Path())
	if err != nil {
		t.Fatal(err)
	}
	if uint64(info.Size()) != rec.BytesWritten() {
		t.Errorf("file size %d != BytesWritten %d", info.Size(), rec.BytesWritten())
	}

	h, err := ReadHeader(rec.Path())
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if h.Source != "synthetic" || h.Bytes != rec.BytesWritten() || h.EndNs < h.CreatedNs || h.WriteError != "" {
		t.Errorf("header = %+v", h)
	}

	replay, err := source.OpenReplay(rec.Path(), false)
	if err != nil {
		t.Fatalf("OpenReplay() error = %v", err)
	}
	defer replay.Close()
	asm := l2frames.NewAssembler(replay)
	for i, w := range want {
		got, err := asm.AssembleScan()
		if err != nil {
			t.Fatalf("replayed scan %d: %v", i, err)
		}
		if diff := cmp.Diff(w.Points(), got.Points()); diff != "" {
			t.Errorf("replayed scan %d mismatch (-live +replay):\n%s", i, diff)
		}
	}
}

func TestRecorder_ReadAfterClose(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "x.ldraw"), source.NewSynthetic(source.SyntheticConfig{}))
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 100)
	if _, err := io.ReadFull(rec, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	// drain what the source still had buffered; none of it is recorded
	for i := 0; ; i++ {
		if _, err := rec.Read(buf); err != nil {
			break
		}
		if i > 10 {
			t.Fatal("Read() after Close never failed")
		}
	}
	if rec.BytesWritten() != 100 {
		t.Errorf("BytesWritten() = %d, want 100", rec.BytesWritten())
	}
}

func TestNewRecorder_DefaultPath(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	rec, err := NewRecorder("", source.NewSynthetic(source.SyntheticConfig{}))
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()
	if filepath.Dir(rec.Path()) != os.TempDir() || filepath.Ext(rec.Path()) != FileExtension {
		t.Errorf("Path() = %q", rec.Path())
	}
}

func TestReadHeader_Missing(t *testing.T) {
	if _, err := ReadHeader(filepath.Join(t.TempDir(), "none.ldraw")); err == nil {
		t.Error("ReadHeader() of missing capture succeeded")
	}
}
