// Command scan-dump assembles scans from a byte source or a running ldscan
// visualiser and writes them as CSV, a distance histogram, or a JSON
// summary per scan.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/banshee-data/ldscan/internal/lidar"
	"github.com/banshee-data/ldscan/internal/lidar/l1packets/source"
	"github.com/banshee-data/ldscan/internal/lidar/l2frames"
	"github.com/banshee-data/ldscan/internal/lidar/monitor"
	"github.com/banshee-data/ldscan/internal/lidar/visualiser"
	"github.com/banshee-data/ldscan/internal/serialport"
)

// Options holds the command configuration.
type Options struct {
	Source   source.Options
	GRPCAddr string
	Scans    int
	Out      string
	HistPath string
	Bins     int
	Summary  bool
}

func main() {
	var (
		opts        Options
		kind        = flag.String("source", "serial", "Byte source: serial, replay, pcap or synthetic")
		baud        = flag.Int("baud", serialport.DefaultBaudRate, "Serial baud rate")
		readTimeout = flag.Duration("read-timeout", 2*time.Second, "Serial read timeout, 0 to block")
	)
	flag.StringVar(&opts.Source.PortPath, "port", serialport.DefaultPortPath(), "Serial port")
	flag.StringVar(&opts.Source.ReplayPath, "replay", "", "Raw capture file (implies -source replay)")
	flag.StringVar(&opts.Source.PCAPPath, "pcap", "", "PCAP file (implies -source pcap)")
	flag.IntVar(&opts.Source.UDPPort, "pcap-port", 4001, "UDP port to extract from -pcap, 0 for all")
	flag.StringVar(&opts.GRPCAddr, "grpc", "", "Read scans from a running ldscan visualiser at this address instead of a source")
	flag.IntVar(&opts.Scans, "n", 1, "Number of scans to dump")
	flag.StringVar(&opts.Out, "out", "-", "CSV output path, - for stdout, empty to skip")
	flag.StringVar(&opts.HistPath, "hist", "", "Write a distance histogram of the last scan (.png, .svg or .pdf)")
	flag.IntVar(&opts.Bins, "bins", monitor.DefaultHistogramBins, "Histogram bins")
	flag.BoolVar(&opts.Summary, "summary", false, "Print a JSON summary line per scan to stderr")
	flag.Parse()

	k, err := source.ParseKind(*kind)
	if err != nil {
		log.Fatal(err)
	}
	switch {
	case opts.Source.ReplayPath != "" && k == source.KindSerial:
		k = source.KindReplay
	case opts.Source.PCAPPath != "" && k == source.KindSerial:
		k = source.KindPCAP
	}
	opts.Source.Kind = k
	opts.Source.Port = serialport.PortOptions{BaudRate: *baud}
	opts.Source.ReadTimeout = *readTimeout

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dump(ctx, opts, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

// scanReader yields complete scans.
type scanReader interface {
	Next() (*l2frames.Scan, error)
	Close() error
}

type assemblerReader struct {
	src       source.Source
	asm       *l2frames.Assembler
	stopClose func() bool
}

func (r *assemblerReader) Next() (*l2frames.Scan, error) {
	scan, err := r.asm.AssembleScan()
	if err != nil {
		return nil, err
	}
	return scan.Clone(), nil
}

func (r *assemblerReader) Close() error {
	r.stopClose()
	return r.src.Close()
}

type grpcReader struct {
	client *visualiser.Client
	stream *visualiser.ScanStream
}

func (r *grpcReader) Next() (*l2frames.Scan, error) {
	f, err := r.stream.Recv()
	if err != nil {
		return nil, err
	}
	return f.Scan, nil
}

func (r *grpcReader) Close() error { return r.client.Close() }

func openReader(ctx context.Context, opts Options) (scanReader, error) {
	if opts.GRPCAddr != "" {
		c, err := visualiser.Dial(opts.GRPCAddr)
		if err != nil {
			return nil, err
		}
		stream, err := c.StreamScans(ctx)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open scan stream: %w", err)
		}
		return &grpcReader{client: c, stream: stream}, nil
	}

	src, err := source.Open(opts.Source)
	if err != nil {
		return nil, err
	}
	// cancellation unblocks a pending read
	stopClose := context.AfterFunc(ctx, func() { src.Close() })
	return &assemblerReader{src: src, asm: l2frames.NewAssembler(src), stopClose: stopClose}, nil
}

// dump reads opts.Scans scans and writes the requested outputs.
func dump(ctx context.Context, opts Options, stdout, stderr io.Writer) error {
	if opts.Scans <= 0 {
		return errors.New("-n must be positive")
	}
	r, err := openReader(ctx, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	var csvw *csv.Writer
	switch opts.Out {
	case "":
	case "-":
		csvw = csv.NewWriter(stdout)
	default:
		f, err := os.Create(opts.Out)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		csvw = csv.NewWriter(f)
	}
	if csvw != nil {
		if err := csvw.Write([]string{"scan", "index", "angle_deg", "distance_mm", "intensity"}); err != nil {
			return err
		}
	}

	var last []lidar.Point
	for i := 0; i < opts.Scans; i++ {
		scan, err := r.Next()
		if err != nil {
			return fmt.Errorf("scan %d: %w", i, err)
		}
		last = scan.Points()
		if csvw != nil {
			if err := writeCSV(csvw, i, last); err != nil {
				return err
			}
		}
		if opts.Summary {
			line, err := json.Marshal(struct {
				Scan int `json:"scan"`
				monitor.ScanSummary
			}{i, monitor.Summarize(last)})
			if err != nil {
				return err
			}
			fmt.Fprintln(stderr, string(line))
		}
	}
	if csvw != nil {
		csvw.Flush()
		if err := csvw.Error(); err != nil {
			return fmt.Errorf("failed to write csv: %w", err)
		}
	}

	if opts.HistPath != "" {
		title := fmt.Sprintf("Scan %d distances", opts.Scans-1)
		if err := monitor.SaveDistanceHistogram(opts.HistPath, last, opts.Bins, title); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(w *csv.Writer, scan int, points []lidar.Point) error {
	s := strconv.Itoa(scan)
	for i, p := range points {
		rec := []string{
			s,
			strconv.Itoa(i),
			strconv.FormatFloat(p.AngleDegrees(), 'f', 3, 64),
			strconv.Itoa(int(p.Distance)),
			strconv.Itoa(int(p.Intensity)),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
