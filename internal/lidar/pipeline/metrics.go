package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/ldscan/internal/lidar/l1packets/parse"
)

// Metrics holds the Prometheus collectors for the scan pipeline. Each
// Metrics owns its registry so tests and multiple runners never collide on
// the global default registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	packetsDecoded     prometheus.Counter
	packetErrors       *prometheus.CounterVec // by kind: io, invalid_length, unknown
	checksumMismatches prometheus.Counter
	syncBytesDiscarded prometheus.Counter
	scansAssembled     prometheus.Counter
	scansFailed        *prometheus.CounterVec // by kind
	scanDuration       prometheus.Histogram
	lastScanTimestamp  prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics plus the standard
// Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		packetsDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "ldscan_packets_decoded_total",
			Help: "Packets that passed length validation and were decoded",
		}),
		packetErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ldscan_packet_errors_total",
			Help: "Packet synchronisation or decode failures by kind",
		}, []string{"kind"}),
		checksumMismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "ldscan_packet_checksum_mismatches_total",
			Help: "Decoded packets whose CRC-8 did not match (informational, packets are still used)",
		}),
		syncBytesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "ldscan_sync_bytes_discarded_total",
			Help: "Bytes skipped while searching for the sync marker",
		}),
		scansAssembled: f.NewCounter(prometheus.CounterOpts{
			Name: "ldscan_scans_assembled_total",
			Help: "Complete scans published",
		}),
		scansFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ldscan_scans_failed_total",
			Help: "Scan assemblies aborted by a packet failure, by kind",
		}, []string{"kind"}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ldscan_scan_assembly_seconds",
			Help:    "Wall time to assemble one scan",
			Buckets: []float64{0.02, 0.05, 0.08, 0.1, 0.12, 0.15, 0.2, 0.5, 1, 5},
		}),
		lastScanTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "ldscan_last_scan_timestamp_seconds",
			Help: "Unix time of the most recently published scan",
		}),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// PacketDecoded implements l2frames.PacketObserver.
func (m *Metrics) PacketDecoded(pkt *parse.Packet, discarded int) {
	if m == nil {
		return
	}
	m.packetsDecoded.Inc()
	m.syncBytesDiscarded.Add(float64(discarded))
	if !pkt.ChecksumOK {
		m.checksumMismatches.Inc()
	}
}

// PacketFailed implements l2frames.PacketObserver.
func (m *Metrics) PacketFailed(err error, discarded int) {
	if m == nil {
		return
	}
	m.packetErrors.WithLabelValues(parse.ErrorKind(err)).Inc()
	m.syncBytesDiscarded.Add(float64(discarded))
}

func (m *Metrics) scanAssembled(d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.scansAssembled.Inc()
	m.scanDuration.Observe(d.Seconds())
	m.lastScanTimestamp.Set(float64(at.UnixNano()) / 1e9)
}

func (m *Metrics) scanFailed(err error) {
	if m == nil {
		return
	}
	m.scansFailed.WithLabelValues(parse.ErrorKind(err)).Inc()
}
