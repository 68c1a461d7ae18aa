package source

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ldscan/internal/lidar/l1packets/parse"
	"github.com/banshee-data/ldscan/internal/lidar/l2frames"
	"github.com/banshee-data/ldscan/internal/serialport"
)

// capture returns n packets worth of wire bytes from the synthetic sensor.
func capture(t *testing.T, packets int) []byte {
	t.Helper()
	syn := NewSynthetic(SyntheticConfig{Seed: 1})
	buf := make([]byte, packets*(parse.BodySize+1))
	_, err := io.ReadFull(syn, buf)
	require.NoError(t, err)
	return buf
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindSerial, k)

	for _, name := range []string{"serial", "replay", "pcap", "synthetic"} {
		k, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, Kind(name), k)
	}

	_, err = ParseKind("usb")
	assert.Error(t, err)
}

func TestSynthetic_AssemblesCompleteScans(t *testing.T) {
	syn := NewSynthetic(SyntheticConfig{NoiseBytes: 8, Seed: 42})
	defer syn.Close()

	asm := l2frames.NewAssembler(syn)
	for i := 0; i < 3; i++ {
		scan, err := asm.AssembleScan()
		require.NoError(t, err, "scan %d", i)
		require.True(t, scan.Complete())

		for j, p := range scan.Points() {
			// walls of a 4 m × 3 m room are between 1.5 m and 2.5 m away
			if p.Distance < 1400 || p.Distance > 2600 {
				t.Fatalf("scan %d point %d distance %d outside room", i, j, p.Distance)
			}
		}
	}
}

func TestSynthetic_CloseUnblocksPacedRead(t *testing.T) {
	syn := NewSynthetic(SyntheticConfig{PacketInterval: time.Hour})

	done := make(chan error, 1)
	go func() {
		_, err := syn.Read(make([]byte, 1))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, syn.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Read still blocked after Close")
	}
}

func TestReplay_EndsAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, capture(t, l2frames.PacketsPerScan), 0o644))

	src, err := OpenReplay(path, false)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "replay:"+path, src.Name())

	asm := l2frames.NewAssembler(src)
	scan, err := asm.AssembleScan()
	require.NoError(t, err)
	assert.True(t, scan.Complete())

	_, err = asm.AssembleScan()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReplay_Loop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, capture(t, l2frames.PacketsPerScan), 0o644))

	src, err := OpenReplay(path, true)
	require.NoError(t, err)
	defer src.Close()

	asm := l2frames.NewAssembler(src)
	for i := 0; i < 3; i++ {
		_, err := asm.AssembleScan()
		require.NoError(t, err, "looped scan %d", i)
	}

	require.NoError(t, src.Close())
	_, err = src.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReplay_MissingFile(t *testing.T) {
	_, err := OpenReplay(filepath.Join(t.TempDir(), "nope.bin"), false)
	assert.Error(t, err)
	_, err = OpenReplay("", false)
	assert.Error(t, err)
}

// writePCAP writes each chunk as a UDP datagram to dstPort.
func writePCAP(t *testing.T, path string, dstPort uint16, chunks [][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, chunk := range chunks {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 50),
			DstIP:    net.IPv4(192, 168, 1, 10),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(chunk)))

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*int64(time.Millisecond)),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
}

func TestPCAP_ReassemblesStreamAcrossDatagrams(t *testing.T) {
	stream := capture(t, l2frames.PacketsPerScan)

	// split at awkward boundaries so packets straddle datagrams
	var chunks [][]byte
	for off := 0; off < len(stream); off += 100 {
		end := min(off+100, len(stream))
		chunks = append(chunks, stream[off:end])
	}
	path := filepath.Join(t.TempDir(), "bridge.pcap")
	writePCAP(t, path, 4001, chunks)

	src, err := OpenPCAP(path, 4001)
	require.NoError(t, err)
	defer src.Close()

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(stream, got), "reassembled stream differs")
}

func TestPCAP_FiltersPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.pcap")
	writePCAP(t, path, 9999, [][]byte{{1, 2, 3}})

	src, err := OpenPCAP(path, 4001)
	require.NoError(t, err)
	defer src.Close()

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Empty(t, got)

	src2, err := OpenPCAP(path, 0)
	require.NoError(t, err)
	defer src2.Close()
	got, err = io.ReadAll(src2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestPCAP_NotACapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a capture"), 0o644))
	_, err := OpenPCAP(path, 0)
	assert.Error(t, err)
}

func TestOpenSerial_UsesOpener(t *testing.T) {
	port := serialport.NewTestableSerialPort(capture(t, l2frames.PacketsPerScan))
	port.MaxReadSize = 7

	var gotPath string
	var gotOpts serialport.PortOptions
	orig := openPort
	openPort = func(path string, opts serialport.PortOptions) (serialport.SerialPorter, error) {
		gotPath, gotOpts = path, opts
		return port, nil
	}
	defer func() { openPort = orig }()

	src, err := Open(Options{Kind: KindSerial, PortPath: "/dev/ttyTEST", Port: serialport.DefaultPortOptions(), ReadTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyTEST", gotPath)
	assert.Equal(t, serialport.DefaultPortOptions(), gotOpts)
	assert.Equal(t, time.Second, port.ReadTimeout)
	assert.Equal(t, "serial:/dev/ttyTEST", src.Name())

	scan, err := l2frames.NewAssembler(src).AssembleScan()
	require.NoError(t, err)
	assert.True(t, scan.Complete())

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, port.IsClosed())
}

func TestOpenSerial_ReadTimeoutFailsScan(t *testing.T) {
	// half a packet, then the line goes idle
	port := serialport.NewTestableSerialPort(capture(t, 1)[:20])
	port.TimeoutReads = true

	orig := openPort
	openPort = func(string, serialport.PortOptions) (serialport.SerialPorter, error) {
		return port, nil
	}
	defer func() { openPort = orig }()

	src, err := OpenSerial("/dev/ttyTEST", serialport.DefaultPortOptions(), 10*time.Millisecond)
	require.NoError(t, err)
	defer src.Close()

	start := time.Now()
	_, err = l2frames.NewAssembler(src).AssembleScan()
	require.Error(t, err)
	assert.ErrorIs(t, err, parse.ErrIO)
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.LessOrEqual(t, port.ReadCalls, 2, "a single timed-out read should end the scan")
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpenSerial_EmptyReadWithoutTimeoutPassesThrough(t *testing.T) {
	port := serialport.NewTestableSerialPort(nil)
	port.TimeoutReads = true
	src := NewSerialSource("/dev/ttyTEST", port)

	n, err := src.Read(make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.NoError(t, err)
}

func TestSynthetic_SampleAnglesMatchDecoder(t *testing.T) {
	syn := NewSynthetic(SyntheticConfig{Seed: 3})
	wire := make([]byte, l2frames.PacketsPerScan*(parse.BodySize+1))
	_, err := io.ReadFull(syn, wire)
	require.NoError(t, err)

	r := bytes.NewReader(wire)
	for k := 0; k < l2frames.PacketsPerScan; k++ {
		_, err := parse.FindSync(r)
		require.NoError(t, err)
		pkt, err := parse.ReadPacket(r)
		require.NoError(t, err)
		for i, p := range pkt.Points() {
			want := float64(sampleAngleRaw(k*parse.PointsPerPacket+i)) * parse.AngleResolution
			assert.InDelta(t, want, p.AngleDegrees(), 0.025, "packet %d sample %d", k, i)
		}
	}
}

func TestOpenSerial_OpenError(t *testing.T) {
	orig := openPort
	openPort = func(string, serialport.PortOptions) (serialport.SerialPorter, error) {
		return nil, errors.New("no such device")
	}
	defer func() { openPort = orig }()

	_, err := OpenSerial("/dev/ttyMISSING", serialport.PortOptions{}, 0)
	assert.Error(t, err)
}
