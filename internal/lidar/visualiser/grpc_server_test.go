package visualiser

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStreamScans_LatestThenLive(t *testing.T) {
	src := newFakeScans()
	src.latest = testFrame(t, 5)
	p, c := startBufconn(t, Config{}, src)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := c.StreamScans(ctx)
	require.NoError(t, err)
	id := src.waitSubscribed(t)

	f, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), f.Seq)
	assert.Equal(t, 456, f.Scan.Len())

	// a frame already sent as Latest is not repeated
	src.send(id, testFrame(t, 5))
	src.send(id, testFrame(t, 6))
	f, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), f.Seq)

	assert.Equal(t, 1, p.ClientCount())
	assert.Eventually(t, func() bool { return p.FramesSent() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestStreamScans_EndsWhenPipelineStops(t *testing.T) {
	src := newFakeScans()
	_, c := startBufconn(t, Config{}, src)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := c.StreamScans(ctx)
	require.NoError(t, err)
	id := src.waitSubscribed(t)

	src.send(id, testFrame(t, 1))
	_, err = stream.Recv()
	require.NoError(t, err)

	src.Unsubscribe(id)
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamScans_ClientCancelUnsubscribes(t *testing.T) {
	src := newFakeScans()
	p, c := startBufconn(t, Config{}, src)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.StreamScans(ctx)
	require.NoError(t, err)
	src.waitSubscribed(t)

	cancel()
	assert.Eventually(t, func() bool {
		return src.active() == 0 && p.ClientCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStreamScans_MaxClients(t *testing.T) {
	src := newFakeScans()
	_, c := startBufconn(t, Config{MaxClients: 1}, src)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.StreamScans(ctx)
	require.NoError(t, err)
	src.waitSubscribed(t)

	second, err := c.StreamScans(ctx)
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPublisher_StartStop(t *testing.T) {
	p := NewPublisher(Config{ListenAddr: "127.0.0.1:0"}, newFakeScans())
	assert.Nil(t, p.Addr())
	require.NoError(t, p.Start())
	assert.Error(t, p.Start(), "second Start must fail")

	addr := p.Addr()
	require.NotNil(t, addr)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	conn.Close()

	p.Stop()
	p.Stop()
	assert.NotNil(t, p.GRPCServer())
}

func TestPublisher_RunStopsOnCancel(t *testing.T) {
	p := NewPublisher(Config{ListenAddr: "127.0.0.1:0"}, newFakeScans())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool { return p.running.Load() }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPublisher_StartBadAddress(t *testing.T) {
	p := NewPublisher(Config{ListenAddr: "256.0.0.1:bad"}, newFakeScans())
	assert.Error(t, p.Start())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:50051", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.MaxClients)
}
