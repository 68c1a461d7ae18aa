package visualiser

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/ldscan/internal/monitoring"
)

var logf = monitoring.Component("gRPC")

const stopGrace = 2 * time.Second

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients.
	// Zero means unlimited.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		MaxClients: 5,
	}
}

// Publisher owns the gRPC server and listener.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	clientCount atomic.Int32
	framesSent  atomic.Uint64

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewPublisher creates a publisher that serves scans from src. The service
// is registered immediately; Start binds the listener.
func NewPublisher(cfg Config, src ScanSource) *Publisher {
	p := &Publisher{config: cfg}
	// one full scan frame is ~5 KB, well below the default message limit
	p.server = grpc.NewServer()
	RegisterService(p.server, NewServer(src, p))
	return p
}

// GRPCServer returns the underlying server.
func (p *Publisher) GRPCServer() *grpc.Server {
	return p.server
}

// Addr returns the bound address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Start binds ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on an existing listener in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logf("server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("server error: %v", err)
		}
	}()
	return nil
}

// Run serves until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return nil
}

// Stop gracefully stops the gRPC server. Streams still open after
// stopGrace are cut off.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	stopped := make(chan struct{})
	go func() {
		p.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopGrace):
		logf("graceful stop timed out, closing open streams")
		p.server.Stop()
		<-stopped
	}
	p.wg.Wait()
	logf("server stopped (%d frames sent)", p.framesSent.Load())
}

// ClientCount returns the number of connected streaming clients.
func (p *Publisher) ClientCount() int {
	return int(p.clientCount.Load())
}

// FramesSent returns the total frames sent across all clients.
func (p *Publisher) FramesSent() uint64 {
	return p.framesSent.Load()
}

func (p *Publisher) addClient() bool {
	if p == nil {
		return true
	}
	n := p.clientCount.Add(1)
	if p.config.MaxClients > 0 && int(n) > p.config.MaxClients {
		p.clientCount.Add(-1)
		return false
	}
	return true
}

func (p *Publisher) removeClient() {
	if p != nil {
		p.clientCount.Add(-1)
	}
}

func (p *Publisher) frameSent() {
	if p != nil {
		p.framesSent.Add(1)
	}
}
