package visualiser

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
)

// Client connects to a visualiser server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Without options the connection is
// plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ScanStream receives scans from StreamScans.
type ScanStream struct {
	stream grpc.ClientStream
}

// StreamScans opens a scan stream. Cancel ctx to end it.
func (c *Client) StreamScans(ctx context.Context) (*ScanStream, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], streamScansMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ScanStream{stream: stream}, nil
}

// Recv blocks for the next scan. It returns io.EOF when the server ends
// the stream.
func (s *ScanStream) Recv() (*pipeline.Frame, error) {
	msg := new(wrapperspb.BytesValue)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return DecodeFrame(msg.GetValue())
}
