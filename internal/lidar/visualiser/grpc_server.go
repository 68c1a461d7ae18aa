package visualiser

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "ldscan.Visualiser"

const streamScansMethod = "/" + ServiceName + "/StreamScans"

// ScanSource is the subscription side of the scan pipeline.
type ScanSource interface {
	Latest() *pipeline.Frame
	Subscribe() (string, <-chan *pipeline.Frame)
	Unsubscribe(id string)
}

// scanStreamer is the handler type the service descriptor dispatches to.
type scanStreamer interface {
	StreamScans(*emptypb.Empty, grpc.ServerStream) error
}

// The service has one server-streaming method. Requests are
// google.protobuf.Empty and every response is a google.protobuf.BytesValue
// holding an EncodeFrame payload, so no generated code is needed.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*scanStreamer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamScans",
			Handler:       streamScansHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ldscan/visualiser",
}

func streamScansHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(scanStreamer).StreamScans(in, stream)
}

// RegisterService registers the scan stream service on a gRPC server.
func RegisterService(grpcServer *grpc.Server, server *Server) {
	grpcServer.RegisterService(&serviceDesc, server)
}

// Server implements the StreamScans RPC on top of a pipeline subscription.
type Server struct {
	publisher *Publisher
	scans     ScanSource
}

// NewServer creates the service. The publisher supplies client limits and
// stats and may be nil in tests.
func NewServer(scans ScanSource, publisher *Publisher) *Server {
	return &Server{scans: scans, publisher: publisher}
}

// StreamScans sends the latest scan, if any, followed by every scan the
// pipeline publishes until the client goes away or the pipeline stops.
// Clients that fall behind miss scans.
func (s *Server) StreamScans(_ *emptypb.Empty, stream grpc.ServerStream) error {
	if !s.publisher.addClient() {
		return status.Error(codes.ResourceExhausted, "too many visualiser clients")
	}
	defer s.publisher.removeClient()

	ctx := stream.Context()
	id, frames := s.scans.Subscribe()
	defer s.scans.Unsubscribe(id)
	logf("stream %s started", id)

	var lastSeq uint64
	if f := s.scans.Latest(); f != nil {
		if err := s.send(stream, f); err != nil {
			return err
		}
		lastSeq = f.Seq
	}

	for {
		select {
		case <-ctx.Done():
			logf("stream %s cancelled", id)
			return nil
		case f, ok := <-frames:
			if !ok {
				logf("stream %s ended: pipeline stopped", id)
				return nil
			}
			if f.Seq <= lastSeq {
				continue
			}
			if err := s.send(stream, f); err != nil {
				logf("stream %s send failed: %v", id, err)
				return err
			}
			lastSeq = f.Seq
		}
	}
}

func (s *Server) send(stream grpc.ServerStream, f *pipeline.Frame) error {
	if err := stream.SendMsg(wrapperspb.Bytes(EncodeFrame(f))); err != nil {
		return err
	}
	s.publisher.frameSent()
	return nil
}
