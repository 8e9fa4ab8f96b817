// Package api provides the gRPC ingest service feeding a running
// evaluation mechanism.
//
// Messages are well-known protobuf types so no generated code is needed:
// a request is a ListValue of event objects in the JSONL wire shape
// ({"type", "timestamp", "payload"}), the response a Struct summary.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/cepwarden/internal/evaluation"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "cepwarden.ingest.v1.EventIngest"

	// ReportEventsMethod is the full method name clients sign.
	ReportEventsMethod = "/" + ServiceName + "/ReportEvents"
)

// IngestServer is the server API for the ingest service.
type IngestServer interface {
	ReportEvents(context.Context, *structpb.ListValue) (*structpb.Struct, error)
}

// IngestServiceDesc describes the ingest service for grpc.Server.RegisterService.
var IngestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReportEvents", Handler: reportEventsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func reportEventsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).ReportEvents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReportEventsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).ReportEvents(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestClient calls the ingest service.
type IngestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient wraps a client connection.
func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

// ReportEvents sends one batch of events.
func (c *IngestClient) ReportEvents(ctx context.Context, in *structpb.ListValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ReportEventsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestService implements IngestServer over one Mechanism.
// Batches are processed one at a time; events within and across batches
// must arrive in non-decreasing timestamp order.
type IngestService struct {
	mu       sync.Mutex
	mech     *evaluation.Mechanism
	sink     evaluation.MatchSink
	maxBatch int
	last     time.Time
	closed   bool
	log      *slog.Logger
}

var _ IngestServer = (*IngestService)(nil)

// NewIngestService creates service instance with dependencies.
func NewIngestService(mech *evaluation.Mechanism, sink evaluation.MatchSink, maxBatch int, log *slog.Logger) (*IngestService, error) {
	if mech == nil {
		return nil, fmt.Errorf("mech cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if maxBatch <= 0 {
		return nil, fmt.Errorf("maxBatch must be positive, got %d", maxBatch)
	}
	if log == nil {
		log = slog.Default()
	}
	return &IngestService{mech: mech, sink: sink, maxBatch: maxBatch, log: log}, nil
}

// Close flushes matches pending on unbounded negation to the sink and
// rejects further batches.
func (s *IngestService) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, m := range s.mech.Flush() {
		if err := s.sink.Write(ctx, m); err != nil {
			return fmt.Errorf("write match %s: %w", m.ID, err)
		}
	}
	return nil
}
