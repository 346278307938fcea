package eventstream

import (
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ScanEventServiceServer is the server-side contract of the ScanEventService
// RPC: a single server-streaming Subscribe call that pushes every event
// published on a Broadcaster to the caller until the stream is cancelled.
//
// Generated from a .proto this would be scaffolded by protoc; this module
// builds it by hand against structpb.Struct (itself a proto.Message) so the
// service can be registered on a *grpc.Server without running code
// generation.
type ScanEventServiceServer interface {
	Subscribe(req *structpb.Struct, stream ScanEventService_SubscribeServer) error
}

// ScanEventService_SubscribeServer is the per-call stream handle Subscribe
// sends messages on.
type ScanEventService_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type scanEventServiceSubscribeServer struct {
	grpc.ServerStream
}

func (x *scanEventServiceSubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _ScanEventService_Subscribe_Handler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ScanEventServiceServer).Subscribe(req, &scanEventServiceSubscribeServer{stream})
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a service with one server-streaming RPC. Register it with
// grpc.Server.RegisterService(&eventstream.ServiceDesc, svc).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "scanforge.eventstream.ScanEventService",
	HandlerType: (*ScanEventServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       _ScanEventService_Subscribe_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "internal/eventstream/eventstream.proto",
}

// Service implements ScanEventServiceServer over a Broadcaster: each
// Subscribe call registers a fresh subscription (keyed by a generated id,
// or the caller-supplied "subscriber_id" field) and streams every
// subsequent event until the client disconnects or the broadcaster closes
// the subscription.
type Service struct {
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewService constructs a Service backed by broadcaster.
func NewService(broadcaster *Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{broadcaster: broadcaster, logger: logger}
}

// Subscribe implements ScanEventServiceServer.
func (s *Service) Subscribe(req *structpb.Struct, stream ScanEventService_SubscribeServer) error {
	subscriberID := uuid.NewString()
	if req != nil {
		if f, ok := req.GetFields()["subscriber_id"]; ok && f.GetStringValue() != "" {
			subscriberID = f.GetStringValue()
		}
	}

	ch := s.broadcaster.Register(subscriberID)
	defer s.broadcaster.Unregister(subscriberID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := eventToStruct(evt)
			if err != nil {
				s.logger.Error("eventstream: encoding event failed", slog.Any("error", err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func eventToStruct(evt Event) (*structpb.Struct, error) {
	switch v := evt.(type) {
	case ScanCompleted:
		return structpb.NewStruct(map[string]any{
			"type":          "scan_completed",
			"total_filters": float64(v.TotalFilters),
			"duration_ms":   float64(v.DurationMs),
			"err":           v.Err,
		})
	case ScanResultsUpdated:
		return structpb.NewStruct(map[string]any{
			"type":         "scan_results_updated",
			"region_index": float64(v.RegionIndex),
			"filter_count": float64(v.FilterCount),
		})
	default:
		return structpb.NewStruct(map[string]any{"type": "unknown"})
	}
}
