package api

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"pagescope/internal/broker"
	"pagescope/internal/domain"
)

const (
	serviceName      = "pagescope.RangeService"
	methodGetRange   = "/" + serviceName + "/GetRange"
	methodSetRange   = "/" + serviceName + "/SetRange"
	methodWatchRange = "/" + serviceName + "/WatchRange"
)

const (
	watchBufferSize = 64
	originSnapshot  = "snapshot"
)

// RangeServer is the server API for pagescope.RangeService. Messages are
// well-known Struct values with "start"/"end" (YYYY-MM-DD, empty for all
// time), "label", "origin" and "source" fields.
type RangeServer interface {
	GetRange(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchRange(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RangeServiceDesc describes pagescope.RangeService for grpc.Server.
var RangeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRange", Handler: getRangeHandler},
		{MethodName: "SetRange", Handler: setRangeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchRange", Handler: watchRangeHandler, ServerStreams: true},
	},
	Metadata: "pagescope/range.proto",
}

// RegisterRangeServer registers srv on gs.
func RegisterRangeServer(gs grpc.ServiceRegistrar, srv RangeServer) {
	gs.RegisterService(&RangeServiceDesc, srv)
}

func getRangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RangeServer).GetRange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetRange}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RangeServer).GetRange(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func setRangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RangeServer).SetRange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSetRange}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RangeServer).SetRange(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchRangeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RangeServer).WatchRange(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// RangeBroker is the part of broker.Broker the range service needs.
type RangeBroker interface {
	CurrentRange() domain.DateRange
	CommittedRange() domain.DateRange
	UpdateRange(r domain.DateRange, origin broker.Origin)
	Watch(bufSize int) (int, <-chan broker.Change)
	Unwatch(id int)
}

// RangeService exposes the shared date range over gRPC.
type RangeService struct {
	b   RangeBroker
	log *slog.Logger
}

// NewRangeService creates a RangeService backed by b.
func NewRangeService(b RangeBroker, log *slog.Logger) *RangeService {
	return &RangeService{b: b, log: log}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *RangeService) RegisterGRPC(gs *grpc.Server) {
	RegisterRangeServer(gs, s)
}

// GetRange returns the latest accepted range, which may still be pending.
func (s *RangeService) GetRange(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return encodeUpdate(Update{Range: s.b.CurrentRange()})
}

// SetRange submits an explicit selection. Empty bounds reset to all time.
func (s *RangeService) SetRange(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u, err := decodeUpdate(in)
	if err != nil {
		s.log.Warn("rejecting range", "error", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.b.UpdateRange(u.Range, broker.Explicit)
	return encodeUpdate(Update{Range: u.Range, Origin: broker.Explicit.String()})
}

// WatchRange sends the committed range, then every committed change. The
// stream ends when the client disconnects or the broker closes.
func (s *RangeService) WatchRange(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	subID, ch := s.b.Watch(watchBufferSize)
	defer s.b.Unwatch(subID)

	snap, err := encodeUpdate(Update{Range: s.b.CommittedRange(), Origin: originSnapshot})
	if err != nil {
		return err
	}
	if err := stream.Send(snap); err != nil {
		return err
	}
	s.log.Info("grpc range watcher subscribed", "subID", subID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc range watcher disconnected", "subID", subID)
			return nil
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := encodeUpdate(Update{Range: c.Range, Origin: c.Origin.String(), Source: c.Source})
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// Update is one range message on the wire.
type Update struct {
	Range  domain.DateRange
	Origin string
	Source string
}

// Snapshot reports whether u is the first message of a watch stream.
func (u Update) Snapshot() bool {
	return u.Origin == originSnapshot
}

func encodeUpdate(u Update) (*structpb.Struct, error) {
	var start, end string
	if !u.Range.IsZero() {
		start = u.Range.Start.Format(domain.DateLayout)
		end = u.Range.End.Format(domain.DateLayout)
	}
	return structpb.NewStruct(map[string]interface{}{
		"start":  start,
		"end":    end,
		"label":  u.Range.String(),
		"origin": u.Origin,
		"source": u.Source,
	})
}

var errNilMessage = errors.New("nil range message")

func decodeUpdate(s *structpb.Struct) (Update, error) {
	if s == nil {
		return Update{}, errNilMessage
	}
	f := s.GetFields()
	r, err := domain.ParseDateRange(f["start"].GetStringValue(), f["end"].GetStringValue())
	if err != nil {
		return Update{}, err
	}
	return Update{
		Range:  r,
		Origin: f["origin"].GetStringValue(),
		Source: f["source"].GetStringValue(),
	}, nil
}
