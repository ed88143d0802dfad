package handler

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/session"
)

// ServiceName is the fully qualified admin service name.
const ServiceName = "netsim.v1.SessionAdmin"

const (
	methodStatus  = "/" + ServiceName + "/Status"
	methodDespawn = "/" + ServiceName + "/Despawn"
)

// Room is what the admin service operates on.
type Room interface {
	Status() session.Status
	Despawn(ctx context.Context, id core.EntityID) error
}

// SessionAdminServer is the server API of the admin service.
type SessionAdminServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Despawn(context.Context, *wrapperspb.UInt32Value) (*emptypb.Empty, error)
}

// SessionAdminServiceDesc describes the admin service for grpc.Server.
// Its messages are well-known types, so no generated code is needed.
var SessionAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Despawn", Handler: despawnHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "netsim/v1/admin.proto",
}

func RegisterSessionAdminServer(s grpc.ServiceRegistrar, srv SessionAdminServer) {
	s.RegisterService(&SessionAdminServiceDesc, srv)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionAdminServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionAdminServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func despawnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionAdminServer).Despawn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDespawn}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionAdminServer).Despawn(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}

// AdminServer implements SessionAdminServer on top of a room.
type AdminServer struct {
	room Room
}

func NewAdminServer(room Room) *AdminServer {
	return &AdminServer{room: room}
}

func (s *AdminServer) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.room.Status()
	out, err := structpb.NewStruct(map[string]any{
		"room":            st.Room,
		"tick":            uint32(st.Tick),
		"peers":           st.Peers,
		"entities":        st.Entities,
		"faults":          st.Faults,
		"inputs_accepted": st.InputsAccepted,
		"inputs_dropped":  st.InputsDropped,
		"sends_dropped":   st.SendsDropped,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func (s *AdminServer) Despawn(ctx context.Context, req *wrapperspb.UInt32Value) (*emptypb.Empty, error) {
	id := core.EntityID(req.GetValue())
	log.Printf("Despawning entity %d", id)

	err := s.room.Despawn(ctx, id)
	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case errors.Is(err, session.ErrUnknownEntity):
		return nil, status.Errorf(codes.NotFound, "entity %d not found", id)
	case errors.Is(err, session.ErrClosed):
		return nil, status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		return nil, status.Errorf(codes.Internal, "despawn entity %d: %v", id, err)
	}
}

// AdminClient calls the admin service.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

func (c *AdminClient) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) Despawn(ctx context.Context, id core.EntityID, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, methodDespawn, wrapperspb.UInt32(uint32(id)), new(emptypb.Empty), opts...)
}
