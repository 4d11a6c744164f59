// Package rpc exposes the device session over gRPC. The service is described
// by hand over protobuf well-known types, so no generated code is needed.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "livox.bridge.v1.SessionService"

const (
	methodGetStatus      = "/" + ServiceName + "/GetStatus"
	methodResetBuffer    = "/" + ServiceName + "/ResetBuffer"
	methodSetBufferLimit = "/" + ServiceName + "/SetBufferLimit"
	methodStreamFrames   = "/" + ServiceName + "/StreamFrames"
)

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ResetBuffer(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	SetBufferLimit(context.Context, *wrapperspb.UInt64Value) (*emptypb.Empty, error)
	StreamFrames(*emptypb.Empty, FrameStreamServer) error
}

// FrameStreamServer is the server side of StreamFrames. Each message carries
// one encoded frame.
type FrameStreamServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

// ServiceDesc describes SessionService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "ResetBuffer", Handler: resetBufferHandler},
		{MethodName: "SetBufferLimit", Handler: setBufferLimitHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
	Metadata: "livox/bridge/v1/session.proto",
}

// RegisterSessionServiceServer registers srv with s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func resetBufferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).ResetBuffer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodResetBuffer}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).ResetBuffer(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func setBufferLimitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).SetBufferLimit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSetBufferLimit}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).SetBufferLimit(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SessionServiceServer).StreamFrames(in, &frameStreamServer{stream})
}

type frameStreamServer struct {
	grpc.ServerStream
}

func (x *frameStreamServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

// SessionServiceClient calls SessionService.
type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionServiceClient) ResetBuffer(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, methodResetBuffer, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *SessionServiceClient) SetBufferLimit(ctx context.Context, n uint64, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, methodSetBufferLimit, wrapperspb.UInt64(n), new(emptypb.Empty), opts...)
}

// FrameStreamClient receives encoded frames.
type FrameStreamClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

func (c *SessionServiceClient) StreamFrames(ctx context.Context, opts ...grpc.CallOption) (FrameStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], methodStreamFrames, opts...)
	if err != nil {
		return nil, err
	}
	x := &frameStreamClient{stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type frameStreamClient struct {
	grpc.ClientStream
}

func (x *frameStreamClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
