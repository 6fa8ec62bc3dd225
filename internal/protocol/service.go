// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "plughost.runtime.v1.Runtime"

// Full method names.
const (
	SendMethod    = "/" + ServiceName + "/Send"
	ResultsMethod = "/" + ServiceName + "/Results"
	StatusMethod  = "/" + ServiceName + "/Status"
)

// EnvelopeStream is the sending half of a server stream.
type EnvelopeStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

// RuntimeServer is implemented by the plugin process.
type RuntimeServer interface {
	// Send enqueues one command envelope.
	Send(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Results streams result envelopes until the runtime stops.
	Results(*emptypb.Empty, EnvelopeStream) error
	// Status streams status envelopes until the runtime stops.
	Status(*emptypb.Empty, EnvelopeStream) error
}

// RegisterRuntimeServer registers srv on s.
func RegisterRuntimeServer(s grpc.ServiceRegistrar, srv RuntimeServer) {
	s.RegisterService(&runtimeServiceDesc, srv)
}

var runtimeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuntimeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Results", Handler: resultsHandler, ServerStreams: true},
		{StreamName: "Status", Handler: statusHandler, ServerStreams: true},
	},
}

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RuntimeServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RuntimeServer).Send(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func resultsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RuntimeServer).Results(in, &serverStream{stream})
}

func statusHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RuntimeServer).Status(in, &serverStream{stream})
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(m *structpb.Struct) error {
	return s.SendMsg(m)
}

// EnvelopeReceiver is the receiving half of a client stream.
type EnvelopeReceiver interface {
	Recv() (*structpb.Struct, error)
}

// RuntimeClient is the host side of the runtime service.
type RuntimeClient struct {
	cc grpc.ClientConnInterface
}

// NewRuntimeClient wraps a connection to a plugin process.
func NewRuntimeClient(cc grpc.ClientConnInterface) *RuntimeClient {
	return &RuntimeClient{cc: cc}
}

// Send delivers one command envelope.
func (c *RuntimeClient) Send(ctx context.Context, in *structpb.Struct) error {
	return c.cc.Invoke(ctx, SendMethod, in, new(emptypb.Empty))
}

// Results opens the result stream.
func (c *RuntimeClient) Results(ctx context.Context) (EnvelopeReceiver, error) {
	return c.open(ctx, 0, ResultsMethod)
}

// Status opens the status stream.
func (c *RuntimeClient) Status(ctx context.Context) (EnvelopeReceiver, error) {
	return c.open(ctx, 1, StatusMethod)
}

func (c *RuntimeClient) open(ctx context.Context, idx int, method string) (EnvelopeReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &runtimeServiceDesc.Streams[idx], method)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &clientStream{stream}, nil
}

type clientStream struct {
	grpc.ClientStream
}

func (s *clientStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
