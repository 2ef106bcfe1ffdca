// Package pb holds the gRPC service descriptors for the public detection API
// and for the ML sidecar. Messages are protobuf well-known types: frames travel
// as BytesValue (encoded JPEG/PNG/WebP) and results as Struct.
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Metadata keys carried on detection calls.
const (
	MetadataSessionID = "x-session-id"
	MetadataToken     = "authorization"
)

const (
	DrowsinessDetection_DetectDrowsiness_FullMethodName       = "/drowsiness.v1.DrowsinessDetection/DetectDrowsiness"
	DrowsinessDetection_DetectDrowsinessStream_FullMethodName = "/drowsiness.v1.DrowsinessDetection/DetectDrowsinessStream"
	DrowsinessDetection_Health_FullMethodName                 = "/drowsiness.v1.DrowsinessDetection/Health"
)

type (
	DrowsinessDetection_DetectDrowsinessStreamClient = grpc.BidiStreamingClient[wrapperspb.BytesValue, structpb.Struct]
	DrowsinessDetection_DetectDrowsinessStreamServer = grpc.BidiStreamingServer[wrapperspb.BytesValue, structpb.Struct]
)

// DrowsinessDetectionClient is the client API for the detection service.
type DrowsinessDetectionClient interface {
	DetectDrowsiness(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	DetectDrowsinessStream(ctx context.Context, opts ...grpc.CallOption) (DrowsinessDetection_DetectDrowsinessStreamClient, error)
	Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type drowsinessDetectionClient struct {
	cc grpc.ClientConnInterface
}

func NewDrowsinessDetectionClient(cc grpc.ClientConnInterface) DrowsinessDetectionClient {
	return &drowsinessDetectionClient{cc}
}

func (c *drowsinessDetectionClient) DetectDrowsiness(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DrowsinessDetection_DetectDrowsiness_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *drowsinessDetectionClient) DetectDrowsinessStream(ctx context.Context, opts ...grpc.CallOption) (DrowsinessDetection_DetectDrowsinessStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &DrowsinessDetection_ServiceDesc.Streams[0], DrowsinessDetection_DetectDrowsinessStream_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, structpb.Struct]{ClientStream: stream}, nil
}

func (c *drowsinessDetectionClient) Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DrowsinessDetection_Health_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DrowsinessDetectionServer is the server API for the detection service.
type DrowsinessDetectionServer interface {
	DetectDrowsiness(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	DetectDrowsinessStream(DrowsinessDetection_DetectDrowsinessStreamServer) error
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedDrowsinessDetectionServer can be embedded for forward compatibility.
type UnimplementedDrowsinessDetectionServer struct{}

func (UnimplementedDrowsinessDetectionServer) DetectDrowsiness(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method DetectDrowsiness not implemented")
}

func (UnimplementedDrowsinessDetectionServer) DetectDrowsinessStream(DrowsinessDetection_DetectDrowsinessStreamServer) error {
	return status.Error(codes.Unimplemented, "method DetectDrowsinessStream not implemented")
}

func (UnimplementedDrowsinessDetectionServer) Health(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Health not implemented")
}

func RegisterDrowsinessDetectionServer(s grpc.ServiceRegistrar, srv DrowsinessDetectionServer) {
	s.RegisterService(&DrowsinessDetection_ServiceDesc, srv)
}

func _DrowsinessDetection_DetectDrowsiness_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DrowsinessDetectionServer).DetectDrowsiness(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DrowsinessDetection_DetectDrowsiness_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DrowsinessDetectionServer).DetectDrowsiness(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _DrowsinessDetection_DetectDrowsinessStream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(DrowsinessDetectionServer).DetectDrowsinessStream(&grpc.GenericServerStream[wrapperspb.BytesValue, structpb.Struct]{ServerStream: stream})
}

func _DrowsinessDetection_Health_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DrowsinessDetectionServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DrowsinessDetection_Health_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DrowsinessDetectionServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// DrowsinessDetection_ServiceDesc is the grpc.ServiceDesc for the detection service.
var DrowsinessDetection_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "drowsiness.v1.DrowsinessDetection",
	HandlerType: (*DrowsinessDetectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "DetectDrowsiness",
			Handler:    _DrowsinessDetection_DetectDrowsiness_Handler,
		},
		{
			MethodName: "Health",
			Handler:    _DrowsinessDetection_Health_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "DetectDrowsinessStream",
			Handler:       _DrowsinessDetection_DetectDrowsinessStream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "drowsiness/v1/drowsiness.proto",
}
