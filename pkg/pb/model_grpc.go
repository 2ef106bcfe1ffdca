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

// The ML sidecar answers three calls:
//
//	Classify:  face crop (JPEG)  -> {"drowsy": bool, "confidence": number}
//	Landmarks: full frame (JPEG) -> {"faces": [{"score": number, "points": [x0, y0, x1, y1, ...]}]}
//	Health:    Empty             -> {"status": string, "model_loaded": bool}
const (
	ModelService_Classify_FullMethodName  = "/drowsiness.v1.ModelService/Classify"
	ModelService_Landmarks_FullMethodName = "/drowsiness.v1.ModelService/Landmarks"
	ModelService_Health_FullMethodName    = "/drowsiness.v1.ModelService/Health"
)

// ModelServiceClient is the client API for the ML sidecar.
type ModelServiceClient interface {
	Classify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Landmarks(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type modelServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewModelServiceClient(cc grpc.ClientConnInterface) ModelServiceClient {
	return &modelServiceClient{cc}
}

func (c *modelServiceClient) Classify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ModelService_Classify_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *modelServiceClient) Landmarks(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ModelService_Landmarks_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *modelServiceClient) Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ModelService_Health_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ModelServiceServer is implemented by the sidecar. The Go side only
// implements it in tests.
type ModelServiceServer interface {
	Classify(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Landmarks(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedModelServiceServer can be embedded for forward compatibility.
type UnimplementedModelServiceServer struct{}

func (UnimplementedModelServiceServer) Classify(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Classify not implemented")
}

func (UnimplementedModelServiceServer) Landmarks(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Landmarks not implemented")
}

func (UnimplementedModelServiceServer) Health(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Health not implemented")
}

func RegisterModelServiceServer(s grpc.ServiceRegistrar, srv ModelServiceServer) {
	s.RegisterService(&ModelService_ServiceDesc, srv)
}

func _ModelService_Classify_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelServiceServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ModelService_Classify_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ModelServiceServer).Classify(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _ModelService_Landmarks_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelServiceServer).Landmarks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ModelService_Landmarks_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ModelServiceServer).Landmarks(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _ModelService_Health_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelServiceServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ModelService_Health_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ModelServiceServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ModelService_ServiceDesc is the grpc.ServiceDesc for the ML sidecar.
var ModelService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "drowsiness.v1.ModelService",
	HandlerType: (*ModelServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: _ModelService_Classify_Handler},
		{MethodName: "Landmarks", Handler: _ModelService_Landmarks_Handler},
		{MethodName: "Health", Handler: _ModelService_Health_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drowsiness/v1/model.proto",
}
