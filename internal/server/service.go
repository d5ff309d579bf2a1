package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "safetygate.v1.Gate"

const evaluateMethod = "/" + ServiceName + "/Evaluate"

// GateServer is the server API of safetygate.v1.Gate. Messages are
// google.protobuf.Struct so clients need no generated code.
type GateServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var gateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GateServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Evaluate",
		Handler:    evaluateHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "safetygate/v1/gate.proto",
}

// RegisterGateServer registers srv on s.
func RegisterGateServer(s grpc.ServiceRegistrar, srv GateServer) {
	s.RegisterService(&gateServiceDesc, srv)
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GateServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GateServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GateClient calls safetygate.v1.Gate.
type GateClient struct {
	cc grpc.ClientConnInterface
}

// NewGateClient wraps a client connection.
func NewGateClient(cc grpc.ClientConnInterface) *GateClient {
	return &GateClient{cc: cc}
}

// Evaluate invokes the Evaluate RPC.
func (c *GateClient) Evaluate(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, evaluateMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
