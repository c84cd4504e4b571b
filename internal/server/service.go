package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully-qualified names of the query service.
const (
	QueryServiceName                  = "querygate.v1.QueryService"
	QueryService_Query_FullMethodName = "/querygate.v1.QueryService/Query"
)

// QueryServiceServer is the server API for querygate.v1.QueryService.
// Messages are google.protobuf.Struct so no generated code is needed:
//
//	request:  {"query": string}
//	response: {"request_id": string, "sql": string, "columns": [string], "rows": [{column: value}]}
type QueryServiceServer interface {
	Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterQueryServiceServer registers srv on s.
func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&QueryService_ServiceDesc, srv)
}

func _QueryService_Query_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServiceServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: QueryService_Query_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryServiceServer).Query(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// QueryService_ServiceDesc is the grpc.ServiceDesc for QueryService.
var QueryService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Query",
			Handler:    _QueryService_Query_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: queryProtoPath,
}

// QueryServiceClient is the client API for QueryService.
type QueryServiceClient interface {
	Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type queryServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewQueryServiceClient creates a client on cc.
func NewQueryServiceClient(cc grpc.ClientConnInterface) QueryServiceClient {
	return &queryServiceClient{cc}
}

func (c *queryServiceClient) Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, QueryService_Query_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
