package server

import (
	"context"
	"fmt"
	"time"

	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/gateway"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler runs one query through the gateway.
type Handler interface {
	Handle(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// QueryServer implements QueryService on top of the gateway.
type QueryServer struct {
	handler Handler
	logger  *zap.Logger
}

// NewQueryServer creates a QueryServer.
func NewQueryServer(handler Handler, logger *zap.Logger) *QueryServer {
	return &QueryServer{handler: handler, logger: logger}
}

// Query implements QueryService.Query. The bearer token is read from the
// "authorization" metadata key.
func (s *QueryServer) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	token, _ := auth.TokenFromMetadata(ctx)

	resp, err := s.handler.Handle(ctx, gateway.Request{
		Token:     token,
		Query:     in.GetFields()["query"].GetStringValue(),
		Transport: "grpc",
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(resp), nil
}

// toStatus maps a gateway failure to a gRPC status carrying only the
// caller-safe message.
func toStatus(err error) error {
	gerr, ok := gateway.AsError(err)
	if !ok {
		return status.Error(codes.Internal, gateway.MsgInternal)
	}
	var code codes.Code
	switch gerr.Kind {
	case gateway.KindUnauthenticated:
		code = codes.Unauthenticated
	case gateway.KindForbidden:
		code = codes.PermissionDenied
	case gateway.KindInvalidRequest, gateway.KindExecution:
		code = codes.InvalidArgument
	case gateway.KindTranslation:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, gerr.Message)
}

func encodeResponse(resp *gateway.Response) *structpb.Struct {
	columns := make([]*structpb.Value, len(resp.Columns))
	for i, c := range resp.Columns {
		columns[i] = structpb.NewStringValue(c)
	}

	rows := make([]*structpb.Value, len(resp.Rows))
	for i, r := range resp.Rows {
		cols := r.Columns()
		fields := make(map[string]*structpb.Value, len(cols))
		for j, c := range cols {
			fields[c] = toValue(r.Value(j))
		}
		rows[i] = structpb.NewStructValue(&structpb.Struct{Fields: fields})
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"request_id": structpb.NewStringValue(resp.RequestID),
		"sql":        structpb.NewStringValue(resp.SQL),
		"columns":    structpb.NewListValue(&structpb.ListValue{Values: columns}),
		"rows":       structpb.NewListValue(&structpb.ListValue{Values: rows}),
	}}
}

// toValue converts a row value; types structpb does not know are rendered
// as strings.
func toValue(v any) *structpb.Value {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return structpb.NewStringValue(fmt.Sprint(v))
	}
	return pv
}

// loggingInterceptor logs every unary call with its status code.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

// NewGRPCServer builds a gRPC server exposing QueryService, the standard
// health service and reflection. The returned health server lets the caller
// flip the serving status on shutdown.
func NewGRPCServer(handler Handler, logger *zap.Logger) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(1*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)

	RegisterQueryServiceServer(grpcServer, NewQueryServer(handler, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(QueryServiceName, healthpb.HealthCheckResponse_SERVING)

	// grpcurl support
	reflection.Register(grpcServer)

	return grpcServer, healthServer
}
