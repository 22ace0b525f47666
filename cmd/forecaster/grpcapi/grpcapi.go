// Package grpcapi serves the forecaster over gRPC as the
// autoforecast.v1.Forecaster service.
//
// Messages are google.protobuf.Struct values carrying the same JSON documents
// as the HTTP API, so no generated code is needed on either side:
//
//	Forecast(ForecastRequest) returns (ForecastResponse)
//	Leaderboard({"predictorId": ..., "test": Series}) returns (LeaderboardResponse)
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/autoforecast/cmd/forecaster/service"
	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/tasks"
)

const (
	ServiceName = "autoforecast.v1.Forecaster"

	forecastMethod    = "/" + ServiceName + "/Forecast"
	leaderboardMethod = "/" + ServiceName + "/Leaderboard"
)

// Forecaster is the service behind the gRPC methods.
type Forecaster interface {
	Forecast(ctx context.Context, req api.ForecastRequest) (api.ForecastResponse, error)
	Leaderboard(ctx context.Context, id string, req api.LeaderboardRequest) (api.LeaderboardResponse, error)
}

// LeaderboardCall is the Leaderboard request document.
type LeaderboardCall struct {
	PredictorID string `json:"predictorId"`
	api.LeaderboardRequest
}

// forecasterServer is the handler type of ServiceDesc.
type forecasterServer interface {
	Forecast(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Leaderboard(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes autoforecast.v1.Forecaster.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*forecasterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Forecast", Handler: unaryHandler(forecastMethod, forecasterServer.Forecast)},
		{MethodName: "Leaderboard", Handler: unaryHandler(leaderboardMethod, forecasterServer.Leaderboard)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autoforecast/v1/forecaster.proto",
}

func unaryHandler(fullMethod string, call func(forecasterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(forecasterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(forecasterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server adapts a Forecaster to the Struct based methods.
type Server struct {
	svc    Forecaster
	logger *slog.Logger
}

func (s *Server) Forecast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ForecastRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.svc.Forecast(ctx, req)
	if err != nil {
		return nil, s.statusError(err)
	}
	return toStruct(resp)
}

func (s *Server) Leaderboard(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req LeaderboardCall
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.PredictorID == "" {
		return nil, status.Error(codes.InvalidArgument, "predictorId is required")
	}
	resp, err := s.svc.Leaderboard(ctx, req.PredictorID, req.LeaderboardRequest)
	if err != nil {
		return nil, s.statusError(err)
	}
	return toStruct(resp)
}

func (s *Server) statusError(err error) error {
	code := Code(err)
	if code == codes.Internal {
		s.logger.Error("grpc request failed", "error", err)
		return status.Error(code, "internal server error")
	}
	return status.Error(code, err.Error())
}

// Code maps a service error to its gRPC code.
func Code(err error) codes.Code {
	switch {
	case errors.Is(err, service.ErrPredictorNotFound),
		errors.Is(err, service.ErrSnapshotNotFound):
		return codes.NotFound
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, tasks.ErrInvalidSettings),
		errors.Is(err, tasks.ErrNoTarget),
		errors.Is(err, tasks.ErrNoTimeVariable):
		return codes.InvalidArgument
	case errors.Is(err, tasks.ErrFittingFailed),
		errors.Is(err, tasks.ErrEvaluationFailed),
		errors.Is(err, tasks.ErrInvalidPredictor):
		return codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// NewServer returns a gRPC server with the forecaster, health and reflection
// services registered.
func NewServer(svc Forecaster, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	srv.RegisterService(&ServiceDesc, &Server{svc: svc, logger: logger})

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(srv)
	return srv
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("gRPC request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// Client calls autoforecast.v1.Forecaster over conn.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Forecast(ctx context.Context, req api.ForecastRequest) (api.ForecastResponse, error) {
	var resp api.ForecastResponse
	err := c.invoke(ctx, forecastMethod, req, &resp)
	return resp, err
}

func (c *Client) Leaderboard(ctx context.Context, id string, req api.LeaderboardRequest) (api.LeaderboardResponse, error) {
	var resp api.LeaderboardResponse
	err := c.invoke(ctx, leaderboardMethod, LeaderboardCall{PredictorID: id, LeaderboardRequest: req}, &resp)
	return resp, err
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return fromStruct(out, resp)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode message: %v", err))
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode message: %v", err))
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("decode message: %v", err))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("decode message: %v", err))
	}
	return nil
}
