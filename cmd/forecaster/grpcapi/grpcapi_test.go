package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/HatiCode/autoforecast/cmd/forecaster/service"
	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/tasks"
)

type fakeService struct {
	lastForecast api.ForecastRequest
	lastTest     *api.Series
	err          error
}

func (f *fakeService) Forecast(_ context.Context, req api.ForecastRequest) (api.ForecastResponse, error) {
	f.lastForecast = req
	if f.err != nil {
		return api.ForecastResponse{}, f.err
	}
	return api.ForecastResponse{
		PredictorID: "p1",
		BestModel:   "Drift",
		Forecast: api.Forecast{
			Timestamps: []float64{1_700_003_600},
			Mean:       []float64{42.5},
			Quantiles:  map[string][]float64{"0.9": {50}},
		},
		Warnings: []string{"Data has only 3 instances"},
	}, nil
}

func (f *fakeService) Leaderboard(_ context.Context, id string, req api.LeaderboardRequest) (api.LeaderboardResponse, error) {
	f.lastTest = req.Test
	if id != "p1" {
		return api.LeaderboardResponse{}, fmt.Errorf("%w: %q", service.ErrPredictorNotFound, id)
	}
	return api.LeaderboardResponse{PredictorID: id, Rows: []api.LeaderboardRow{
		{Model: "Drift", Score: -0.5, FitTime: 0.01},
		{Model: "Naive", Score: -0.9},
	}}, nil
}

func dial(t *testing.T, svc Forecaster) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestForecast(t *testing.T) {
	svc := &fakeService{}
	client := NewClient(dial(t, svc))

	req := api.ForecastRequest{
		Workload: "api",
		Series:   api.Series{Times: []float64{1, 2, 3}, Target: []float64{4, 5, 6}},
		Settings: &api.Settings{PredictionLength: 12, Preset: "fast_training"},
	}
	resp, err := client.Forecast(context.Background(), req)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}

	if resp.PredictorID != "p1" || resp.BestModel != "Drift" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Forecast.Mean[0] != 42.5 || resp.Forecast.Timestamps[0] != 1_700_003_600 || resp.Forecast.Quantiles["0.9"][0] != 50 {
		t.Errorf("forecast = %+v", resp.Forecast)
	}
	if len(resp.Warnings) != 1 {
		t.Errorf("warnings = %v", resp.Warnings)
	}

	got := svc.lastForecast
	if got.Workload != "api" || len(got.Series.Target) != 3 || got.Settings == nil || got.Settings.PredictionLength != 12 {
		t.Errorf("service received %+v", got)
	}
}

func TestForecast_ErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: %w", service.ErrInvalidInput, api.ErrEmptySeries), codes.InvalidArgument},
		{fmt.Errorf("%w: no models", tasks.ErrFittingFailed), codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			client := NewClient(dial(t, &fakeService{err: tt.err}))
			_, err := client.Forecast(context.Background(), api.ForecastRequest{})
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %s, want %s (%v)", got, tt.want, err)
			}
			if tt.want == codes.Internal && status.Convert(err).Message() != "internal server error" {
				t.Errorf("internal error leaked: %v", err)
			}
		})
	}
}

func TestLeaderboard(t *testing.T) {
	svc := &fakeService{}
	client := NewClient(dial(t, svc))
	ctx := context.Background()

	test := &api.Series{Times: []float64{1, 2}, Target: []float64{3, 4}}
	resp, err := client.Leaderboard(ctx, "p1", api.LeaderboardRequest{Test: test})
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if len(resp.Rows) != 2 || resp.Rows[0].Model != "Drift" || resp.Rows[0].Score != -0.5 {
		t.Errorf("rows = %+v", resp.Rows)
	}
	if svc.lastTest == nil || svc.lastTest.Target[1] != 4 {
		t.Errorf("test series not passed: %+v", svc.lastTest)
	}

	_, err = client.Leaderboard(ctx, "p2", api.LeaderboardRequest{})
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown predictor code = %s", status.Code(err))
	}
	_, err = client.Leaderboard(ctx, "", api.LeaderboardRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("missing predictor code = %s", status.Code(err))
	}
}

func TestHealth(t *testing.T) {
	conn := dial(t, &fakeService{})
	health := grpc_health_v1.NewHealthClient(conn)

	for _, name := range []string{"", ServiceName} {
		resp, err := health.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: name})
		if err != nil {
			t.Fatalf("Check(%q) error = %v", name, err)
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q) = %s, want SERVING", name, resp.GetStatus())
		}
	}
}
