package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/HatiCode/autoforecast/cmd/forecaster/grpcapi"
	"github.com/HatiCode/autoforecast/cmd/forecaster/metrics"
	"github.com/HatiCode/autoforecast/cmd/forecaster/router"
	"github.com/HatiCode/autoforecast/cmd/forecaster/service"
	"github.com/HatiCode/autoforecast/pkg/adapters"
	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/client"
	"github.com/HatiCode/autoforecast/pkg/features"
	"github.com/HatiCode/autoforecast/pkg/storage"
	"github.com/HatiCode/autoforecast/pkg/tasks"
)

// promMatrix renders a query_range reply with n one-minute points of a
// daily-ish sine around 100 rps.
func promMatrix(n int, end time.Time) string {
	var b strings.Builder
	start := end.Add(-time.Duration(n-1) * time.Minute).Unix()
	for i := range n {
		if i > 0 {
			b.WriteByte(',')
		}
		v := 100 + 20*math.Sin(2*math.Pi*float64(i)/30)
		fmt.Fprintf(&b, `[%d,"%.3f"]`, start+int64(i)*60, v)
	}
	return `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{"service":"test-api"},"values":[` + b.String() + `]}]}}`
}

// TestForecasterE2E scrapes a mock Prometheus, fits a predictor, stores the
// snapshot in Redis and reads it back over HTTP and gRPC.
func TestForecasterE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// 1. Mock Prometheus served by nginx.
	nginxConf := `
events {
    worker_connections 1024;
}
http {
    server {
        listen 80;
        location /api/v1/query_range {
            default_type application/json;
            return 200 '` + promMatrix(120, time.Now().Truncate(time.Minute)) + `';
        }
    }
}
`
	promContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nginx:alpine",
			ExposedPorts: []string{"80/tcp"},
			Files: []testcontainers.ContainerFile{
				{
					ContainerFilePath: "/etc/nginx/nginx.conf",
					FileMode:          0o644,
					Reader:            strings.NewReader(nginxConf),
				},
			},
			WaitingFor: wait.ForHTTP("/api/v1/query_range").WithPort("80/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, promContainer)
	if err != nil {
		t.Fatalf("Failed to start Prometheus mock container: %v", err)
	}

	promURL, err := promContainer.PortEndpoint(ctx, "80/tcp", "http")
	if err != nil {
		t.Fatalf("Failed to get Prometheus endpoint: %v", err)
	}
	t.Logf("Mock Prometheus URL: %s", promURL)

	// 2. Redis snapshot store.
	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, redisContainer)
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	redisAddr, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get redis endpoint: %v", err)
	}
	snapshots, err := storage.NewRedisStore(redisAddr, "", 0, time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { snapshots.Close() })

	// 3. Forecaster service behind HTTP and gRPC.
	svc, err := service.New(service.Config{
		Defaults: tasks.ForecastSettings{
			PredictionLength: 6,
			EvalMetric:       "MASE",
			Preset:           "fast_training",
			TimeLimit:        30 * time.Second,
		},
		ModelDir:     t.TempDir(),
		RegistrySize: 4,
		CacheSize:    4,
		CacheTTL:     time.Minute,
		StaleAfter:   time.Hour,
	}, snapshots, metrics.New(t.Name()), logger)
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}

	httpServer := httptest.NewServer(router.SetupRoutes(svc, router.Options{FitRate: 10, FitBurst: 10}, logger))
	t.Cleanup(httpServer.Close)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcServer := grpcapi.NewServer(svc, logger)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	// 4. One scrape cycle.
	adapter := &adapters.PrometheusAdapter{
		ServerURL:   promURL,
		Query:       `sum(rate(http_requests_total{service="test-api"}[1m]))`,
		StepSeconds: 60,
	}
	df, err := adapter.Collect(ctx, 2*time.Hour)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	ts, err := features.NewBuilder().Build(df)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	fitted, err := svc.ForecastSeries(ctx, "test-api", "http_rps", ts)
	if err != nil {
		t.Fatalf("ForecastSeries() error = %v", err)
	}
	if len(fitted.Forecast.Mean) != 6 {
		t.Fatalf("forecast length = %d, want 6", len(fitted.Forecast.Mean))
	}

	t.Run("SnapshotOverHTTP", func(t *testing.T) {
		res, err := client.NewForecasterClient(httpServer.URL).GetSnapshot(ctx, "test-api")
		if err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if res.Stale {
			t.Error("fresh snapshot marked stale")
		}
		if res.Snapshot.Metric != "http_rps" || res.Snapshot.StepSeconds != 60 {
			t.Errorf("snapshot = %+v", res.Snapshot)
		}
		if len(res.Snapshot.Values) != 6 {
			t.Errorf("snapshot values = %d, want 6", len(res.Snapshot.Values))
		}
		for _, v := range res.Snapshot.Values {
			if v < 50 || v > 150 {
				t.Errorf("forecast value %v outside the scraped range", v)
			}
		}
	})

	t.Run("UnknownWorkload", func(t *testing.T) {
		_, err := client.NewForecasterClient(httpServer.URL).GetSnapshot(ctx, "unknown-workload")
		if err == nil {
			t.Error("expected error for unknown workload")
		}
	})

	t.Run("LeaderboardOverGRPC", func(t *testing.T) {
		conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			t.Fatalf("grpc.NewClient() error = %v", err)
		}
		defer conn.Close()

		lb, err := grpcapi.NewClient(conn).Leaderboard(ctx, fitted.PredictorID, api.LeaderboardRequest{})
		if err != nil {
			t.Fatalf("Leaderboard() error = %v", err)
		}
		if len(lb.Rows) == 0 {
			t.Fatal("empty leaderboard")
		}
		found := false
		for _, row := range lb.Rows {
			found = found || row.Model == fitted.BestModel
		}
		if !found {
			t.Errorf("best model %q missing from leaderboard %+v", fitted.BestModel, lb.Rows)
		}
	})
}
