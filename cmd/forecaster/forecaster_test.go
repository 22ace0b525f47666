package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/autoforecast/cmd/forecaster/metrics"
	"github.com/HatiCode/autoforecast/cmd/forecaster/service"
	"github.com/HatiCode/autoforecast/pkg/adapters"
	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/features"
	"github.com/HatiCode/autoforecast/pkg/storage"
	"github.com/HatiCode/autoforecast/pkg/tasks"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

type fakeAdapter struct {
	df      *adapters.DataFrame
	err     error
	windows []time.Duration
}

func (a *fakeAdapter) Collect(_ context.Context, window time.Duration) (*adapters.DataFrame, error) {
	a.windows = append(a.windows, window)
	return a.df, a.err
}

func (a *fakeAdapter) Name() string { return "fake" }

type recordingForecaster struct {
	series []*timeseries.TimeSeries
	err    error
	calls  chan struct{}
}

func (r *recordingForecaster) ForecastSeries(_ context.Context, workload, metric string, ts *timeseries.TimeSeries) (api.ForecastResponse, error) {
	r.series = append(r.series, ts)
	if r.calls != nil {
		r.calls <- struct{}{}
	}
	return api.ForecastResponse{PredictorID: "p", BestModel: "Naive"}, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func frame(n int) *adapters.DataFrame {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	target := adapters.Series{Name: "value"}
	cpu := adapters.Series{Name: "cpu"}
	for i := range n {
		ts := start.Add(time.Duration(i) * time.Minute)
		target.Samples = append(target.Samples, adapters.Sample{Time: ts, Value: float64(100 + i%10)})
		cpu.Samples = append(cpu.Samples, adapters.Sample{Time: ts, Value: float64(i % 7)})
	}
	return &adapters.DataFrame{Step: time.Minute, Series: []adapters.Series{target, cpu}}
}

func TestTick(t *testing.T) {
	adapter := &fakeAdapter{df: frame(30)}
	svc := &recordingForecaster{}
	m := metrics.New(t.Name())
	f := NewForecaster("api", "rps", adapter, features.NewBuilder(), svc, time.Hour, m, testLogger())

	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(adapter.windows) != 1 || adapter.windows[0] != time.Hour {
		t.Errorf("collect windows = %v, want [1h]", adapter.windows)
	}
	if len(svc.series) != 1 {
		t.Fatalf("ForecastSeries called %d times, want 1", len(svc.series))
	}
	ts := svc.series[0]
	if ts.Len() != 30 {
		t.Errorf("series rows = %d, want 30", ts.Len())
	}
	if _, ok := ts.Domain.Variable("cpu"); !ok {
		t.Error("series lacks the cpu covariate")
	}
	if testutil.CollectAndCount(m.AdapterCollectSeconds) != 1 {
		t.Error("collect duration not recorded")
	}
}

func TestTick_Errors(t *testing.T) {
	tests := []struct {
		name      string
		adapter   *fakeAdapter
		svcErr    error
		component string
		reason    string
	}{
		{"collect", &fakeAdapter{err: errors.New("prometheus down")}, nil, "adapter", "collect_failed"},
		{"build", &fakeAdapter{df: &adapters.DataFrame{}}, nil, "features", "build_failed"},
		{"forecast", &fakeAdapter{df: frame(30)}, tasks.ErrFittingFailed, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(t.Name())
			svc := &recordingForecaster{err: tt.svcErr}
			f := NewForecaster("api", "rps", tt.adapter, features.NewBuilder(), svc, time.Hour, m, testLogger())

			if err := f.Tick(context.Background()); err == nil {
				t.Fatal("Tick() error = nil")
			}
			if tt.component != "" {
				if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(tt.component, tt.reason)); got != 1 {
					t.Errorf("errors{%s,%s} = %v, want 1", tt.component, tt.reason, got)
				}
			}
		})
	}
}

func TestTick_StoresSnapshot(t *testing.T) {
	m := metrics.New(t.Name())
	store := storage.NewMemoryStore()
	svc, err := service.New(service.Config{
		Defaults: tasks.ForecastSettings{
			PredictionLength: 5,
			EvalMetric:       "MAE",
			Preset:           "fast_training",
			TimeLimit:        30 * time.Second,
		},
		RegistrySize: 2,
		CacheSize:    2,
		StaleAfter:   time.Minute,
	}, store, m, testLogger())
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}

	f := NewForecaster("api", "rps", &fakeAdapter{df: frame(60)}, features.NewBuilder(), svc, time.Hour, m, testLogger())
	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	snap, found, err := store.GetLatest(context.Background(), "api")
	if err != nil || !found {
		t.Fatalf("GetLatest() = %v, %v", found, err)
	}
	if snap.Metric != "rps" || snap.StepSeconds != 60 || len(snap.Values) != 5 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc := &recordingForecaster{calls: make(chan struct{}, 1)}
	f := NewForecaster("api", "rps", &fakeAdapter{df: frame(30)}, features.NewBuilder(), svc, time.Hour, metrics.New(t.Name()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, time.Hour) }()

	select {
	case <-svc.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick did not run")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
