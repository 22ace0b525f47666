package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/autoforecast/cmd/forecaster/service"
	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/httpx"
	"github.com/HatiCode/autoforecast/pkg/tasks"
)

type fakeService struct {
	forecastErr error
	snapshots   map[string]api.SnapshotResponse
	stale       bool
	lastID      string
	lastTest    *api.Series
	lastImp     api.ImportanceRequest
}

func (f *fakeService) Forecast(_ context.Context, req api.ForecastRequest) (api.ForecastResponse, error) {
	if f.forecastErr != nil {
		return api.ForecastResponse{}, f.forecastErr
	}
	return api.ForecastResponse{
		PredictorID: "p1",
		BestModel:   "Naive",
		Forecast:    api.Forecast{Timestamps: []float64{10}, Mean: []float64{req.Series.Target[len(req.Series.Target)-1]}},
	}, nil
}

func (f *fakeService) Leaderboard(_ context.Context, id string, req api.LeaderboardRequest) (api.LeaderboardResponse, error) {
	f.lastID, f.lastTest = id, req.Test
	if id != "p1" {
		return api.LeaderboardResponse{}, fmt.Errorf("%w: %q", service.ErrPredictorNotFound, id)
	}
	return api.LeaderboardResponse{PredictorID: id, Rows: []api.LeaderboardRow{{Model: "Naive", Score: -1}}}, nil
}

func (f *fakeService) Importance(_ context.Context, id string, req api.ImportanceRequest) (api.ImportanceResponse, error) {
	f.lastID, f.lastImp = id, req
	return api.ImportanceResponse{PredictorID: id, Rows: []api.ImportanceRow{{Feature: "cpu", Importance: 0.5}}}, nil
}

func (f *fakeService) Snapshot(_ context.Context, workload string) (api.SnapshotResponse, bool, error) {
	s, ok := f.snapshots[workload]
	if !ok {
		return api.SnapshotResponse{}, false, fmt.Errorf("%w: %q", service.ErrSnapshotNotFound, workload)
	}
	return s, f.stale, nil
}

func (f *fakeService) Predictors() []string { return []string{"p1"} }

func setup(t *testing.T, svc *fakeService, opts Options) http.Handler {
	t.Helper()
	return SetupRoutes(svc, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httpx.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body %q: %v", w.Body.String(), err)
	}
	return resp.Error
}

func TestHealthEndpoint(t *testing.T) {
	w := serve(setup(t, &fakeService{}, Options{}), http.MethodGet, "/healthz", "")

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

func TestHealthEndpoint_StoreDown(t *testing.T) {
	opts := Options{Health: func() error { return errors.New("redis ping: connection refused") }}
	w := serve(setup(t, &fakeService{}, opts), http.MethodGet, "/healthz", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "connection refused") {
		t.Errorf("error = %q, want the check error", msg)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	w := serve(setup(t, &fakeService{}, Options{}), http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Content-Type header should be set for metrics endpoint")
	}
}

func TestGetSnapshot(t *testing.T) {
	generated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &fakeService{snapshots: map[string]api.SnapshotResponse{
		"api": {Workload: "api", Metric: "rps", GeneratedAt: generated, StepSeconds: 60, Values: []float64{1, 2}},
	}}
	h := setup(t, svc, Options{})

	w := serve(h, http.MethodGet, "/forecast/current?workload=api", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get(api.StaleHeader) != "" {
		t.Error("fresh snapshot has the stale header")
	}
	var got api.SnapshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Workload != "api" || !got.GeneratedAt.Equal(generated) || len(got.Values) != 2 {
		t.Errorf("snapshot = %+v", got)
	}

	svc.stale = true
	if w := serve(h, http.MethodGet, "/forecast/current?workload=api", ""); w.Header().Get(api.StaleHeader) != "true" {
		t.Error("stale snapshot lacks the stale header")
	}

	if w := serve(h, http.MethodGet, "/forecast/current", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing workload status = %d, want 400", w.Code)
	}
	w = serve(h, http.MethodGet, "/forecast/current?workload=none", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown workload status = %d, want 404", w.Code)
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "none") {
		t.Errorf("error message = %q", msg)
	}
}

func TestForecastEndpoint(t *testing.T) {
	h := setup(t, &fakeService{}, Options{})

	body := `{"series":{"times":[1,2,3],"target":[4,5,6]}}`
	w := serve(h, http.MethodPost, "/v1/forecast", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var resp api.ForecastResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PredictorID != "p1" || resp.Forecast.Mean[0] != 6 {
		t.Errorf("response = %+v", resp)
	}

	if w := serve(h, http.MethodGet, "/v1/forecast", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", w.Code)
	}
}

func TestForecastEndpoint_BadRequests(t *testing.T) {
	h := setup(t, &fakeService{}, Options{})

	for name, body := range map[string]string{
		"empty":         "",
		"malformed":     "{",
		"unknown field": `{"series":{"times":[1],"target":[1]},"model":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if w := serve(h, http.MethodPost, "/v1/forecast", body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestForecastEndpoint_ServiceErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", service.ErrInvalidInput, api.ErrEmptySeries), http.StatusBadRequest},
		{fmt.Errorf("%w: horizon", tasks.ErrInvalidSettings), http.StatusBadRequest},
		{fmt.Errorf("%w: no models", tasks.ErrFittingFailed), http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := setup(t, &fakeService{forecastErr: tt.err}, Options{})
			w := serve(h, http.MethodPost, "/v1/forecast", `{"series":{"times":[1],"target":[1]}}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError && errorMessage(t, w) != "internal server error" {
				t.Errorf("internal error leaked: %s", w.Body.String())
			}
		})
	}
}

func TestForecastEndpoint_RateLimited(t *testing.T) {
	h := setup(t, &fakeService{}, Options{FitRate: 0.001, FitBurst: 1})
	body := `{"series":{"times":[1],"target":[1]}}`

	if w := serve(h, http.MethodPost, "/v1/forecast", body); w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	if w := serve(h, http.MethodPost, "/v1/forecast", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", w.Code)
	}
	if w := serve(h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("health check limited: %d", w.Code)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	svc := &fakeService{}
	h := setup(t, svc, Options{})

	w := serve(h, http.MethodPost, "/v1/predictors/p1/leaderboard", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if svc.lastID != "p1" || svc.lastTest != nil {
		t.Errorf("service got id %q test %v", svc.lastID, svc.lastTest)
	}

	body, _ := json.Marshal(api.LeaderboardRequest{Test: &api.Series{Times: []float64{1}, Target: []float64{2}}})
	if w := serve(h, http.MethodPost, "/v1/predictors/p1/leaderboard", string(body)); w.Code != http.StatusOK {
		t.Errorf("with test status = %d", w.Code)
	}
	if svc.lastTest == nil || svc.lastTest.Target[0] != 2 {
		t.Errorf("test series not passed: %+v", svc.lastTest)
	}

	if w := serve(h, http.MethodGet, "/v1/predictors/p1/leaderboard", ""); w.Code != http.StatusOK {
		t.Errorf("GET status = %d", w.Code)
	}

	if w := serve(h, http.MethodPost, "/v1/predictors/p2/leaderboard", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown predictor status = %d, want 404", w.Code)
	}
}

func TestImportanceEndpoint(t *testing.T) {
	svc := &fakeService{}
	h := setup(t, svc, Options{})

	w := serve(h, http.MethodPost, "/v1/predictors/p1/importance", `{"method":"naive","numIterations":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if svc.lastImp.Method != "naive" || svc.lastImp.NumIterations != 3 {
		t.Errorf("service got %+v", svc.lastImp)
	}
	var resp api.ImportanceResponse
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Rows) != 1 || resp.Rows[0].Feature != "cpu" {
		t.Errorf("rows = %+v", resp.Rows)
	}
}

func TestPredictorsEndpoint(t *testing.T) {
	w := serve(setup(t, &fakeService{}, Options{}), http.MethodGet, "/v1/predictors", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"p1"`) {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}
}
