// Package router configures HTTP routes for the forecaster's HTTP API.
//
// Routes configured:
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//   - GET /forecast/current?workload=<name> - Latest forecast snapshot
//   - POST /v1/forecast - Fit a predictor and forecast a series
//   - GET /v1/predictors - IDs of the predictors held in memory
//   - GET|POST /v1/predictors/{id}/leaderboard - Rank the models of a predictor
//   - POST /v1/predictors/{id}/importance - Feature importance of a predictor
//
// Snapshots older than the stale threshold carry the X-Autoforecast-Stale
// header. Fit requests are rate limited because each one trains every
// candidate model.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/autoforecast/cmd/forecaster/service"
	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/httpx"
	"github.com/HatiCode/autoforecast/pkg/tasks"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 32 << 20

// Forecaster is the service behind the routes.
type Forecaster interface {
	Forecast(ctx context.Context, req api.ForecastRequest) (api.ForecastResponse, error)
	Leaderboard(ctx context.Context, id string, req api.LeaderboardRequest) (api.LeaderboardResponse, error)
	Importance(ctx context.Context, id string, req api.ImportanceRequest) (api.ImportanceResponse, error)
	Snapshot(ctx context.Context, workload string) (api.SnapshotResponse, bool, error)
	Predictors() []string
}

// Options tunes the fit rate limit. A zero FitRate disables it. A non-nil
// Health check makes /healthz answer 503 while it fails.
type Options struct {
	FitRate  float64
	FitBurst int
	Health   func() error
}

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(svc Forecaster, opts Options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	limit := httpx.RateLimitMiddleware(opts.FitRate, opts.FitBurst)

	if opts.Health != nil {
		mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(opts.Health))
	} else {
		mux.Handle("GET /healthz", httpx.HealthHandler())
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /forecast/current", handleGetSnapshot(svc, logger))
	mux.Handle("POST /v1/forecast", limit(handleForecast(svc, logger)))
	mux.HandleFunc("GET /v1/predictors", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string][]string{"predictors": svc.Predictors()})
	})
	mux.HandleFunc("GET /v1/predictors/{id}/leaderboard", handleLeaderboard(svc, logger))
	mux.HandleFunc("POST /v1/predictors/{id}/leaderboard", handleLeaderboard(svc, logger))
	mux.Handle("POST /v1/predictors/{id}/importance", limit(handleImportance(svc, logger)))

	return httpx.Chain(mux,
		httpx.RecoveryMiddleware(logger),
		httpx.LoggingMiddleware(logger),
	)
}

// handleGetSnapshot returns a handler for GET /forecast/current?workload=<name>.
func handleGetSnapshot(svc Forecaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workload := r.URL.Query().Get("workload")
		if workload == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "workload parameter required")
			return
		}

		snap, stale, err := svc.Snapshot(r.Context(), workload)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		if stale {
			w.Header().Set(api.StaleHeader, "true")
		}
		httpx.WriteJSON(w, http.StatusOK, snap)
	}
}

func handleForecast(svc Forecaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.ForecastRequest
		if !decode(w, r, &req, false) {
			return
		}
		resp, err := svc.Forecast(r.Context(), req)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

func handleLeaderboard(svc Forecaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.LeaderboardRequest
		if !decode(w, r, &req, true) {
			return
		}
		resp, err := svc.Leaderboard(r.Context(), r.PathValue("id"), req)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

func handleImportance(svc Forecaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.ImportanceRequest
		if !decode(w, r, &req, true) {
			return
		}
		resp, err := svc.Importance(r.Context(), r.PathValue("id"), req)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

// decode reads a JSON body into v and writes a 400 on failure. An empty body
// is accepted when optional is set.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	return false
}

// StatusCode maps a service error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrPredictorNotFound),
		errors.Is(err, service.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, tasks.ErrInvalidSettings),
		errors.Is(err, tasks.ErrNoTarget),
		errors.Is(err, tasks.ErrNoTimeVariable):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrFittingFailed),
		errors.Is(err, tasks.ErrEvaluationFailed),
		errors.Is(err, tasks.ErrComputationFailed),
		errors.Is(err, tasks.ErrInvalidPredictor):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		httpx.WriteErrorMessage(w, status, "internal server error")
		return
	}
	httpx.WriteError(w, status, err)
}
