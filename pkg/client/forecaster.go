// Package client provides an HTTP client for the autoforecast forecaster service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/httpx"
	"github.com/HatiCode/autoforecast/pkg/storage"
)

// ErrNotFound is returned for 404 replies.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx reply. Message holds the server's error text.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ForecasterClient talks to the forecaster service.
// It is safe for concurrent use by multiple goroutines.
type ForecasterClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewForecasterClient creates a client for baseURL, e.g. "http://localhost:8081".
// A default timeout of 5 seconds is used for snapshot reads; fitting calls
// should use NewForecasterClientWithTimeout with a timeout above the fit time limit.
func NewForecasterClient(baseURL string) *ForecasterClient {
	return NewForecasterClientWithTimeout(baseURL, 5*time.Second)
}

func NewForecasterClientWithTimeout(baseURL string, timeout time.Duration) *ForecasterClient {
	return &ForecasterClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SnapshotResult contains the snapshot and whether the server marked it stale.
type SnapshotResult struct {
	Snapshot storage.Snapshot
	Stale    bool
}

// GetSnapshot fetches the latest forecast snapshot for a workload.
func (c *ForecasterClient) GetSnapshot(ctx context.Context, workload string) (*SnapshotResult, error) {
	if workload == "" {
		return nil, fmt.Errorf("workload cannot be empty")
	}

	var resp api.SnapshotResponse
	header, err := c.do(ctx, http.MethodGet, "/forecast/current", url.Values{"workload": {workload}}, nil, &resp)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("snapshot not found for workload %q: %w", workload, err)
		}
		return nil, err
	}

	return &SnapshotResult{
		Snapshot: storage.Snapshot{
			Workload:     resp.Workload,
			Metric:       resp.Metric,
			BestModel:    resp.BestModel,
			GeneratedAt:  resp.GeneratedAt,
			StepSeconds:  resp.StepSeconds,
			HorizonSteps: resp.HorizonSteps,
			Timestamps:   resp.Timestamps,
			Values:       resp.Values,
			Quantiles:    resp.Quantiles,
		},
		Stale: header.Get(api.StaleHeader) == "true",
	}, nil
}

// Forecast fits a predictor on the request series and returns its forecast.
func (c *ForecasterClient) Forecast(ctx context.Context, req api.ForecastRequest) (*api.ForecastResponse, error) {
	var resp api.ForecastResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/forecast", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Leaderboard ranks the models of a fitted predictor. A nil test scores on
// the validation window.
func (c *ForecasterClient) Leaderboard(ctx context.Context, predictorID string, test *api.Series) (*api.LeaderboardResponse, error) {
	if predictorID == "" {
		return nil, fmt.Errorf("predictor id cannot be empty")
	}
	var resp api.LeaderboardResponse
	path := "/v1/predictors/" + url.PathEscape(predictorID) + "/leaderboard"
	if _, err := c.do(ctx, http.MethodPost, path, nil, api.LeaderboardRequest{Test: test}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Importance computes feature importance on a fitted predictor.
func (c *ForecasterClient) Importance(ctx context.Context, predictorID string, req api.ImportanceRequest) (*api.ImportanceResponse, error) {
	if predictorID == "" {
		return nil, fmt.Errorf("predictor id cannot be empty")
	}
	var resp api.ImportanceResponse
	path := "/v1/predictors/" + url.PathEscape(predictorID) + "/importance"
	if _, err := c.do(ctx, http.MethodPost, path, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ForecasterClient) do(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e httpx.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Header, nil
}

// IsStale reports whether snapshot is older than staleAfter.
func IsStale(snapshot storage.Snapshot, staleAfter time.Duration) bool {
	return time.Since(snapshot.GeneratedAt) > staleAfter
}
