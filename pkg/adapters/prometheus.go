// Package adapters provides data source connectors that retrieve metrics
// from external systems and normalize them into a DataFrame for the
// forecaster.
//
// Adapters are intentionally lightweight. They pull raw data and leave
// feature building and forecasting to the upper layers.
package adapters

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"
)

// PrometheusAdapter fetches time series through the Prometheus HTTP API
// with one /api/v1/query_range call per query. When a query returns several
// series, values with the same timestamp are summed.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression of the forecast target.
	Query string
	// Covariates maps covariate names to PromQL expressions.
	Covariates map[string]string
	// TargetName names the target series, "value" when empty.
	TargetName string
	// StepSeconds controls the resolution (defaults to 60s if <= 0).
	StepSeconds int
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

func (p *PrometheusAdapter) step() time.Duration {
	if p.StepSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.StepSeconds) * time.Second
}

// Collect queries the target and every covariate over the last window.
func (p *PrometheusAdapter) Collect(ctx context.Context, window time.Duration) (*DataFrame, error) {
	if p.ServerURL == "" || p.Query == "" {
		return nil, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	step := p.step()
	end := time.Now().UTC().Truncate(time.Second)
	start := end.Add(-window)

	df := &DataFrame{Step: step}
	target, err := p.queryRange(ctx, p.Query, start, end, step)
	if err != nil {
		return nil, fmt.Errorf("query target: %w", err)
	}
	df.Series = append(df.Series, Series{Name: cmp.Or(p.TargetName, "value"), Samples: target})

	for _, name := range slices.Sorted(maps.Keys(p.Covariates)) {
		samples, err := p.queryRange(ctx, p.Covariates[name], start, end, step)
		if err != nil {
			return nil, fmt.Errorf("query covariate %s: %w", name, err)
		}
		df.Series = append(df.Series, Series{Name: name, Samples: samples})
	}
	return df, nil
}

func (p *PrometheusAdapter) queryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Sample, error) {
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u = u.JoinPath("/api/v1/query_range")

	q := u.Query()
	q.Set("query", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("step", strconv.Itoa(int(step.Seconds())))
	u.RawQuery = q.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	var pr prometheusRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode prometheus response: %w", err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("prometheus status: %s", pr.Status)
	}

	return aggregateRangeResult(pr.Data.Result)
}

type prometheusRangeResponse struct {
	Status string              `json:"status"`
	Data   prometheusRangeData `json:"data"`
}

type prometheusRangeData struct {
	ResultType string                 `json:"resultType"`
	Result     []prometheusRangeSerie `json:"result"`
}

type prometheusRangeSerie struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

// aggregateRangeResult sums all series per timestamp and returns the
// samples sorted by time.
func aggregateRangeResult(series []prometheusRangeSerie) ([]Sample, error) {
	acc := make(map[int64]float64)
	for _, s := range series {
		for _, pair := range s.Values {
			if len(pair) != 2 {
				return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
			}

			ts, ok := pair[0].(float64)
			if !ok {
				return nil, fmt.Errorf("unexpected timestamp type %T", pair[0])
			}

			var val float64
			switch vv := pair[1].(type) {
			case string:
				f, err := strconv.ParseFloat(vv, 64)
				if err != nil {
					return nil, fmt.Errorf("parse value: %w", err)
				}
				val = f
			case float64:
				val = vv
			default:
				return nil, fmt.Errorf("unexpected value type %T", vv)
			}
			acc[int64(ts)] += val
		}
	}

	out := make([]Sample, 0, len(acc))
	for _, ts := range slices.Sorted(maps.Keys(acc)) {
		out = append(out, Sample{Time: time.Unix(ts, 0).UTC(), Value: acc[ts]})
	}
	return out, nil
}
