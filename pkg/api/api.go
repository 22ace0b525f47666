// Package api defines the JSON payloads of the forecaster HTTP API and their
// conversion to and from host time series.
package api

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/HatiCode/autoforecast/pkg/tasks"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

// Default column names used when a Series leaves them empty.
const (
	DefaultTimeName   = "timestamp"
	DefaultTargetName = "value"
)

// StaleHeader is set to "true" on snapshot replies older than the stale threshold.
const StaleHeader = "X-Autoforecast-Stale"

var ErrEmptySeries = errors.New("series has no values")

// Series is a single time series. Times are epoch seconds.
type Series struct {
	TimeName   string               `json:"timeName,omitempty"`
	Times      []float64            `json:"times"`
	TargetName string               `json:"targetName,omitempty"`
	Target     []float64            `json:"target"`
	Covariates map[string][]float64 `json:"covariates,omitempty"`
}

// TimeSeries converts s into a host series. Covariates are ordered by name.
func (s Series) TimeSeries() (*timeseries.TimeSeries, error) {
	if len(s.Times) == 0 {
		return nil, ErrEmptySeries
	}
	timeName := cmp.Or(s.TimeName, DefaultTimeName)
	targetName := cmp.Or(s.TargetName, DefaultTargetName)

	names := make([]string, 0, len(s.Covariates))
	for name := range s.Covariates {
		names = append(names, name)
	}
	slices.Sort(names)

	cols := make([]timeseries.Column, len(names))
	for i, name := range names {
		cols[i] = timeseries.Column{Name: name, Values: s.Covariates[name]}
	}
	return timeseries.NewTimeSeries(timeName, s.Times, targetName, s.Target, cols...)
}

// Settings overrides forecast settings. Zero fields keep the defaults.
type Settings struct {
	PredictionLength int     `json:"predictionLength,omitempty"`
	EvalMetric       string  `json:"evalMetric,omitempty"`
	Preset           string  `json:"preset,omitempty"`
	TimeLimitSeconds float64 `json:"timeLimitSeconds,omitempty"`
}

// Apply returns base with the non-zero fields of s applied.
func (s *Settings) Apply(base tasks.ForecastSettings) tasks.ForecastSettings {
	if s == nil {
		return base
	}
	if s.PredictionLength != 0 {
		base.PredictionLength = s.PredictionLength
	}
	if s.EvalMetric != "" {
		base.EvalMetric = s.EvalMetric
	}
	if s.Preset != "" {
		base.Preset = s.Preset
	}
	if s.TimeLimitSeconds != 0 {
		base.TimeLimit = time.Duration(s.TimeLimitSeconds * float64(time.Second))
	}
	return base
}

// ForecastRequest is the body of POST /v1/forecast. When Workload is set the
// forecast is also stored as that workload's latest snapshot.
type ForecastRequest struct {
	Workload string    `json:"workload,omitempty"`
	Metric   string    `json:"metric,omitempty"`
	Series   Series    `json:"series"`
	Settings *Settings `json:"settings,omitempty"`
}

// Forecast is a forecast or fitted-values series. Quantiles is keyed by
// quantile column name, e.g. "0.1".
type Forecast struct {
	Timestamps []float64            `json:"timestamps"`
	Mean       []float64            `json:"mean"`
	Quantiles  map[string][]float64 `json:"quantiles,omitempty"`
}

// ForecastFromSeries reads the mean and quantile columns of an engine result.
func ForecastFromSeries(s *timeseries.TimeSeries, meanColumn string) (Forecast, error) {
	if s == nil {
		return Forecast{}, ErrEmptySeries
	}
	times, err := s.TimeValues()
	if err != nil {
		return Forecast{}, err
	}
	out := Forecast{Timestamps: times}
	for _, v := range s.Domain.Attributes {
		values, err := s.Column(v.Name)
		if err != nil {
			return Forecast{}, fmt.Errorf("column %s: %w", v.Name, err)
		}
		if v.Name == meanColumn {
			out.Mean = values
			continue
		}
		if out.Quantiles == nil {
			out.Quantiles = make(map[string][]float64)
		}
		out.Quantiles[v.Name] = values
	}
	if out.Mean == nil {
		return Forecast{}, fmt.Errorf("forecast has no %q column", meanColumn)
	}
	return out, nil
}

// ForecastResponse is the reply of POST /v1/forecast.
type ForecastResponse struct {
	PredictorID  string   `json:"predictorId"`
	BestModel    string   `json:"bestModel"`
	Forecast     Forecast `json:"forecast"`
	FittedValues Forecast `json:"fittedValues"`
	Warnings     []string `json:"warnings,omitempty"`
	Cached       bool     `json:"cached"`
}

// LeaderboardRequest is the optional body of POST /v1/predictors/{id}/leaderboard.
type LeaderboardRequest struct {
	Test *Series `json:"test,omitempty"`
}

type LeaderboardRow struct {
	Model         string  `json:"model"`
	Score         float64 `json:"score"`
	FitTime       float64 `json:"fitTime"`
	InferenceTime float64 `json:"inferenceTime"`
}

// MarshalJSON writes a NaN score, a model that failed on the test series, as null.
func (r LeaderboardRow) MarshalJSON() ([]byte, error) {
	type plain LeaderboardRow
	out := struct {
		plain
		Score *float64 `json:"score"`
	}{plain: plain(r)}
	if !math.IsNaN(r.Score) {
		out.Score = &r.Score
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a null or missing score as NaN.
func (r *LeaderboardRow) UnmarshalJSON(data []byte) error {
	type plain LeaderboardRow
	in := struct {
		*plain
		Score *float64 `json:"score"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Score = math.NaN()
	if in.Score != nil {
		r.Score = *in.Score
	}
	return nil
}

type LeaderboardResponse struct {
	PredictorID string           `json:"predictorId"`
	Rows        []LeaderboardRow `json:"rows"`
}

// LeaderboardRows converts task rows into payload rows.
func LeaderboardRows(rows []tasks.LeaderboardRow) []LeaderboardRow {
	out := make([]LeaderboardRow, len(rows))
	for i, r := range rows {
		out[i] = LeaderboardRow(r)
	}
	return out
}

// ImportanceRequest is the body of POST /v1/predictors/{id}/importance.
// A nil Series uses the training data.
type ImportanceRequest struct {
	Series        *Series `json:"series,omitempty"`
	Method        string  `json:"method,omitempty"`
	NumIterations int     `json:"numIterations,omitempty"`
	SubsampleSize int     `json:"subsampleSize,omitempty"`
	Model         string  `json:"model,omitempty"`
	Seed          uint64  `json:"seed,omitempty"`
}

// Settings returns the importance settings with defaults for zero fields.
func (r ImportanceRequest) Settings() tasks.ImportanceSettings {
	s := tasks.DefaultImportanceSettings()
	if r.Method != "" {
		s.Method = r.Method
	}
	if r.NumIterations != 0 {
		s.NumIterations = r.NumIterations
	}
	if r.SubsampleSize != 0 {
		s.SubsampleSize = r.SubsampleSize
	}
	s.Model = r.Model
	s.Seed = r.Seed
	return s
}

type ImportanceRow struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	StdDev     float64 `json:"stdDev"`
}

type ImportanceResponse struct {
	PredictorID string          `json:"predictorId"`
	Rows        []ImportanceRow `json:"rows"`
}

// ImportanceRows converts task rows into payload rows.
func ImportanceRows(rows []tasks.ImportanceRow) []ImportanceRow {
	out := make([]ImportanceRow, len(rows))
	for i, r := range rows {
		out[i] = ImportanceRow(r)
	}
	return out
}

// SnapshotResponse is the reply of GET /forecast/current.
type SnapshotResponse struct {
	Workload     string               `json:"workload"`
	Metric       string               `json:"metric"`
	BestModel    string               `json:"bestModel"`
	GeneratedAt  time.Time            `json:"generatedAt"`
	StepSeconds  int                  `json:"stepSeconds"`
	HorizonSteps int                  `json:"horizonSteps"`
	Timestamps   []float64            `json:"timestamps"`
	Values       []float64            `json:"values"`
	Quantiles    map[string][]float64 `json:"quantiles,omitempty"`
}
