// Package tasks runs the forecast, leaderboard and feature importance
// workflows end to end. Every Run function returns a result value holding
// either complete outputs or an error, never both and never a panic.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/autoforecast/pkg/automl"
	"github.com/HatiCode/autoforecast/pkg/forecast"
	"github.com/HatiCode/autoforecast/pkg/scoring"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

// Forecast setting bounds and defaults.
const (
	DefaultPredictionLength = 24
	MinPredictionLength     = 1
	MaxPredictionLength     = 1000

	DefaultTimeLimit = 600 * time.Second
	MinTimeLimit     = 10 * time.Second
	MaxTimeLimit     = 3600 * time.Second

	DefaultPath = "autoforecast-model"

	// minRows is the series length below which RunForecast warns.
	minRows = 10
)

var (
	ErrNoTimeVariable  = errors.New("data contains no time variable")
	ErrNoTarget        = errors.New("input time series does not contain a target variable")
	ErrFittingFailed   = errors.New("failed to fit the model")
	ErrInvalidSettings = errors.New("invalid settings")
)

// ForecastSettings configures RunForecast.
type ForecastSettings struct {
	PredictionLength int           `yaml:"prediction_length"`
	EvalMetric       string        `yaml:"eval_metric"`
	Preset           string        `yaml:"preset"`
	TimeLimit        time.Duration `yaml:"time_limit"`
	Path             string        `yaml:"path"`
}

// DefaultForecastSettings returns the settings used when none are given.
func DefaultForecastSettings() ForecastSettings {
	return ForecastSettings{
		PredictionLength: DefaultPredictionLength,
		EvalMetric:       string(scoring.MASE),
		Preset:           string(automl.MediumQuality),
		TimeLimit:        DefaultTimeLimit,
		Path:             DefaultPath,
	}
}

// Validate checks every setting against its accepted range.
func (s ForecastSettings) Validate() error {
	if s.PredictionLength < MinPredictionLength || s.PredictionLength > MaxPredictionLength {
		return fmt.Errorf("%w: forecast horizon %d outside [%d, %d]",
			ErrInvalidSettings, s.PredictionLength, MinPredictionLength, MaxPredictionLength)
	}
	if _, err := scoring.ParseMetric(s.EvalMetric); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if _, err := automl.ParsePreset(s.Preset); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if s.TimeLimit < MinTimeLimit || s.TimeLimit > MaxTimeLimit {
		return fmt.Errorf("%w: time limit %s outside [%s, %s]",
			ErrInvalidSettings, s.TimeLimit, MinTimeLimit, MaxTimeLimit)
	}
	return nil
}

// ForecastResult holds the outputs of RunForecast. On failure Err is set and
// every output is nil. Warnings are reported either way.
type ForecastResult struct {
	Forecast     *timeseries.TimeSeries
	FittedValues *timeseries.TimeSeries
	Predictor    *forecast.Wrapper
	Warnings     []string
	Err          error
}

// RunForecast fits a predictor on data and forecasts the steps that follow
// it. A nil data yields an empty result.
func RunForecast(ctx context.Context, data *timeseries.TimeSeries, settings ForecastSettings, logger *slog.Logger) ForecastResult {
	if logger == nil {
		logger = slog.Default()
	}
	if data == nil {
		return ForecastResult{}
	}

	if data.TimeVariable == nil {
		return ForecastResult{Err: ErrNoTimeVariable}
	}
	if data.Domain.ClassVar == nil {
		return ForecastResult{Err: ErrNoTarget}
	}

	var res ForecastResult
	if n := data.Len(); n < minRows {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Data has only %d instances", n))
		logger.Warn("short time series", "rows", n)
	}

	if err := settings.Validate(); err != nil {
		res.Err = err
		return res
	}

	start := time.Now()
	wrapper := forecast.New(settings.PredictionLength, forecast.Options{
		EvalMetric: scoring.Metric(settings.EvalMetric),
		Presets:    automl.Preset(settings.Preset),
		TimeLimit:  settings.TimeLimit,
		Path:       settings.Path,
		Logger:     logger,
	})

	if err := wrapper.Fit(ctx, data); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrFittingFailed, err)
		logger.Error("forecast failed", "stage", "fit", "error", err)
		return res
	}

	fc, err := wrapper.Predict(ctx, data)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrFittingFailed, err)
		logger.Error("forecast failed", "stage", "predict", "error", err)
		return res
	}
	fitted, err := wrapper.FittedValues(ctx, data)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrFittingFailed, err)
		logger.Error("forecast failed", "stage", "fitted_values", "error", err)
		return res
	}

	res.Forecast = fc
	res.FittedValues = fitted
	res.Predictor = wrapper

	logger.Info("forecast completed",
		"rows", data.Len(),
		"prediction_length", settings.PredictionLength,
		"best_model", wrapper.Predictor().BestModel(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}
