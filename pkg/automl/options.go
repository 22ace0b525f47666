// Package automl implements the automated forecasting engine: it searches a
// preset of candidate models on a holdout window, ranks them on a
// leaderboard, adds a weighted ensemble and produces mean and quantile
// forecasts from the best model.
//
// A Predictor is safe for concurrent reads after Fit returns. Fit itself
// must not run concurrently with other calls on the same Predictor.
package automl

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HatiCode/autoforecast/pkg/scoring"
)

// Preset selects the candidate models searched by Fit.
type Preset string

const (
	FastTraining  Preset = "fast_training"
	MediumQuality Preset = "medium_quality"
	HighQuality   Preset = "high_quality"
	BestQuality   Preset = "best_quality"
)

// Presets lists the accepted presets from cheapest to most thorough.
var Presets = []Preset{FastTraining, MediumQuality, HighQuality, BestQuality}

// DefaultQuantiles are the quantile levels forecast alongside the mean.
var DefaultQuantiles = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

var (
	// ErrModelNotFound is returned when a named model is not part of the predictor.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientData is returned when the training frame is too short for the horizon.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNotFitted is returned by predictor operations that need Fit first.
	ErrNotFitted = errors.New("predictor is not fitted")

	// ErrNoModels is returned when every candidate model failed to train.
	ErrNoModels = errors.New("no model could be trained")

	// ErrUnknownPreset is returned for unrecognized preset names.
	ErrUnknownPreset = errors.New("unknown preset")
)

// ParsePreset resolves a preset name. The empty string selects MediumQuality.
func ParsePreset(name string) (Preset, error) {
	if name == "" {
		return MediumQuality, nil
	}
	p := Preset(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Presets {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// Options configures a Predictor.
type Options struct {
	// PredictionLength is the forecast horizon in steps. Required.
	PredictionLength int

	// EvalMetric scores candidates on the holdout window. Defaults to MASE.
	EvalMetric scoring.Metric

	// Presets selects the candidate models. Defaults to MediumQuality.
	Presets Preset

	// TimeLimit bounds the candidate search. Zero means no limit.
	TimeLimit time.Duration

	// Path is the checkpoint directory written after Fit. Empty disables it.
	Path string

	// Quantiles are the quantile levels forecast by Predict.
	Quantiles []float64

	// SeasonLength is the seasonal period in steps. Zero infers it from the
	// frame's step.
	SeasonLength int

	// Metadata is stored in the checkpoint unchanged.
	Metadata map[string]string

	Logger *slog.Logger
}

// withDefaults validates o and fills in defaults.
func (o Options) withDefaults() (Options, error) {
	if o.PredictionLength < 1 {
		return o, fmt.Errorf("prediction length must be at least 1, got %d", o.PredictionLength)
	}

	metric, err := scoring.ParseMetric(string(o.EvalMetric))
	if err != nil {
		return o, err
	}
	o.EvalMetric = metric

	preset, err := ParsePreset(string(o.Presets))
	if err != nil {
		return o, err
	}
	o.Presets = preset

	if o.TimeLimit < 0 {
		return o, fmt.Errorf("time limit must not be negative, got %s", o.TimeLimit)
	}
	if o.SeasonLength < 0 {
		return o, fmt.Errorf("season length must not be negative, got %d", o.SeasonLength)
	}

	if o.Quantiles == nil {
		o.Quantiles = DefaultQuantiles
	}
	for _, q := range o.Quantiles {
		if q <= 0 || q >= 1 {
			return o, fmt.Errorf("quantile %v outside (0, 1)", q)
		}
	}
	o.Quantiles = append([]float64(nil), o.Quantiles...)

	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

// inferSeason maps a sampling step to a seasonal period.
func inferSeason(step time.Duration) int {
	const day = 24 * time.Hour
	switch {
	case step == time.Hour:
		return 24
	case step == day:
		return 7
	case step >= 28*day && step <= 31*day:
		return 12
	default:
		return 1
	}
}
