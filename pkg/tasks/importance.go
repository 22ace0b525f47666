package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/HatiCode/autoforecast/pkg/automl"
	"github.com/HatiCode/autoforecast/pkg/forecast"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

// Importance table columns.
const (
	ColumnFeature    = "Feature"
	ColumnImportance = "Importance"
	ColumnStdDev     = "StdDev"
)

// Importance setting bounds and defaults.
const (
	DefaultIterations = 5
	MinIterations     = 1
	MaxIterations     = 50

	DefaultSubsample = 50
	MinSubsample     = 10
	MaxSubsample     = 1000
)

// ErrComputationFailed wraps feature importance failures.
var ErrComputationFailed = errors.New("feature importance computation failed")

// ImportanceSettings configures RunImportance.
type ImportanceSettings struct {
	Method        string `yaml:"method"`
	NumIterations int    `yaml:"num_iterations"`
	SubsampleSize int    `yaml:"subsample_size"`

	// Model defaults to the predictor's best model.
	Model string `yaml:"model"`
	Seed  uint64 `yaml:"seed"`
}

// DefaultImportanceSettings returns the settings used when none are given.
func DefaultImportanceSettings() ImportanceSettings {
	return ImportanceSettings{
		Method:        string(automl.Permutation),
		NumIterations: DefaultIterations,
		SubsampleSize: DefaultSubsample,
	}
}

// Validate checks every setting against its accepted range.
func (s ImportanceSettings) Validate() error {
	switch automl.ImportanceMethod(s.Method) {
	case automl.Permutation, automl.Naive:
	default:
		return fmt.Errorf("%w: method %q", ErrInvalidSettings, s.Method)
	}
	if s.NumIterations < MinIterations || s.NumIterations > MaxIterations {
		return fmt.Errorf("%w: iterations %d outside [%d, %d]", ErrInvalidSettings, s.NumIterations, MinIterations, MaxIterations)
	}
	if s.SubsampleSize < MinSubsample || s.SubsampleSize > MaxSubsample {
		return fmt.Errorf("%w: subsample size %d outside [%d, %d]", ErrInvalidSettings, s.SubsampleSize, MinSubsample, MaxSubsample)
	}
	return nil
}

// ImportanceRow is the importance of one feature.
type ImportanceRow struct {
	Feature    string
	Importance float64
	StdDev     float64
}

// ImportanceResult holds the feature importance outputs.
type ImportanceResult struct {
	Rows  []ImportanceRow
	Table *timeseries.Table
	Err   error
}

// RunImportance computes feature importance of predictor on data. A nil
// predictor or nil data yields an empty result.
func RunImportance(ctx context.Context, predictor *forecast.Wrapper, data *timeseries.TimeSeries, settings ImportanceSettings) ImportanceResult {
	if predictor == nil || data == nil {
		return ImportanceResult{}
	}
	if !predictor.Fitted() {
		return ImportanceResult{Err: ErrInvalidPredictor}
	}
	if err := settings.Validate(); err != nil {
		return ImportanceResult{Err: err}
	}

	imps, err := predictor.FeatureImportance(ctx, data, automl.ImportanceOptions{
		Method:        automl.ImportanceMethod(settings.Method),
		Model:         settings.Model,
		NumIterations: settings.NumIterations,
		SubsampleSize: settings.SubsampleSize,
		Seed:          settings.Seed,
	})
	if err != nil {
		return ImportanceResult{Err: fmt.Errorf("%w: %w", ErrComputationFailed, err)}
	}

	rows := make([]ImportanceRow, len(imps))
	for i, imp := range imps {
		rows[i] = ImportanceRow{Feature: imp.Feature, Importance: imp.Importance, StdDev: imp.StdDev}
	}
	return ImportanceResult{Rows: rows, Table: importanceTable(rows)}
}

func importanceTable(rows []ImportanceRow) *timeseries.Table {
	x := make([][]float64, len(rows))
	labels := make([]string, len(rows))
	for i, r := range rows {
		x[i] = []float64{r.Importance, r.StdDev}
		labels[i] = r.Feature
	}
	return newTable([]string{ColumnImportance, ColumnStdDev}, ColumnFeature, x, labels)
}

// SelectFeatures returns the table restricted to the named features, in
// table order. It returns nil when nothing matches.
func (r *ImportanceResult) SelectFeatures(names []string) *timeseries.Table {
	var picked []ImportanceRow
	for _, row := range r.Rows {
		if slices.Contains(names, row.Feature) {
			picked = append(picked, row)
		}
	}
	if len(picked) == 0 {
		return nil
	}
	return importanceTable(picked)
}
