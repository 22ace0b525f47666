// Package scoring implements the point-forecast error metrics used to rank
// candidate models.
//
// Every metric is an error (lower is better). The engine reports scores as
// the negated error so that leaderboards sort higher-is-better.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metric names an evaluation metric.
type Metric string

const (
	MASE  Metric = "MASE"
	RMSE  Metric = "RMSE"
	MAE   Metric = "MAE"
	MAPE  Metric = "MAPE"
	SMAPE Metric = "SMAPE"
	WAPE  Metric = "WAPE"
)

// Metrics lists every supported metric in display order.
var Metrics = []Metric{MASE, RMSE, MAE, MAPE, SMAPE, WAPE}

// ErrUnknownMetric is returned by ParseMetric.
var ErrUnknownMetric = errors.New("unknown evaluation metric")

// ParseMetric resolves a metric name case-insensitively. An empty name
// resolves to MASE.
func ParseMetric(name string) (Metric, error) {
	if name == "" {
		return MASE, nil
	}
	for _, m := range Metrics {
		if strings.EqualFold(string(m), name) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

// Error computes the metric for predicted against actual. insample is the
// training history used to scale MASE and season is its seasonal lag
// (values below 1 are treated as 1).
func (m Metric) Error(actual, predicted, insample []float64, season int) (float64, error) {
	if len(actual) == 0 {
		return 0, errors.New("no values to score")
	}
	if len(predicted) != len(actual) {
		return 0, fmt.Errorf("predicted has %d values, want %d", len(predicted), len(actual))
	}

	absErr := make([]float64, len(actual))
	for i := range actual {
		absErr[i] = math.Abs(actual[i] - predicted[i])
	}

	switch m {
	case MAE:
		return stat.Mean(absErr, nil), nil

	case RMSE:
		sq := make([]float64, len(absErr))
		for i, e := range absErr {
			sq[i] = e * e
		}
		return math.Sqrt(stat.Mean(sq, nil)), nil

	case MASE:
		mae := stat.Mean(absErr, nil)
		scale := seasonalScale(insample, season)
		if scale == 0 {
			return mae, nil
		}
		return mae / scale, nil

	case MAPE:
		var sum float64
		var n int
		for i, y := range actual {
			if y == 0 {
				continue
			}
			sum += absErr[i] / math.Abs(y)
			n++
		}
		if n == 0 {
			return 0, nil
		}
		return sum / float64(n), nil

	case SMAPE:
		var sum float64
		var n int
		for i, y := range actual {
			denom := math.Abs(y) + math.Abs(predicted[i])
			if denom == 0 {
				continue
			}
			sum += 2 * absErr[i] / denom
			n++
		}
		if n == 0 {
			return 0, nil
		}
		return sum / float64(n), nil

	case WAPE:
		total := floats.Sum(absErr)
		var denom float64
		for _, y := range actual {
			denom += math.Abs(y)
		}
		if denom == 0 {
			return total, nil
		}
		return total / denom, nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, string(m))
	}
}

// seasonalScale is the mean absolute seasonal difference of the history.
func seasonalScale(insample []float64, season int) float64 {
	if season < 1 {
		season = 1
	}
	if len(insample) <= season {
		season = 1
	}
	if len(insample) < 2 {
		return 0
	}
	diffs := make([]float64, 0, len(insample)-season)
	for i := season; i < len(insample); i++ {
		diffs = append(diffs, math.Abs(insample[i]-insample[i-season]))
	}
	return stat.Mean(diffs, nil)
}
