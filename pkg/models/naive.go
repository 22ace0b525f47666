package models

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// NaiveModel repeats the last observed value.
type NaiveModel struct{ memory }

func NewNaiveModel() *NaiveModel { return &NaiveModel{} }

func (m *NaiveModel) Name() string { return "Naive" }

func (m *NaiveModel) Train(ctx context.Context, history FeatureFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if history.Len() == 0 {
		return fmt.Errorf("naive: empty history")
	}
	m.remember(history)
	return nil
}

func (m *NaiveModel) Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error) {
	y, err := prepare(ctx, &m.memory, recent, horizon)
	if err != nil {
		return Forecast{}, err
	}
	return constant(m.Name(), y[len(y)-1], horizon), nil
}

// SeasonalNaiveModel repeats the last observed season. With fewer than one
// full season of data it behaves like NaiveModel.
type SeasonalNaiveModel struct {
	memory
	season int
}

func NewSeasonalNaiveModel(season int) *SeasonalNaiveModel {
	if season < 1 {
		season = 1
	}
	return &SeasonalNaiveModel{season: season}
}

func (m *SeasonalNaiveModel) Name() string { return "SeasonalNaive" }

func (m *SeasonalNaiveModel) Train(ctx context.Context, history FeatureFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if history.Len() == 0 {
		return fmt.Errorf("seasonal naive: empty history")
	}
	m.remember(history)
	return nil
}

func (m *SeasonalNaiveModel) Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error) {
	y, err := prepare(ctx, &m.memory, recent, horizon)
	if err != nil {
		return Forecast{}, err
	}
	n := len(y)
	if n < m.season {
		return constant(m.Name(), y[n-1], horizon), nil
	}
	out := make([]float64, horizon)
	for h := range horizon {
		out[h] = y[n-m.season+h%m.season]
	}
	return Forecast{Model: m.Name(), Values: out}, nil
}

// AverageModel forecasts the mean of the window.
type AverageModel struct{ memory }

func NewAverageModel() *AverageModel { return &AverageModel{} }

func (m *AverageModel) Name() string { return "Average" }

func (m *AverageModel) Train(ctx context.Context, history FeatureFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if history.Len() == 0 {
		return fmt.Errorf("average: empty history")
	}
	m.remember(history)
	return nil
}

func (m *AverageModel) Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error) {
	y, err := prepare(ctx, &m.memory, recent, horizon)
	if err != nil {
		return Forecast{}, err
	}
	return constant(m.Name(), stat.Mean(y, nil), horizon), nil
}

// DriftModel extrapolates the line between the first and last observations.
type DriftModel struct{ memory }

func NewDriftModel() *DriftModel { return &DriftModel{} }

func (m *DriftModel) Name() string { return "Drift" }

func (m *DriftModel) Train(ctx context.Context, history FeatureFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if history.Len() < 2 {
		return fmt.Errorf("drift: need at least 2 points, got %d", history.Len())
	}
	m.remember(history)
	return nil
}

func (m *DriftModel) Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error) {
	y, err := prepare(ctx, &m.memory, recent, horizon)
	if err != nil {
		return Forecast{}, err
	}
	n := len(y)
	var slope float64
	if n > 1 {
		slope = (y[n-1] - y[0]) / float64(n-1)
	}
	out := make([]float64, horizon)
	for h := range horizon {
		out[h] = y[n-1] + float64(h+1)*slope
	}
	return Forecast{Model: m.Name(), Values: out}, nil
}

func prepare(ctx context.Context, mem *memory, recent FeatureFrame, horizon int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkHorizon(horizon); err != nil {
		return nil, err
	}
	window, err := mem.window(recent)
	if err != nil {
		return nil, err
	}
	return window.Target, nil
}

func constant(name string, v float64, horizon int) Forecast {
	out := make([]float64, horizon)
	for i := range out {
		out[i] = v
	}
	return Forecast{Model: name, Values: out}
}
