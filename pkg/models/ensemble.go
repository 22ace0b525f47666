package models

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// EnsembleModel forecasts the weighted mean of its members.
type EnsembleModel struct {
	members []Model
	weights []float64
}

// NewEnsembleModel combines members with the given non-negative weights,
// normalized to sum to one. Members are used as they are; Train re-trains
// all of them.
func NewEnsembleModel(members []Model, weights []float64) (*EnsembleModel, error) {
	if len(members) == 0 {
		return nil, errors.New("ensemble: no members")
	}
	if len(weights) != len(members) {
		return nil, fmt.Errorf("ensemble: %d weights for %d members", len(weights), len(members))
	}
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("ensemble: negative weight %v", w)
		}
	}
	total := floats.Sum(weights)
	if total <= 0 {
		return nil, errors.New("ensemble: weights sum to zero")
	}

	norm := append([]float64(nil), weights...)
	floats.Scale(1/total, norm)

	return &EnsembleModel{members: members, weights: norm}, nil
}

func (m *EnsembleModel) Name() string { return "WeightedEnsemble" }

// Weights returns each member name with its normalized weight.
func (m *EnsembleModel) Weights() map[string]float64 {
	out := make(map[string]float64, len(m.members))
	for i, member := range m.members {
		out[member.Name()] = m.weights[i]
	}
	return out
}

func (m *EnsembleModel) Train(ctx context.Context, history FeatureFrame) error {
	for _, member := range m.members {
		if err := member.Train(ctx, history); err != nil {
			return fmt.Errorf("ensemble member %s: %w", member.Name(), err)
		}
	}
	return nil
}

func (m *EnsembleModel) Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error) {
	if err := checkHorizon(horizon); err != nil {
		return Forecast{}, err
	}
	out := make([]float64, horizon)
	for i, member := range m.members {
		f, err := member.Predict(ctx, recent, horizon)
		if err != nil {
			return Forecast{}, fmt.Errorf("ensemble member %s: %w", member.Name(), err)
		}
		floats.AddScaled(out, m.weights[i], f.Values)
	}
	return Forecast{Model: m.Name(), Values: out}, nil
}

// Combine returns the weighted mean of forecasts with the given weights,
// normalized to sum to one. All forecasts must have the same length.
func Combine(forecasts [][]float64, weights []float64) ([]float64, error) {
	if len(forecasts) == 0 || len(forecasts) != len(weights) {
		return nil, fmt.Errorf("ensemble: %d forecasts for %d weights", len(forecasts), len(weights))
	}
	total := floats.Sum(weights)
	if total <= 0 {
		return nil, errors.New("ensemble: weights sum to zero")
	}
	out := make([]float64, len(forecasts[0]))
	for i, f := range forecasts {
		if len(f) != len(out) {
			return nil, fmt.Errorf("ensemble: forecast %d has %d values, want %d", i, len(f), len(out))
		}
		floats.AddScaled(out, weights[i]/total, f)
	}
	return out, nil
}
