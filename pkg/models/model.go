// Package models provides the forecasting models the engine searches over.
//
// Every model implements Model. Train fits the model on a history; Predict
// produces horizon values following a context window. An empty context
// means "continue from the training history".
package models

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotTrained is returned by Predict on models that need Train first.
var ErrNotTrained = errors.New("model not trained")

// Covariate is a named exogenous column aligned with the target.
type Covariate struct {
	Name   string
	Values []float64
}

// FeatureFrame is the model-facing view of a single series.
type FeatureFrame struct {
	Target     []float64
	Covariates []Covariate
}

// Len returns the number of observations.
func (f FeatureFrame) Len() int {
	return len(f.Target)
}

// Covariate returns the named covariate.
func (f FeatureFrame) Covariate(name string) (Covariate, bool) {
	for _, c := range f.Covariates {
		if c.Name == name {
			return c, true
		}
	}
	return Covariate{}, false
}

// Slice returns observations [from, to) as an independent frame.
func (f FeatureFrame) Slice(from, to int) FeatureFrame {
	out := FeatureFrame{Target: slices.Clone(f.Target[from:to])}
	for _, c := range f.Covariates {
		out.Covariates = append(out.Covariates, Covariate{Name: c.Name, Values: slices.Clone(c.Values[from:to])})
	}
	return out
}

// Forecast is a point forecast produced by a model.
type Forecast struct {
	Model  string
	Values []float64
}

// Model is the interface implemented by every forecasting model.
type Model interface {
	// Name returns the identifier shown on leaderboards.
	Name() string

	// Train fits the model on history. It respects context cancellation.
	Train(ctx context.Context, history FeatureFrame) error

	// Predict forecasts horizon steps after recent. When recent is empty the
	// training history is used.
	Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error)
}

// memory keeps the training history for models that continue from it.
type memory struct {
	mu      sync.RWMutex
	history FeatureFrame
	trained bool
}

func (m *memory) remember(history FeatureFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = history.Slice(0, history.Len())
	m.trained = true
}

// window resolves the context a prediction continues from.
func (m *memory) window(recent FeatureFrame) (FeatureFrame, error) {
	if recent.Len() > 0 {
		return recent, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.trained || m.history.Len() == 0 {
		return FeatureFrame{}, errors.New("features cannot be empty")
	}
	return m.history, nil
}

func checkHorizon(horizon int) error {
	if horizon < 1 {
		return errors.New("horizon must be at least 1")
	}
	return nil
}
