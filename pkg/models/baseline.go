package models

import (
	"context"
	"fmt"
)

// BaselineModel implements a simple forecasting model using exponential moving averages
// and optional seasonal-phase patterns.
//
// Algorithm:
//  1. Compute EMA5 and EMA30 over the recent window
//  2. Base forecast = 0.7*EMA5 + 0.3*EMA30, raised to the last value if that is higher
//  3. Optional seasonality: if a phase (index modulo season) has at least two
//     training observations, blend: yhat = 0.8*Base + 0.2*Mean_phase
type BaselineModel struct {
	memory

	// season is the seasonal period in steps; values below 2 disable seasonality.
	season int

	// seasonality stores phase means, keyed by phase index.
	seasonality map[int]float64
}

// NewBaselineModel creates a new baseline forecasting model.
func NewBaselineModel(season int) *BaselineModel {
	return &BaselineModel{
		season:      season,
		seasonality: make(map[int]float64),
	}
}

// Name returns the model identifier.
func (m *BaselineModel) Name() string {
	return "Baseline"
}

// Train extracts seasonal phase means from historical data.
// Training is optional for the baseline: Predict works on any non-empty window.
func (m *BaselineModel) Train(ctx context.Context, history FeatureFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.remember(history)
	if len(history.Target) == 0 || m.season < 2 {
		return nil
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, v := range history.Target {
		phase := i % m.season
		sums[phase] += v
		counts[phase]++
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seasonality = make(map[int]float64)
	for phase := range m.season {
		if count := counts[phase]; count >= 2 {
			m.seasonality[phase] = sums[phase] / float64(count)
		}
	}

	return nil
}

// Predict generates a forecast using EMA-based prediction with optional seasonality.
func (m *BaselineModel) Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error) {
	if err := ctx.Err(); err != nil {
		return Forecast{}, err
	}
	if err := checkHorizon(horizon); err != nil {
		return Forecast{}, err
	}

	window, err := m.window(recent)
	if err != nil {
		return Forecast{}, err
	}
	values := window.Target
	if len(values) == 0 {
		return Forecast{}, fmt.Errorf("no target values in features")
	}

	ema5 := computeEMA(values, 5)
	ema30 := computeEMA(values, 30)

	baseForecast := 0.7*ema5 + 0.3*ema30

	lastValue := values[len(values)-1]
	if len(values) >= 2 && lastValue > baseForecast {
		baseForecast = lastValue
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	forecastValues := make([]float64, horizon)
	for i := range horizon {
		value := baseForecast

		if m.season >= 2 && len(m.seasonality) > 0 {
			phase := (len(values) + i) % m.season
			if seasonalMean, ok := m.seasonality[phase]; ok {
				value = 0.8*baseForecast + 0.2*seasonalMean
			}
		}

		forecastValues[i] = value
	}

	return Forecast{
		Model:  m.Name(),
		Values: forecastValues,
	}, nil
}

// computeEMA calculates the exponential moving average over the most recent n points.
// If there are fewer than n points, uses all available points.
// Returns 0 if values is empty.
//
// EMA formula: EMA_t = α * value_t + (1-α) * EMA_{t-1}
// where α = 2 / (n + 1)
func computeEMA(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}

	start := 0
	if len(values) > n {
		start = len(values) - n
	}
	window := values[start:]

	alpha := 2.0 / float64(len(window)+1)
	ema := window[0]

	for i := 1; i < len(window); i++ {
		ema = alpha*window[i] + (1-alpha)*ema
	}

	return ema
}
