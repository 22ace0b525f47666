package models

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LinearRegressionModel is a recursive tabular model. Each step regresses the
// target on an intercept, its own last lags values and the previous value of
// every covariate. Covariates are held at their last observed value over the
// forecast horizon.
type LinearRegressionModel struct {
	lags int

	mu         sync.RWMutex
	trained    bool
	coef       []float64
	covariates []string
	sigma      float64
	history    FeatureFrame
}

// NewLinearRegressionModel creates a model with the given number of target lags.
// Lags below 1 are raised to 1.
func NewLinearRegressionModel(lags int) *LinearRegressionModel {
	return &LinearRegressionModel{lags: max(lags, 1)}
}

func (m *LinearRegressionModel) Name() string {
	if m.lags == 1 {
		return "LinearRegression"
	}
	return fmt.Sprintf("LinearRegression(lags=%d)", m.lags)
}

// Lags returns the number of target lags.
func (m *LinearRegressionModel) Lags() int { return m.lags }

// Covariates returns the covariate names seen during training.
func (m *LinearRegressionModel) Covariates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.covariates...)
}

func (m *LinearRegressionModel) Train(ctx context.Context, history FeatureFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	y := history.Target
	k := len(history.Covariates)
	cols := 1 + m.lags + k
	rows := len(y) - m.lags
	if rows < cols+1 {
		return fmt.Errorf("linear regression: insufficient data: need at least %d points, got %d", m.lags+cols+1, len(y))
	}

	a := mat.NewDense(rows, cols, nil)
	b := mat.NewVecDense(rows, nil)
	for r := range rows {
		t := m.lags + r
		m.fillRow(a.RawRowView(r), y[:t], history.Covariates, t)
		b.SetVec(r, y[t])
	}

	coef, err := leastSquares(a, b)
	if err != nil {
		return fmt.Errorf("linear regression: %w", err)
	}

	fitted := mat.NewVecDense(rows, nil)
	fitted.MulVec(a, mat.NewVecDense(cols, coef))
	resid := make([]float64, rows)
	for r := range rows {
		resid[r] = b.AtVec(r) - fitted.AtVec(r)
	}

	names := make([]string, k)
	for i, c := range history.Covariates {
		names[i] = c.Name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.coef = coef
	m.covariates = names
	m.sigma = stat.StdDev(resid, nil)
	m.history = history.Slice(0, history.Len())
	m.trained = true
	return nil
}

// fillRow writes the design row for predicting index t given past target
// values and covariates observed up to t-1.
func (m *LinearRegressionModel) fillRow(row []float64, past []float64, cov []Covariate, t int) {
	row[0] = 1
	for i := range m.lags {
		row[1+i] = past[len(past)-1-i]
	}
	for j, c := range cov {
		idx := min(t-1, len(c.Values)-1)
		row[1+m.lags+j] = c.Values[idx]
	}
}

func (m *LinearRegressionModel) Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error) {
	if err := ctx.Err(); err != nil {
		return Forecast{}, err
	}
	if err := checkHorizon(horizon); err != nil {
		return Forecast{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return Forecast{}, fmt.Errorf("linear regression: %w", ErrNotTrained)
	}

	window := recent
	if window.Len() == 0 {
		window = m.history
	}
	if window.Len() < m.lags {
		return Forecast{}, fmt.Errorf("linear regression: need at least %d points of context, got %d", m.lags, window.Len())
	}

	cov := make([]Covariate, len(m.covariates))
	for i, name := range m.covariates {
		c, ok := window.Covariate(name)
		if !ok {
			return Forecast{}, fmt.Errorf("linear regression: missing covariate %q", name)
		}
		if len(c.Values) == 0 {
			return Forecast{}, fmt.Errorf("linear regression: covariate %q is empty", name)
		}
		cov[i] = c
	}

	ext := append([]float64(nil), window.Target...)
	row := make([]float64, len(m.coef))
	out := make([]float64, horizon)
	for h := range horizon {
		m.fillRow(row, ext, cov, len(ext))
		var pred float64
		for i, c := range m.coef {
			pred += c * row[i]
		}
		out[h] = pred
		ext = append(ext, pred)
	}

	if !allFinite(out) {
		return Forecast{}, fmt.Errorf("linear regression: unstable forecast")
	}
	return Forecast{Model: m.Name(), Values: out}, nil
}
