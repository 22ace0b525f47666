package models

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minARIMAPoints is the smallest history Train accepts regardless of order.
const minARIMAPoints = 10

// ARIMAModel is an ARIMA(p,d,q) model estimated with the two-stage
// Hannan-Rissanen procedure:
//  1. difference the series d times
//  2. fit a long autoregression and keep its residuals as innovation estimates
//  3. regress the differenced series on p own lags and q lagged innovations
//
// Both regressions are ridge-regularized least squares so constant and
// near-constant series train without error.
type ARIMAModel struct {
	p, d, q int

	mu        sync.RWMutex
	trained   bool
	intercept float64
	arCoeffs  []float64
	maCoeffs  []float64
	sigma     float64
	history   []float64
}

// NewARIMAModel creates an ARIMA(p,d,q) model. p=d=q=0 selects ARIMA(1,1,1).
// It panics on negative orders or d > 2.
func NewARIMAModel(p, d, q int) *ARIMAModel {
	if p < 0 || q < 0 {
		panic(fmt.Sprintf("arima: orders must be non-negative, got p=%d q=%d", p, q))
	}
	if d < 0 || d > 2 {
		panic(fmt.Sprintf("arima: d must be in [0,2], got %d", d))
	}
	if p == 0 && d == 0 && q == 0 {
		p, d, q = 1, 1, 1
	}
	return &ARIMAModel{p: p, d: d, q: q}
}

// Name returns the model identifier, e.g. "ARIMA(1,1,1)".
func (m *ARIMAModel) Name() string {
	return fmt.Sprintf("ARIMA(%d,%d,%d)", m.p, m.d, m.q)
}

// Order returns p, d and q.
func (m *ARIMAModel) Order() (int, int, int) {
	return m.p, m.d, m.q
}

// Sigma returns the standard deviation of the in-sample innovations.
func (m *ARIMAModel) Sigma() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sigma
}

// Train estimates the model coefficients from history.
func (m *ARIMAModel) Train(ctx context.Context, history FeatureFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	y := history.Target
	need := max(minARIMAPoints, m.p+m.q+m.d+2)
	if len(y) < need {
		return fmt.Errorf("arima: insufficient data: need at least %d points, got %d", need, len(y))
	}

	w := difference(y, m.d)

	resid := make([]float64, len(w))
	longOrder := 0
	if m.q > 0 {
		longOrder = max(max(m.p, m.q)+1, min(len(w)/4, 10))
		coef, err := fitAutoregression(w, longOrder)
		if err != nil {
			return fmt.Errorf("arima: long autoregression: %w", err)
		}
		for t := longOrder; t < len(w); t++ {
			pred := coef[0]
			for i := 1; i <= longOrder; i++ {
				pred += coef[i] * w[t-i]
			}
			resid[t] = w[t] - pred
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	start := max(m.p, longOrder+m.q)
	cols := 1 + m.p + m.q
	rows := len(w) - start
	if rows < cols+1 {
		return fmt.Errorf("arima: insufficient data: need at least %d points, got %d", len(y)+cols+1-rows, len(y))
	}

	a := mat.NewDense(rows, cols, nil)
	b := mat.NewVecDense(rows, nil)
	for r := range rows {
		t := start + r
		a.Set(r, 0, 1)
		for i := range m.p {
			a.Set(r, 1+i, w[t-1-i])
		}
		for j := range m.q {
			a.Set(r, 1+m.p+j, resid[t-1-j])
		}
		b.SetVec(r, w[t])
	}

	coef, err := leastSquares(a, b)
	if err != nil {
		return fmt.Errorf("arima: %w", err)
	}

	fitted := mat.NewVecDense(rows, nil)
	fitted.MulVec(a, mat.NewVecDense(cols, coef))
	innovations := make([]float64, rows)
	for r := range rows {
		innovations[r] = b.AtVec(r) - fitted.AtVec(r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.intercept = coef[0]
	m.arCoeffs = append([]float64(nil), coef[1:1+m.p]...)
	m.maCoeffs = append([]float64(nil), coef[1+m.p:]...)
	m.sigma = stat.StdDev(innovations, nil)
	m.history = append([]float64(nil), y...)
	m.trained = true

	return nil
}

// Predict forecasts horizon steps after recent, or after the training
// history when recent is empty.
func (m *ARIMAModel) Predict(ctx context.Context, recent FeatureFrame, horizon int) (Forecast, error) {
	if err := ctx.Err(); err != nil {
		return Forecast{}, err
	}
	if err := checkHorizon(horizon); err != nil {
		return Forecast{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return Forecast{}, fmt.Errorf("arima: %w", ErrNotTrained)
	}

	y := recent.Target
	if len(y) == 0 {
		y = m.history
	}
	if len(y) < m.d+1 {
		return Forecast{}, fmt.Errorf("arima: need at least %d points of context, got %d", m.d+1, len(y))
	}

	w := difference(y, m.d)

	// Reconstruct innovations over the context with the fitted coefficients.
	e := make([]float64, len(w))
	for t := max(m.p, m.q); t < len(w); t++ {
		e[t] = w[t] - m.step(w[:t], e[:t])
	}

	ext := append([]float64(nil), w...)
	eext := append([]float64(nil), e...)
	for range horizon {
		next := m.step(ext, eext)
		ext = append(ext, next)
		eext = append(eext, 0)
	}

	values := integrate(y, ext[len(w):], m.d)
	if !allFinite(values) {
		return Forecast{}, fmt.Errorf("arima: unstable forecast")
	}

	return Forecast{Model: m.Name(), Values: values}, nil
}

// step is the one-step prediction following w with innovations e.
func (m *ARIMAModel) step(w, e []float64) float64 {
	pred := m.intercept
	for i, c := range m.arCoeffs {
		if idx := len(w) - 1 - i; idx >= 0 {
			pred += c * w[idx]
		}
	}
	for j, c := range m.maCoeffs {
		if idx := len(e) - 1 - j; idx >= 0 {
			pred += c * e[idx]
		}
	}
	return pred
}

// fitAutoregression returns [intercept, phi_1..phi_order].
func fitAutoregression(w []float64, order int) ([]float64, error) {
	rows := len(w) - order
	if rows < order+2 {
		return nil, fmt.Errorf("need at least %d points, got %d", 2*order+2, len(w))
	}
	a := mat.NewDense(rows, order+1, nil)
	b := mat.NewVecDense(rows, nil)
	for r := range rows {
		t := order + r
		a.Set(r, 0, 1)
		for i := 1; i <= order; i++ {
			a.Set(r, i, w[t-i])
		}
		b.SetVec(r, w[t])
	}
	return leastSquares(a, b)
}
