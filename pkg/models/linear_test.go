package models

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestLinearRegressionModel_Name(t *testing.T) {
	if got := NewLinearRegressionModel(1).Name(); got != "LinearRegression" {
		t.Errorf("Name() = %q, want %q", got, "LinearRegression")
	}
	if got := NewLinearRegressionModel(3).Name(); got != "LinearRegression(lags=3)" {
		t.Errorf("Name() = %q, want %q", got, "LinearRegression(lags=3)")
	}
	if got := NewLinearRegressionModel(0).Lags(); got != 1 {
		t.Errorf("Lags() = %d, want 1", got)
	}
}

func TestLinearRegressionModel_LinearTrend(t *testing.T) {
	model := NewLinearRegressionModel(2)
	history := syntheticLinear(60, 3.0, 10.0, 0)

	if err := model.Train(context.Background(), history); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	forecast, err := model.Predict(context.Background(), FeatureFrame{}, 5)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	for h, v := range forecast.Values {
		want := 3.0*float64(60+h) + 10.0
		if math.Abs(v-want) > 0.5 {
			t.Errorf("Values[%d] = %f, want ~%f", h, v, want)
		}
	}
}

func TestLinearRegressionModel_Covariates(t *testing.T) {
	n := 80
	target := make([]float64, n)
	x := make([]float64, n)
	for i := range n {
		x[i] = math.Sin(float64(i) * 0.7)
		target[i] = 50
		if i > 0 {
			target[i] += 10 * x[i-1]
		}
	}
	history := FeatureFrame{Target: target, Covariates: []Covariate{{Name: "x", Values: x}}}

	model := NewLinearRegressionModel(1)
	if err := model.Train(context.Background(), history); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if got := model.Covariates(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("Covariates() = %v, want [x]", got)
	}

	forecast, err := model.Predict(context.Background(), FeatureFrame{}, 1)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	want := 50 + 10*x[n-1]
	if math.Abs(forecast.Values[0]-want) > 0.5 {
		t.Errorf("Values[0] = %f, want ~%f", forecast.Values[0], want)
	}

	_, err = model.Predict(context.Background(), FeatureFrame{Target: target}, 1)
	if err == nil || !contains(err.Error(), "missing covariate") {
		t.Errorf("Predict() without covariate error = %v, want missing covariate", err)
	}
}

func TestLinearRegressionModel_Errors(t *testing.T) {
	model := NewLinearRegressionModel(3)

	if _, err := model.Predict(context.Background(), FeatureFrame{}, 1); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Predict() untrained error = %v, want %v", err, ErrNotTrained)
	}

	err := model.Train(context.Background(), syntheticConstant(5, 1))
	if err == nil || !contains(err.Error(), "insufficient data") {
		t.Errorf("Train() error = %v, want insufficient data", err)
	}
}
