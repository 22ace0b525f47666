package forecast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/HatiCode/autoforecast/pkg/automl"
	"github.com/HatiCode/autoforecast/pkg/panel"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// linearSeries returns n rows at 1-second spacing with target 0..n-1.
func linearSeries(t *testing.T, n int) *timeseries.TimeSeries {
	t.Helper()
	times := make([]float64, n)
	target := make([]float64, n)
	for i := range n {
		times[i] = float64(i)
		target[i] = float64(i)
	}
	s, err := timeseries.NewTimeSeries("t", times, "y", target)
	if err != nil {
		t.Fatalf("NewTimeSeries() error = %v", err)
	}
	return s
}

func TestWrapper_FitPredict_Horizon(t *testing.T) {
	w := New(5, Options{Logger: testLogger()})
	series := linearSeries(t, 20)

	if err := w.Fit(context.Background(), series); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if !w.Fitted() {
		t.Fatal("Fitted() = false after Fit")
	}

	out, err := w.Predict(context.Background(), nil)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if out.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", out.Len())
	}

	times, err := out.TimeValues()
	if err != nil {
		t.Fatalf("TimeValues() error = %v", err)
	}
	if want := []float64{20, 21, 22, 23, 24}; !slices.Equal(times, want) {
		t.Errorf("times = %v, want %v", times, want)
	}
	if out.TimeVariable.Name != "t" {
		t.Errorf("time variable = %q, want t", out.TimeVariable.Name)
	}
	if out.Domain.Attributes[0].Name != automl.MeanColumn {
		t.Errorf("first attribute = %q, want %q", out.Domain.Attributes[0].Name, automl.MeanColumn)
	}
	if got, want := len(out.Domain.Attributes), 1+len(automl.DefaultQuantiles); got != want {
		t.Errorf("attributes = %d, want %d", got, want)
	}
}

func TestWrapper_Predict_NilEqualsTrainingSeries(t *testing.T) {
	w := New(3, Options{Logger: testLogger()})
	series := linearSeries(t, 30)
	if err := w.Fit(context.Background(), series); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	a, err := w.Predict(context.Background(), nil)
	if err != nil {
		t.Fatalf("Predict(nil) error = %v", err)
	}
	b, err := w.Predict(context.Background(), series)
	if err != nil {
		t.Fatalf("Predict(series) error = %v", err)
	}
	ma, _ := a.Column(automl.MeanColumn)
	mb, _ := b.Column(automl.MeanColumn)
	if !slices.Equal(ma, mb) {
		t.Errorf("Predict(nil) = %v, Predict(series) = %v", ma, mb)
	}

	fv, err := w.FittedValues(context.Background(), nil)
	if err != nil {
		t.Fatalf("FittedValues() error = %v", err)
	}
	mf, _ := fv.Column(automl.MeanColumn)
	if !slices.Equal(ma, mf) {
		t.Errorf("FittedValues() = %v, want %v", mf, ma)
	}
}

func TestWrapper_NotFitted(t *testing.T) {
	w := New(5, Options{Logger: testLogger()})

	if _, err := w.Predict(context.Background(), nil); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Predict() error = %v, want %v", err, ErrNotFitted)
	}
	if _, err := w.FittedValues(context.Background(), linearSeries(t, 10)); !errors.Is(err, ErrNotFitted) {
		t.Errorf("FittedValues() error = %v, want %v", err, ErrNotFitted)
	}
	if m, err := w.Model("Naive"); m != nil || !errors.Is(err, ErrNotFitted) {
		t.Errorf("Model() = %v, %v, want nil, %v", m, err, ErrNotFitted)
	}
	if _, err := w.Leaderboard(context.Background(), nil); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Leaderboard() error = %v, want %v", err, ErrNotFitted)
	}
	if _, err := w.FeatureImportance(context.Background(), nil, automl.ImportanceOptions{}); !errors.Is(err, ErrNotFitted) {
		t.Errorf("FeatureImportance() error = %v, want %v", err, ErrNotFitted)
	}
	if w.Predictor() != nil {
		t.Error("Predictor() != nil before Fit")
	}
}

func TestWrapper_Model_NotFound(t *testing.T) {
	w := New(2, Options{Logger: testLogger()})
	if err := w.Fit(context.Background(), linearSeries(t, 20)); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	_, err := w.Model("nonexistent")
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("Model() error = %v, want *EngineError", err)
	}
	if !errors.Is(err, automl.ErrModelNotFound) {
		t.Errorf("Model() error = %v, want %v", err, automl.ErrModelNotFound)
	}

	best := w.Predictor().BestModel()
	m, err := w.Model(best)
	if err != nil || m.Name() != best {
		t.Errorf("Model(%q) = %v, %v", best, m, err)
	}
}

func TestWrapper_Fit_AdapterErrors(t *testing.T) {
	w := New(2, Options{Logger: testLogger()})

	noTarget := linearSeries(t, 20)
	noTarget.Domain.ClassVar = nil
	if err := w.Fit(context.Background(), noTarget); !errors.Is(err, panel.ErrMissingTargetAttribute) {
		t.Errorf("Fit() error = %v, want %v", err, panel.ErrMissingTargetAttribute)
	}

	noTime := linearSeries(t, 20)
	noTime.TimeVariable = nil
	if err := w.Fit(context.Background(), noTime); !errors.Is(err, panel.ErrMissingTimeAttribute) {
		t.Errorf("Fit() error = %v, want %v", err, panel.ErrMissingTimeAttribute)
	}
	if w.Fitted() {
		t.Error("Fitted() = true after failed Fit")
	}
}

func TestWrapper_Fit_EngineFailureDiscardsPredictor(t *testing.T) {
	w := New(5, Options{Logger: testLogger()})
	if err := w.Fit(context.Background(), linearSeries(t, 20)); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	err := w.Fit(context.Background(), linearSeries(t, 6))
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Op != "fit" {
		t.Fatalf("Fit() error = %v, want *EngineError for fit", err)
	}
	if !errors.Is(err, automl.ErrInsufficientData) {
		t.Errorf("Fit() error = %v, want %v", err, automl.ErrInsufficientData)
	}
	if w.Fitted() {
		t.Error("Fitted() = true after failed re-fit")
	}
}

func TestWrapper_LeaderboardAndImportance(t *testing.T) {
	w := New(2, Options{Logger: testLogger(), Presets: automl.FastTraining})
	series := linearSeries(t, 20)
	if err := w.Fit(context.Background(), series); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	board, err := w.Leaderboard(context.Background(), series)
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if len(board) != len(w.Predictor().ModelNames()) {
		t.Errorf("len(board) = %d, want %d", len(board), len(w.Predictor().ModelNames()))
	}

	imps, err := w.FeatureImportance(context.Background(), nil, automl.ImportanceOptions{})
	if err != nil {
		t.Fatalf("FeatureImportance() error = %v", err)
	}
	if len(imps) != 0 {
		t.Errorf("FeatureImportance() = %v, want none without covariates", imps)
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	w := New(4, Options{Logger: testLogger(), Path: dir})
	if err := w.Fit(context.Background(), linearSeries(t, 24)); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	want, err := w.Predict(context.Background(), nil)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	restored, err := Restore(dir, testLogger())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.PredictionLength() != 4 {
		t.Errorf("PredictionLength() = %d, want 4", restored.PredictionLength())
	}
	if restored.TrainingSeries().TimeVariable.Name != "t" || restored.TrainingSeries().Domain.ClassVar.Name != "y" {
		t.Errorf("restored series variables = %q, %q", restored.TrainingSeries().TimeVariable.Name, restored.TrainingSeries().Domain.ClassVar.Name)
	}

	got, err := restored.Predict(context.Background(), nil)
	if err != nil {
		t.Fatalf("restored Predict() error = %v", err)
	}
	wm, _ := want.Column(automl.MeanColumn)
	gm, _ := got.Column(automl.MeanColumn)
	if !slices.Equal(wm, gm) {
		t.Errorf("restored mean = %v, want %v", gm, wm)
	}

	var engErr *EngineError
	if _, err := Restore(t.TempDir(), testLogger()); !errors.As(err, &engErr) {
		t.Errorf("Restore(empty) error = %v, want *EngineError", err)
	}
}

func TestWrapper_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	w := New(2, Options{Logger: testLogger()})
	if err := w.Fit(context.Background(), linearSeries(t, 20)); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if _, err := w.Predict(context.Background(), nil); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	for _, want := range []string{"forecast.Fit", "forecast.Predict"} {
		if !slices.Contains(names, want) {
			t.Errorf("spans = %v, missing %s", names, want)
		}
	}
}
