// Package forecast exposes the forecasting engine in terms of host time
// series. A Wrapper is either unfitted or holds exactly one trained
// predictor together with the series it was trained on.
//
// A Wrapper is not safe for concurrent use.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HatiCode/autoforecast/pkg/automl"
	"github.com/HatiCode/autoforecast/pkg/models"
	"github.com/HatiCode/autoforecast/pkg/panel"
	"github.com/HatiCode/autoforecast/pkg/scoring"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

const tracerName = "github.com/HatiCode/autoforecast/pkg/forecast"

// Checkpoint metadata keys naming the host variables of the training series.
const (
	MetaTimeVariable   = "time_variable"
	MetaTargetVariable = "target_variable"
)

// ErrNotFitted is returned by operations that need a successful Fit first.
var ErrNotFitted = errors.New("model is not fitted, call Fit first")

// EngineError reports a failure inside the forecasting engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("forecast engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Options are passed through to every predictor the wrapper builds.
type Options struct {
	EvalMetric   scoring.Metric
	Presets      automl.Preset
	TimeLimit    time.Duration
	Path         string
	Quantiles    []float64
	SeasonLength int
	Logger       *slog.Logger
}

type fitted struct {
	predictor *automl.Predictor
	train     *timeseries.TimeSeries
}

// Wrapper owns at most one trained predictor.
type Wrapper struct {
	predictionLength int
	opts             Options
	state            *fitted
}

// New returns an unfitted wrapper forecasting predictionLength steps.
func New(predictionLength int, opts Options) *Wrapper {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Wrapper{predictionLength: predictionLength, opts: opts}
}

// PredictionLength returns the forecast horizon in steps.
func (w *Wrapper) PredictionLength() int {
	return w.predictionLength
}

// Fitted reports whether the wrapper holds a trained predictor.
func (w *Wrapper) Fitted() bool {
	return w.state != nil
}

// Predictor returns the trained predictor, or nil when unfitted.
func (w *Wrapper) Predictor() *automl.Predictor {
	if w.state == nil {
		return nil
	}
	return w.state.predictor
}

// TrainingSeries returns the series passed to the last successful Fit.
func (w *Wrapper) TrainingSeries() *timeseries.TimeSeries {
	if w.state == nil {
		return nil
	}
	return w.state.train
}

// Fit trains a new predictor on series. Any previous predictor is discarded
// first, so the wrapper is unfitted when Fit fails. Conversion errors are
// returned as is; engine failures are wrapped in *EngineError.
func (w *Wrapper) Fit(ctx context.Context, series *timeseries.TimeSeries) error {
	ctx, span := startSpan(ctx, "forecast.Fit", attribute.Int("prediction_length", w.predictionLength))
	defer span.End()

	w.state = nil

	frame, err := panel.ToPanel(series)
	if err != nil {
		return recordError(span, err)
	}
	span.SetAttributes(attribute.Int("rows", frame.Len()))

	p, err := automl.New(automl.Options{
		PredictionLength: w.predictionLength,
		EvalMetric:       w.opts.EvalMetric,
		Presets:          w.opts.Presets,
		TimeLimit:        w.opts.TimeLimit,
		Path:             w.opts.Path,
		Quantiles:        w.opts.Quantiles,
		SeasonLength:     w.opts.SeasonLength,
		Metadata: map[string]string{
			MetaTimeVariable:   series.TimeVariable.Name,
			MetaTargetVariable: series.Domain.ClassVar.Name,
		},
		Logger: w.opts.Logger,
	})
	if err != nil {
		return recordError(span, &EngineError{Op: "fit", Err: err})
	}
	if err := p.Fit(ctx, frame); err != nil {
		return recordError(span, &EngineError{Op: "fit", Err: err})
	}

	w.state = &fitted{predictor: p, train: series}
	span.SetAttributes(attribute.String("best_model", p.BestModel()))
	return nil
}

// Predict forecasts the steps following series, or following the training
// series when series is nil.
func (w *Wrapper) Predict(ctx context.Context, series *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	ctx, span := startSpan(ctx, "forecast.Predict")
	defer span.End()

	out, err := w.predict(ctx, series)
	if err != nil {
		return nil, recordError(span, err)
	}
	return out, nil
}

// FittedValues re-runs Predict on series. It does not compute in-sample
// fitted values.
func (w *Wrapper) FittedValues(ctx context.Context, series *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	ctx, span := startSpan(ctx, "forecast.FittedValues")
	defer span.End()

	out, err := w.predict(ctx, series)
	if err != nil {
		return nil, recordError(span, err)
	}
	return out, nil
}

func (w *Wrapper) predict(ctx context.Context, series *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	if w.state == nil {
		return nil, ErrNotFitted
	}
	if series == nil {
		series = w.state.train
	}

	frame, err := panel.ToPanel(series)
	if err != nil {
		return nil, err
	}
	out, err := w.state.predictor.Predict(ctx, &frame)
	if err != nil {
		return nil, &EngineError{Op: "predict", Err: err}
	}
	return panel.FromPanel(out, series)
}

// Model returns the named model of the trained predictor. An unknown name
// yields an *EngineError wrapping automl.ErrModelNotFound.
func (w *Wrapper) Model(name string) (models.Model, error) {
	if w.state == nil {
		return nil, ErrNotFitted
	}
	m, err := w.state.predictor.Model(name)
	if err != nil {
		return nil, &EngineError{Op: "model", Err: err}
	}
	return m, nil
}

// Leaderboard ranks the trained models, scoring them on test when given.
func (w *Wrapper) Leaderboard(ctx context.Context, test *timeseries.TimeSeries) ([]automl.LeaderboardEntry, error) {
	ctx, span := startSpan(ctx, "forecast.Leaderboard")
	defer span.End()

	if w.state == nil {
		return nil, recordError(span, ErrNotFitted)
	}

	var frame *panel.Frame
	if test != nil {
		f, err := panel.ToPanel(test)
		if err != nil {
			return nil, recordError(span, err)
		}
		frame = &f
	}

	board, err := w.state.predictor.Leaderboard(ctx, frame)
	if err != nil {
		return nil, recordError(span, &EngineError{Op: "leaderboard", Err: err})
	}
	return board, nil
}

// FeatureImportance measures covariate importance on data, or on the
// training series when data is nil.
func (w *Wrapper) FeatureImportance(ctx context.Context, data *timeseries.TimeSeries, opts automl.ImportanceOptions) ([]automl.Importance, error) {
	ctx, span := startSpan(ctx, "forecast.FeatureImportance", attribute.String("method", string(opts.Method)))
	defer span.End()

	if w.state == nil {
		return nil, recordError(span, ErrNotFitted)
	}
	if data == nil {
		data = w.state.train
	}

	frame, err := panel.ToPanel(data)
	if err != nil {
		return nil, recordError(span, err)
	}

	imps, err := w.state.predictor.FeatureImportance(ctx, &frame, opts)
	if err != nil {
		return nil, recordError(span, &EngineError{Op: "feature importance", Err: err})
	}
	return imps, nil
}

// Restore loads a checkpoint directory written by a previous Fit into a
// fitted wrapper.
func Restore(path string, logger *slog.Logger) (*Wrapper, error) {
	p, err := automl.Load(path, logger)
	if err != nil {
		return nil, &EngineError{Op: "restore", Err: err}
	}

	o := p.Options()
	timeName := o.Metadata[MetaTimeVariable]
	if timeName == "" {
		timeName = panel.TimestampColumn
	}
	targetName := o.Metadata[MetaTargetVariable]
	if targetName == "" {
		targetName = panel.TargetColumn
	}

	series, err := panel.ToTimeSeries(p.TrainingFrame(), timeName, targetName)
	if err != nil {
		return nil, fmt.Errorf("restore training series: %w", err)
	}

	w := New(o.PredictionLength, Options{
		EvalMetric:   o.EvalMetric,
		Presets:      o.Presets,
		TimeLimit:    o.TimeLimit,
		Path:         o.Path,
		Quantiles:    o.Quantiles,
		SeasonLength: o.SeasonLength,
		Logger:       logger,
	})
	w.state = &fitted{predictor: p, train: series}
	return w, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
