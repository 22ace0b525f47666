package automl

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HatiCode/autoforecast/pkg/models"
	"github.com/HatiCode/autoforecast/pkg/panel"
	"github.com/HatiCode/autoforecast/pkg/scoring"
)

// MeanColumn is the point forecast column of Predict output.
const MeanColumn = "mean"

// minContextRows is the number of rows Fit needs before the holdout window.
const minContextRows = 3

// QuantileColumn returns the forecast column name for quantile level q.
func QuantileColumn(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// entry is one trained model of a predictor.
type entry struct {
	name        string
	spec        candidate
	model       models.Model
	scoreVal    float64
	sigma       float64
	fitTime     time.Duration
	predTimeVal time.Duration
	fitOrder    int

	// members and weights are set for the ensemble only.
	members []string
	weights []float64
}

// Predictor searches, ranks and serves forecasting models for one series.
type Predictor struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	fitted  bool
	frame   panel.Frame
	season  int
	entries []*entry
	byName  map[string]*entry
	best    string
}

// New returns an unfitted predictor.
func New(opts Options) (*Predictor, error) {
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Predictor{
		opts:   o,
		logger: o.Logger.With("component", "automl"),
	}, nil
}

// Options returns the resolved options.
func (p *Predictor) Options() Options {
	o := p.opts
	o.Quantiles = append([]float64(nil), p.opts.Quantiles...)
	return o
}

// PredictionLength returns the forecast horizon in steps.
func (p *Predictor) PredictionLength() int {
	return p.opts.PredictionLength
}

// Fit searches the preset's candidate models on frame. Missing values are
// filled forward, then backward. The last PredictionLength rows are held out
// for validation, every surviving model is then re-trained on the whole
// frame. Failing candidates are logged and skipped. Cancellation and the time
// limit are checked between candidates. When Fit fails the predictor keeps its
// previous state.
func (p *Predictor) Fit(ctx context.Context, frame panel.Frame) error {
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("invalid training frame: %w", err)
	}
	frame, err := frame.Filled()
	if err != nil {
		return err
	}
	full, err := features(&frame)
	if err != nil {
		return err
	}

	h := p.opts.PredictionLength
	n := frame.Len()
	if n-h < minContextRows {
		return fmt.Errorf("%w: %d rows, need at least %d for prediction length %d",
			ErrInsufficientData, n, h+minContextRows, h)
	}
	season := p.opts.SeasonLength
	if season == 0 {
		season = inferSeason(frame.Step())
	}
	if 2*season > n-h {
		season = 1
	}

	start := time.Now()
	var deadline time.Time
	if p.opts.TimeLimit > 0 {
		deadline = start.Add(p.opts.TimeLimit)
	}

	p.logger.Info("fitting predictor",
		"rows", n,
		"prediction_length", h,
		"presets", p.opts.Presets,
		"eval_metric", p.opts.EvalMetric,
		"season_length", season,
	)

	train := full.Slice(0, n-h)
	actual := full.Target[n-h:]

	var (
		entries   []*entry
		forecasts [][]float64
	)
	for _, spec := range candidates(p.opts.Presets, season) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fit cancelled: %w", err)
		}
		if !deadline.IsZero() && len(entries) > 0 && time.Now().After(deadline) {
			p.logger.Warn("time limit reached, stopping model search",
				"time_limit", p.opts.TimeLimit,
				"trained", len(entries),
			)
			break
		}

		e, values, err := p.evaluate(ctx, spec, train, actual, season)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("fit cancelled: %w", ctxErr)
			}
			p.logger.Warn("model failed", "model", spec.Kind, "error", err)
			continue
		}
		e.fitOrder = len(entries) + 1
		entries = append(entries, e)
		forecasts = append(forecasts, values)

		p.logger.Debug("model validated",
			"model", e.name,
			"score_val", e.scoreVal,
			"fit_time_ms", e.fitTime.Milliseconds(),
		)
	}
	if len(entries) == 0 {
		return ErrNoModels
	}

	if len(entries) >= 2 {
		ens, err := p.ensemble(entries, forecasts, train.Target, actual, season)
		if err != nil {
			p.logger.Warn("model failed", "model", ensembleName, "error", err)
		} else {
			ens.fitOrder = len(entries) + 1
			entries = append(entries, ens)
		}
	}

	entries, err = p.refit(ctx, entries, full)
	if err != nil {
		return err
	}
	best := bestEntry(entries).name

	if p.opts.Path != "" {
		cp := newCheckpoint(p.opts, frame, season, entries, best)
		if err := writeCheckpoint(p.opts.Path, cp, p.logger); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.frame = frame
	p.season = season
	p.entries = entries
	p.byName = make(map[string]*entry, len(entries))
	for _, e := range entries {
		p.byName[e.name] = e
	}
	p.best = best
	p.fitted = true

	p.logger.Info("predictor fitted",
		"models", len(entries),
		"best_model", p.best,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// evaluate trains spec on train and scores its forecast against actual.
func (p *Predictor) evaluate(ctx context.Context, spec candidate, train models.FeatureFrame, actual []float64, season int) (*entry, []float64, error) {
	m, err := spec.build()
	if err != nil {
		return nil, nil, err
	}
	e := &entry{name: m.Name(), spec: spec, model: m}

	t0 := time.Now()
	if err := m.Train(ctx, train); err != nil {
		return nil, nil, fmt.Errorf("%s: train: %w", e.name, err)
	}
	e.fitTime = time.Since(t0)

	t1 := time.Now()
	f, err := m.Predict(ctx, models.FeatureFrame{}, len(actual))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: predict: %w", e.name, err)
	}
	e.predTimeVal = time.Since(t1)

	e.scoreVal, e.sigma, err = p.score(actual, f.Values, train.Target, season)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: score: %w", e.name, err)
	}
	return e, f.Values, nil
}

// score returns the validation score (negated error, higher is better) and
// the RMSE used as residual sigma.
func (p *Predictor) score(actual, predicted, insample []float64, season int) (float64, float64, error) {
	loss, err := p.opts.EvalMetric.Error(actual, predicted, insample, season)
	if err != nil {
		return 0, 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, 0, fmt.Errorf("%s is not finite", p.opts.EvalMetric)
	}
	rmse, err := scoring.RMSE.Error(actual, predicted, insample, season)
	if err != nil {
		return 0, 0, err
	}
	return -loss, rmse, nil
}

// ensemble weights members by inverse validation error.
func (p *Predictor) ensemble(members []*entry, forecasts [][]float64, insample, actual []float64, season int) (*entry, error) {
	t0 := time.Now()

	names := make([]string, len(members))
	weights := make([]float64, len(members))
	var predTime time.Duration
	for i, e := range members {
		names[i] = e.name
		weights[i] = 1 / (-e.scoreVal + 1e-9)
		predTime += e.predTimeVal
	}

	combined, err := models.Combine(forecasts, weights)
	if err != nil {
		return nil, err
	}

	e := &entry{
		name:        ensembleName,
		spec:        candidate{Kind: KindEnsemble},
		members:     names,
		weights:     weights,
		predTimeVal: predTime,
	}
	e.scoreVal, e.sigma, err = p.score(actual, combined, insample, season)
	if err != nil {
		return nil, err
	}
	e.fitTime = time.Since(t0)
	return e, nil
}

// refit re-trains every base model on the full frame and rebuilds the
// ensemble from the members that survived.
func (p *Predictor) refit(ctx context.Context, entries []*entry, full models.FeatureFrame) ([]*entry, error) {
	kept := make([]*entry, 0, len(entries))
	trained := make(map[string]models.Model, len(entries))

	for _, e := range entries {
		if e.spec.Kind == KindEnsemble {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fit cancelled: %w", err)
		}
		m, err := e.spec.build()
		if err == nil {
			err = m.Train(ctx, full)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("fit cancelled: %w", ctxErr)
			}
			p.logger.Warn("model failed on full data, dropping", "model", e.name, "error", err)
			continue
		}
		e.model = m
		trained[e.name] = m
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return nil, ErrNoModels
	}

	for _, e := range entries {
		if e.spec.Kind != KindEnsemble {
			continue
		}
		if err := attachEnsemble(e, trained); err != nil {
			p.logger.Warn("model failed on full data, dropping", "model", e.name, "error", err)
			continue
		}
		kept = append(kept, e)
	}
	return kept, nil
}

// attachEnsemble builds the ensemble model of e from trained members.
// Members missing from trained are dropped with their weights.
func attachEnsemble(e *entry, trained map[string]models.Model) error {
	var (
		members []models.Model
		names   []string
		weights []float64
	)
	for i, name := range e.members {
		m, ok := trained[name]
		if !ok {
			continue
		}
		members = append(members, m)
		names = append(names, name)
		weights = append(weights, e.weights[i])
	}
	ens, err := models.NewEnsembleModel(members, weights)
	if err != nil {
		return err
	}
	e.model = ens
	e.members = names
	e.weights = weights
	return nil
}

// bestEntry returns the highest validation score, the earliest fitted on ties.
func bestEntry(entries []*entry) *entry {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.scoreVal > best.scoreVal {
			best = e
		}
	}
	return best
}

// Predict forecasts PredictionLength steps after frame, or after the
// training frame when frame is nil, using the best model. The result has a
// mean column followed by one column per quantile level.
func (p *Predictor) Predict(ctx context.Context, frame *panel.Frame) (panel.Frame, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.fitted {
		return panel.Frame{}, ErrNotFitted
	}
	return p.predict(ctx, p.byName[p.best], frame)
}

// PredictModel is Predict with the named model instead of the best one.
func (p *Predictor) PredictModel(ctx context.Context, name string, frame *panel.Frame) (panel.Frame, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, err := p.lookup(name)
	if err != nil {
		return panel.Frame{}, err
	}
	return p.predict(ctx, e, frame)
}

func (p *Predictor) predict(ctx context.Context, e *entry, frame *panel.Frame) (panel.Frame, error) {
	base := &p.frame
	if frame != nil {
		if err := frame.Validate(); err != nil {
			return panel.Frame{}, fmt.Errorf("invalid prediction frame: %w", err)
		}
		base = frame
	}
	ff, err := features(base)
	if err != nil {
		return panel.Frame{}, err
	}
	if ff.Len() == 0 {
		return panel.Frame{}, fmt.Errorf("%w: empty prediction context", ErrInsufficientData)
	}

	h := p.opts.PredictionLength
	f, err := e.model.Predict(ctx, ff, h)
	if err != nil {
		return panel.Frame{}, fmt.Errorf("%s: %w", e.name, err)
	}

	cols := make([]panel.Column, 0, 1+len(p.opts.Quantiles))
	cols = append(cols, panel.Column{Name: MeanColumn, Values: f.Values})
	for _, q := range p.opts.Quantiles {
		z := distuv.UnitNormal.Quantile(q)
		values := make([]float64, h)
		for i, v := range f.Values {
			values[i] = v + z*e.sigma*math.Sqrt(float64(i+1))
		}
		cols = append(cols, panel.Column{Name: QuantileColumn(q), Values: values})
	}

	return panel.NewFrame(base.FutureTimestamps(h), cols...), nil
}

// Model returns the named trained model.
func (p *Predictor) Model(name string) (models.Model, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.model, nil
}

func (p *Predictor) lookup(name string) (*entry, error) {
	if !p.fitted {
		return nil, ErrNotFitted
	}
	e, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	return e, nil
}

// ModelNames returns the trained model names in fit order.
func (p *Predictor) ModelNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.name
	}
	return names
}

// BestModel returns the name of the model with the highest validation score.
func (p *Predictor) BestModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.best
}

// EnsembleWeights returns the ensemble member weights, or nil when no
// ensemble was built.
func (p *Predictor) EnsembleWeights() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.byName[ensembleName]
	if !ok {
		return nil
	}
	if ens, ok := e.model.(*models.EnsembleModel); ok {
		return ens.Weights()
	}
	return nil
}

// SeasonLength returns the seasonal period used during Fit.
func (p *Predictor) SeasonLength() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.season
}

// TrainingFrame returns a copy of the frame passed to Fit, with missing
// values filled.
func (p *Predictor) TrainingFrame() panel.Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frame.Clone()
}

// Fitted reports whether Fit has completed.
func (p *Predictor) Fitted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fitted
}

func features(frame *panel.Frame) (models.FeatureFrame, error) {
	filled, err := frame.Filled()
	if err != nil {
		return models.FeatureFrame{}, err
	}
	target, err := filled.Target()
	if err != nil {
		return models.FeatureFrame{}, err
	}
	ff := models.FeatureFrame{Target: target}
	for _, c := range filled.Covariates() {
		ff.Covariates = append(ff.Covariates, models.Covariate{Name: c.Name, Values: c.Values})
	}
	return ff, nil
}
