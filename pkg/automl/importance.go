package automl

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/autoforecast/pkg/models"
	"github.com/HatiCode/autoforecast/pkg/panel"
)

// ImportanceMethod selects how a covariate is perturbed.
type ImportanceMethod string

const (
	// Permutation shuffles the covariate's values.
	Permutation ImportanceMethod = "permutation"
	// Naive replaces the covariate with its mean. It runs a single iteration.
	Naive ImportanceMethod = "naive"
)

// ErrUnknownMethod is returned for unrecognized importance methods.
var ErrUnknownMethod = errors.New("unknown importance method")

// ImportanceOptions configures FeatureImportance.
type ImportanceOptions struct {
	Method ImportanceMethod

	// Model defaults to the best model.
	Model string

	// NumIterations defaults to 5.
	NumIterations int

	// SubsampleSize is the number of most recent context rows kept. Defaults to 50.
	SubsampleSize int

	Seed uint64
}

// Importance is the score drop caused by perturbing one covariate. Positive
// values mean the model relies on the covariate.
type Importance struct {
	Feature       string
	Importance    float64
	StdDev        float64
	NumIterations int
}

// FeatureImportance measures how much the score on frame (or the training
// frame when nil) drops when each covariate is perturbed. The last
// PredictionLength rows are scored against a forecast from the rows before
// them. A frame without covariates yields an empty result.
func (p *Predictor) FeatureImportance(ctx context.Context, frame *panel.Frame, opts ImportanceOptions) ([]Importance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.fitted {
		return nil, ErrNotFitted
	}

	switch opts.Method {
	case "":
		opts.Method = Permutation
	case Permutation, Naive:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, opts.Method)
	}
	if opts.NumIterations < 0 || opts.SubsampleSize < 0 {
		return nil, fmt.Errorf("iterations and subsample size must not be negative")
	}
	if opts.NumIterations == 0 {
		opts.NumIterations = 5
	}
	if opts.SubsampleSize == 0 {
		opts.SubsampleSize = 50
	}
	if opts.Method == Naive {
		opts.NumIterations = 1
	}

	name := opts.Model
	if name == "" {
		name = p.best
	}
	e, err := p.lookup(name)
	if err != nil {
		return nil, err
	}

	data := &p.frame
	if frame != nil {
		if err := frame.Validate(); err != nil {
			return nil, fmt.Errorf("invalid importance frame: %w", err)
		}
		data = frame
	}
	ff, err := features(data)
	if err != nil {
		return nil, err
	}

	h := p.opts.PredictionLength
	n := ff.Len()
	if n <= h {
		return nil, fmt.Errorf("%w: %d rows, need more than %d", ErrInsufficientData, n, h)
	}
	history := ff.Slice(max(0, n-h-opts.SubsampleSize), n-h)
	actual := ff.Target[n-h:]

	start := time.Now()
	base, err := p.evalScore(ctx, e, history, actual)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	out := make([]Importance, 0, len(history.Covariates))
	for j, c := range history.Covariates {
		drops := make([]float64, opts.NumIterations)
		for it := range opts.NumIterations {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			perturbed := history.Slice(0, history.Len())
			values := perturbed.Covariates[j].Values
			switch opts.Method {
			case Permutation:
				rng.Shuffle(len(values), func(a, b int) { values[a], values[b] = values[b], values[a] })
			case Naive:
				mean := stat.Mean(values, nil)
				for i := range values {
					values[i] = mean
				}
			}
			score, err := p.evalScore(ctx, e, perturbed, actual)
			if err != nil {
				return nil, fmt.Errorf("feature %s: %w", c.Name, err)
			}
			drops[it] = base - score
		}

		imp := Importance{Feature: c.Name, NumIterations: opts.NumIterations}
		if len(drops) > 1 {
			imp.Importance, imp.StdDev = stat.MeanStdDev(drops, nil)
		} else {
			imp.Importance = drops[0]
		}
		out = append(out, imp)
	}

	slices.SortStableFunc(out, func(a, b Importance) int {
		return cmp.Compare(b.Importance, a.Importance)
	})

	p.logger.Debug("feature importance computed",
		"model", e.name,
		"method", opts.Method,
		"features", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (p *Predictor) evalScore(ctx context.Context, e *entry, history models.FeatureFrame, actual []float64) (float64, error) {
	f, err := e.model.Predict(ctx, history, len(actual))
	if err != nil {
		return 0, fmt.Errorf("evaluate %s: %w", e.name, err)
	}
	score, _, err := p.score(actual, f.Values, history.Target, p.season)
	return score, err
}
