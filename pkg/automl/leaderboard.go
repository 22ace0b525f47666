package automl

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/HatiCode/autoforecast/pkg/models"
	"github.com/HatiCode/autoforecast/pkg/panel"
)

// LeaderboardEntry summarizes one trained model. Scores are negated errors
// of the evaluation metric, so higher is better.
type LeaderboardEntry struct {
	Model string

	// ScoreTest is NaN when no test frame was given or the model could not
	// forecast it.
	ScoreTest    float64
	ScoreVal     float64
	PredTimeTest time.Duration
	PredTimeVal  time.Duration
	FitTime      time.Duration
	FitOrder     int
}

// Leaderboard ranks the trained models by validation score, or by test score
// when test is given. The last PredictionLength rows of test are scored
// against a forecast made from the rows before them. Models that fail on test
// are logged and ranked last.
func (p *Predictor) Leaderboard(ctx context.Context, test *panel.Frame) ([]LeaderboardEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.fitted {
		return nil, ErrNotFitted
	}

	var (
		history models.FeatureFrame
		actual  []float64
	)
	if test != nil {
		if err := test.Validate(); err != nil {
			return nil, fmt.Errorf("invalid test frame: %w", err)
		}
		ff, err := features(test)
		if err != nil {
			return nil, err
		}
		h := p.opts.PredictionLength
		if ff.Len() <= h {
			return nil, fmt.Errorf("%w: test frame has %d rows, need more than %d", ErrInsufficientData, ff.Len(), h)
		}
		history = ff.Slice(0, ff.Len()-h)
		actual = ff.Target[ff.Len()-h:]
	}

	board := make([]LeaderboardEntry, 0, len(p.entries))
	for _, e := range p.entries {
		row := LeaderboardEntry{
			Model:       e.name,
			ScoreTest:   math.NaN(),
			ScoreVal:    e.scoreVal,
			PredTimeVal: e.predTimeVal,
			FitTime:     e.fitTime,
			FitOrder:    e.fitOrder,
		}
		if test != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t0 := time.Now()
			f, err := e.model.Predict(ctx, history, len(actual))
			row.PredTimeTest = time.Since(t0)
			if err == nil {
				row.ScoreTest, _, err = p.score(actual, f.Values, history.Target, p.season)
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				p.logger.Warn("model failed on test frame", "model", e.name, "error", err)
				row.ScoreTest = math.NaN()
			}
		}
		board = append(board, row)
	}

	slices.SortStableFunc(board, func(a, b LeaderboardEntry) int {
		if test != nil {
			return cmp.Compare(b.ScoreTest, a.ScoreTest)
		}
		return cmp.Compare(b.ScoreVal, a.ScoreVal)
	})
	return board, nil
}
