package tasks

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/HatiCode/autoforecast/pkg/forecast"
	"github.com/HatiCode/autoforecast/pkg/models"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

// Leaderboard table columns.
const (
	ColumnModel         = "Model"
	ColumnScore         = "Score"
	ColumnFitTime       = "Fit Time"
	ColumnInferenceTime = "Inference Time"
)

var (
	ErrInvalidPredictor = errors.New("input is not a valid predictor")
	ErrEvaluationFailed = errors.New("evaluation failed")
	ErrUnknownColumn    = errors.New("unknown column")
)

// SortOrder is the direction of LeaderboardResult.Sort.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// LeaderboardRow is one ranked model. Times are in seconds. Score is NaN
// for a model that could not forecast the test series.
type LeaderboardRow struct {
	Model         string
	Score         float64
	FitTime       float64
	InferenceTime float64
}

// LeaderboardResult holds the leaderboard outputs.
type LeaderboardResult struct {
	Rows  []LeaderboardRow
	Table *timeseries.Table

	// Selected is the model name passed to the last successful Select.
	Selected string

	Err error

	predictor *forecast.Wrapper
}

// RunLeaderboard ranks the models of predictor. Scores come from test when
// it is given, from the validation window otherwise. A nil predictor yields
// an empty result.
func RunLeaderboard(ctx context.Context, predictor *forecast.Wrapper, test *timeseries.TimeSeries) LeaderboardResult {
	if predictor == nil {
		return LeaderboardResult{}
	}
	if !predictor.Fitted() {
		return LeaderboardResult{Err: ErrInvalidPredictor}
	}

	board, err := predictor.Leaderboard(ctx, test)
	if err != nil {
		return LeaderboardResult{Err: fmt.Errorf("%w: %w", ErrEvaluationFailed, err)}
	}

	rows := make([]LeaderboardRow, len(board))
	for i, e := range board {
		score := e.ScoreVal
		if test != nil {
			score = e.ScoreTest
		}
		rows[i] = LeaderboardRow{
			Model:         e.Model,
			Score:         score,
			FitTime:       e.FitTime.Seconds(),
			InferenceTime: e.PredTimeVal.Seconds(),
		}
	}

	res := LeaderboardResult{Rows: rows, predictor: predictor}
	res.Table = leaderboardTable(rows)
	return res
}

func leaderboardTable(rows []LeaderboardRow) *timeseries.Table {
	x := make([][]float64, len(rows))
	labels := make([]string, len(rows))
	for i, r := range rows {
		x[i] = []float64{r.Score, r.FitTime, r.InferenceTime}
		labels[i] = r.Model
	}
	return newTable([]string{ColumnScore, ColumnFitTime, ColumnInferenceTime}, ColumnModel, x, labels)
}

// Sort orders the rows and the table by column.
func (r *LeaderboardResult) Sort(column string, order SortOrder) error {
	var key func(a, b LeaderboardRow) int
	switch column {
	case ColumnModel:
		key = func(a, b LeaderboardRow) int { return cmp.Compare(a.Model, b.Model) }
	case ColumnScore:
		key = func(a, b LeaderboardRow) int { return cmp.Compare(a.Score, b.Score) }
	case ColumnFitTime:
		key = func(a, b LeaderboardRow) int { return cmp.Compare(a.FitTime, b.FitTime) }
	case ColumnInferenceTime:
		key = func(a, b LeaderboardRow) int { return cmp.Compare(a.InferenceTime, b.InferenceTime) }
	default:
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}

	slices.SortStableFunc(r.Rows, func(a, b LeaderboardRow) int {
		if order == Descending {
			return key(b, a)
		}
		return key(a, b)
	})
	r.Table = leaderboardTable(r.Rows)
	return nil
}

// Select returns the named model of the predictor the leaderboard was built from.
func (r *LeaderboardResult) Select(name string) (models.Model, error) {
	if r.predictor == nil {
		return nil, ErrInvalidPredictor
	}
	m, err := r.predictor.Model(name)
	if err != nil {
		return nil, err
	}
	r.Selected = name
	return m, nil
}
