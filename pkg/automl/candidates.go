package automl

import (
	"fmt"

	"github.com/HatiCode/autoforecast/pkg/models"
)

// Model kinds stored in candidate specs and checkpoints.
const (
	KindNaive            = "naive"
	KindSeasonalNaive    = "seasonal_naive"
	KindAverage          = "average"
	KindDrift            = "drift"
	KindBaseline         = "baseline"
	KindARIMA            = "arima"
	KindLinearRegression = "linear_regression"
	KindEnsemble         = "weighted_ensemble"
)

// ensembleName is the leaderboard name of the weighted ensemble.
const ensembleName = "WeightedEnsemble"

// candidate describes how to build one model. It is what checkpoints store.
type candidate struct {
	Kind   string `json:"kind"`
	P      int    `json:"p,omitempty"`
	D      int    `json:"d,omitempty"`
	Q      int    `json:"q,omitempty"`
	Lags   int    `json:"lags,omitempty"`
	Season int    `json:"season,omitempty"`
}

func (c candidate) build() (models.Model, error) {
	switch c.Kind {
	case KindNaive:
		return models.NewNaiveModel(), nil
	case KindSeasonalNaive:
		return models.NewSeasonalNaiveModel(c.Season), nil
	case KindAverage:
		return models.NewAverageModel(), nil
	case KindDrift:
		return models.NewDriftModel(), nil
	case KindBaseline:
		return models.NewBaselineModel(c.Season), nil
	case KindARIMA:
		if c.P < 0 || c.Q < 0 || c.D < 0 || c.D > 2 {
			return nil, fmt.Errorf("invalid arima order (%d,%d,%d)", c.P, c.D, c.Q)
		}
		return models.NewARIMAModel(c.P, c.D, c.Q), nil
	case KindLinearRegression:
		return models.NewLinearRegressionModel(c.Lags), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", c.Kind)
	}
}

// candidates returns the models searched for preset, in fit order.
func candidates(preset Preset, season int) []candidate {
	out := []candidate{
		{Kind: KindNaive},
		{Kind: KindAverage},
		{Kind: KindDrift},
	}
	if season > 1 {
		out = append(out, candidate{Kind: KindSeasonalNaive, Season: season})
	}
	if preset == FastTraining {
		return out
	}

	out = append(out,
		candidate{Kind: KindBaseline, Season: season},
		candidate{Kind: KindARIMA, P: 1, D: 1, Q: 1},
		candidate{Kind: KindLinearRegression, Lags: 1},
	)
	if preset == MediumQuality {
		return out
	}

	out = append(out,
		candidate{Kind: KindARIMA, P: 2, D: 1, Q: 2},
		candidate{Kind: KindARIMA, P: 1, D: 0, Q: 1},
		candidate{Kind: KindLinearRegression, Lags: max(3, season)},
	)
	if preset == HighQuality {
		return out
	}

	return append(out,
		candidate{Kind: KindARIMA, P: 0, D: 1, Q: 1},
		candidate{Kind: KindARIMA, P: 2, D: 1, Q: 1},
		candidate{Kind: KindARIMA, P: 1, D: 2, Q: 1},
		candidate{Kind: KindLinearRegression, Lags: max(6, 2*season)},
	)
}
