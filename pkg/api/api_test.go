package api

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/HatiCode/autoforecast/pkg/tasks"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

func TestSeries_TimeSeries(t *testing.T) {
	s := Series{
		Times:  []float64{0, 60, 120},
		Target: []float64{1, 2, 3},
		Covariates: map[string][]float64{
			"zeta":  {7, 8, 9},
			"alpha": {4, 5, 6},
		},
	}

	ts, err := s.TimeSeries()
	if err != nil {
		t.Fatalf("TimeSeries() error = %v", err)
	}
	if ts.TimeVariable.Name != DefaultTimeName {
		t.Errorf("time name = %q, want %q", ts.TimeVariable.Name, DefaultTimeName)
	}
	if ts.Domain.ClassVar.Name != DefaultTargetName {
		t.Errorf("target name = %q, want %q", ts.Domain.ClassVar.Name, DefaultTargetName)
	}

	var names []string
	for _, v := range ts.Domain.Attributes[1:] {
		names = append(names, v.Name)
	}
	if !slices.Equal(names, []string{"alpha", "zeta"}) {
		t.Errorf("covariates = %v, want [alpha zeta]", names)
	}
}

func TestSeries_Errors(t *testing.T) {
	if _, err := (Series{}).TimeSeries(); !errors.Is(err, ErrEmptySeries) {
		t.Errorf("empty series error = %v, want %v", err, ErrEmptySeries)
	}
	bad := Series{Times: []float64{0, 1}, Target: []float64{1}}
	if _, err := bad.TimeSeries(); err == nil {
		t.Error("mismatched target error = nil")
	}
}

func TestSettings_Apply(t *testing.T) {
	base := tasks.DefaultForecastSettings()

	var none *Settings
	if got := none.Apply(base); got != base {
		t.Errorf("nil Apply() = %+v, want %+v", got, base)
	}

	got := (&Settings{PredictionLength: 6, Preset: "fast_training", TimeLimitSeconds: 30}).Apply(base)
	if got.PredictionLength != 6 || got.Preset != "fast_training" || got.TimeLimit != 30*time.Second {
		t.Errorf("Apply() = %+v", got)
	}
	if got.EvalMetric != base.EvalMetric || got.Path != base.Path {
		t.Errorf("Apply() changed unset fields: %+v", got)
	}
}

func TestForecastFromSeries(t *testing.T) {
	times := []float64{100, 200}
	s := engineResult(times, map[string][]float64{"mean": {1, 2}, "0.9": {3, 4}})

	f, err := ForecastFromSeries(s, "mean")
	if err != nil {
		t.Fatalf("ForecastFromSeries() error = %v", err)
	}
	if !slices.Equal(f.Timestamps, times) || !slices.Equal(f.Mean, []float64{1, 2}) {
		t.Errorf("ForecastFromSeries() = %+v", f)
	}
	if !slices.Equal(f.Quantiles["0.9"], []float64{3, 4}) {
		t.Errorf("quantile 0.9 = %v, want [3 4]", f.Quantiles["0.9"])
	}

	if _, err := ForecastFromSeries(s, "median"); err == nil {
		t.Error("missing mean column error = nil")
	}
	if _, err := ForecastFromSeries(nil, "mean"); !errors.Is(err, ErrEmptySeries) {
		t.Errorf("nil series error = %v, want %v", err, ErrEmptySeries)
	}
}

// engineResult builds a result shaped like FromPanel output: value
// attributes plus the time variable as a meta.
func engineResult(times []float64, cols map[string][]float64) *timeseries.TimeSeries {
	names := []string{"mean", "0.9"}
	attrs := make([]timeseries.Variable, len(names))
	for i, n := range names {
		attrs[i] = timeseries.Variable{Name: n, Kind: timeseries.Continuous}
	}
	tbl := timeseries.Table{
		Domain: timeseries.Domain{
			Attributes: attrs,
			Metas:      []timeseries.Variable{{Name: "t", Kind: timeseries.Time}},
		},
		Metas: make([][]any, len(times)),
	}
	x := make([]float64, 0, len(times)*len(names))
	for i := range times {
		for _, n := range names {
			x = append(x, cols[n][i])
		}
		tbl.Metas[i] = []any{times[i]}
	}
	tbl.X = mat.NewDense(len(times), len(names), x)
	return &timeseries.TimeSeries{Table: tbl, TimeVariable: &tbl.Domain.Metas[0]}
}

func TestImportanceRequest_Settings(t *testing.T) {
	s := ImportanceRequest{NumIterations: 10, Model: "Naive"}.Settings()
	if s.NumIterations != 10 || s.Model != "Naive" {
		t.Errorf("Settings() = %+v", s)
	}
	if s.Method != tasks.DefaultImportanceSettings().Method || s.SubsampleSize != tasks.DefaultSubsample {
		t.Errorf("Settings() dropped defaults: %+v", s)
	}
}

func TestRowConversions(t *testing.T) {
	lb := LeaderboardRows([]tasks.LeaderboardRow{{Model: "Naive", Score: -1, FitTime: 0.5, InferenceTime: 0.1}})
	if lb[0] != (LeaderboardRow{Model: "Naive", Score: -1, FitTime: 0.5, InferenceTime: 0.1}) {
		t.Errorf("LeaderboardRows() = %+v", lb)
	}
	imp := ImportanceRows([]tasks.ImportanceRow{{Feature: "x", Importance: 2, StdDev: 0.1}})
	if imp[0] != (ImportanceRow{Feature: "x", Importance: 2, StdDev: 0.1}) {
		t.Errorf("ImportanceRows() = %+v", imp)
	}
}

func TestLeaderboardRow_NaNScore(t *testing.T) {
	rows := []LeaderboardRow{
		{Model: "Naive", Score: -1, FitTime: 0.5},
		{Model: "ARIMA(1,1,1)", Score: math.NaN(), FitTime: 0.2},
	}
	data, err := json.Marshal(rows)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"score":null`) {
		t.Errorf("NaN score not encoded as null: %s", data)
	}

	var got []LeaderboardRow
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got[0] != rows[0] {
		t.Errorf("row 0 = %+v, want %+v", got[0], rows[0])
	}
	if got[1].Model != "ARIMA(1,1,1)" || !math.IsNaN(got[1].Score) || got[1].FitTime != 0.2 {
		t.Errorf("row 1 = %+v, want NaN score", got[1])
	}
}
