package panel

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

var (
	// ErrMissingTimeAttribute is returned when a series has no usable time variable.
	ErrMissingTimeAttribute = errors.New("time variable is not set in the time series")

	// ErrMissingTargetAttribute is returned when a series has no class variable.
	ErrMissingTargetAttribute = errors.New("target variable is not set (class variable)")
)

var reserved = map[string]bool{
	ItemIDColumn:    true,
	TimestampColumn: true,
	TargetColumn:    true,
}

// ToPanel converts a host series into a panel frame with a constant item id,
// UTC timestamps, the flattened target column and one covariate column per
// continuous attribute. The series is not modified.
func ToPanel(series *timeseries.TimeSeries) (Frame, error) {
	if series == nil || series.TimeVariable == nil {
		return Frame{}, ErrMissingTimeAttribute
	}
	if _, ok := series.Domain.Variable(series.TimeVariable.Name); !ok {
		return Frame{}, fmt.Errorf("%w: %q not in domain", ErrMissingTimeAttribute, series.TimeVariable.Name)
	}
	if series.Domain.ClassVar == nil {
		return Frame{}, ErrMissingTargetAttribute
	}

	epochs, err := series.TimeValues()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMissingTimeAttribute, err)
	}

	target, err := series.Column(series.Domain.ClassVar.Name)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMissingTargetAttribute, err)
	}
	if len(target) != len(epochs) {
		return Frame{}, fmt.Errorf("target has %d values, time has %d", len(target), len(epochs))
	}

	timestamps := make([]time.Time, len(epochs))
	for i, v := range epochs {
		timestamps[i] = epochToTime(v)
	}

	columns := []Column{{Name: TargetColumn, Values: target}}
	for j, v := range series.Domain.Attributes {
		if v.Kind != timeseries.Continuous || v.Name == series.TimeVariable.Name || reserved[v.Name] {
			continue
		}
		columns = append(columns, Column{Name: v.Name, Values: mat.Col(nil, j, series.X)})
	}

	return NewFrame(timestamps, columns...), nil
}

// FromPanel converts a forecast frame back into a host series. Every value
// column becomes a continuous attribute in frame order, timestamps are
// converted to whole epoch seconds and the original series' time variable is
// attached as a meta. The row count is taken from the frame as is.
func FromPanel(forecast Frame, original *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	if original == nil || original.TimeVariable == nil {
		return nil, ErrMissingTimeAttribute
	}
	if err := forecast.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forecast frame: %w", err)
	}

	n := forecast.Len()
	attrs := make([]timeseries.Variable, len(forecast.Columns))
	for j, c := range forecast.Columns {
		attrs[j] = timeseries.Variable{Name: c.Name, Kind: timeseries.Continuous}
	}

	timeVar := timeseries.Variable{Name: original.TimeVariable.Name, Kind: timeseries.Time}
	tbl := timeseries.Table{
		Domain: timeseries.Domain{
			Attributes: attrs,
			Metas:      []timeseries.Variable{timeVar},
		},
		Metas: make([][]any, n),
	}

	if n > 0 && len(attrs) > 0 {
		x := mat.NewDense(n, len(attrs), nil)
		for j, c := range forecast.Columns {
			x.SetCol(j, c.Values)
		}
		tbl.X = x
	}
	for i, ts := range forecast.Timestamps {
		tbl.Metas[i] = []any{float64(ts.Unix())}
	}

	return &timeseries.TimeSeries{Table: tbl, TimeVariable: &tbl.Domain.Metas[0]}, nil
}

// ToTimeSeries converts a training frame back into a host series with the
// given time and target names. Covariate columns become attributes.
func ToTimeSeries(frame Frame, timeName, targetName string) (*timeseries.TimeSeries, error) {
	target, err := frame.Target()
	if err != nil {
		return nil, err
	}

	epochs := make([]float64, frame.Len())
	for i, ts := range frame.Timestamps {
		epochs[i] = timeToEpoch(ts)
	}

	var cov []timeseries.Column
	for _, c := range frame.Covariates() {
		cov = append(cov, timeseries.Column{Name: c.Name, Values: c.Values})
	}

	return timeseries.NewTimeSeries(timeName, epochs, targetName, target, cov...)
}

func epochToTime(v float64) time.Time {
	sec := math.Floor(v)
	nsec := math.Round((v - sec) * 1e9)
	return time.Unix(int64(sec), int64(nsec)).UTC()
}

func timeToEpoch(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
