// Package features turns adapter data frames into time series the
// forecasting tasks accept.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/HatiCode/autoforecast/pkg/adapters"
	"github.com/HatiCode/autoforecast/pkg/panel"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

// DefaultTimeName is the time variable name of built series.
const DefaultTimeName = "timestamp"

var (
	ErrEmptyFrame = errors.New("dataframe is empty")
	ErrNoValues   = errors.New("target has no finite values")
)

// Builder places a DataFrame on a regular time grid and converts it into a
// host time series. The target becomes the class variable and every other
// series a covariate.
type Builder struct {
	// TimeName names the time variable, DefaultTimeName when empty.
	TimeName string
	// Calendar adds "hour" (0-23) and "day" (0-6, Sunday=0) covariates.
	Calendar bool
}

// NewBuilder creates a builder without calendar features.
func NewBuilder() *Builder {
	return &Builder{TimeName: DefaultTimeName}
}

// Build converts df into a series. The grid runs from the first to the last
// target sample every df.Step; without a step the target timestamps are used
// as they are. Gaps and NaN values are forward filled, and leading gaps take
// the first observed value. Covariates without any finite value are dropped.
func (b *Builder) Build(df *adapters.DataFrame) (*timeseries.TimeSeries, error) {
	target, ok := df.Target()
	if !ok || len(target.Samples) == 0 {
		return nil, ErrEmptyFrame
	}

	grid := makeGrid(target.Samples, df.Step)
	y, ok := panel.FillMissing(reindex(target.Samples, grid, df.Step))
	if !ok {
		return nil, ErrNoValues
	}

	var cols []timeseries.Column
	for _, s := range df.Series[1:] {
		v, ok := panel.FillMissing(reindex(s.Samples, grid, df.Step))
		if !ok || len(v) == 0 {
			continue
		}
		cols = append(cols, timeseries.Column{Name: s.Name, Values: v})
	}
	if b.Calendar {
		cols = append(cols, calendarColumns(grid)...)
	}

	times := make([]float64, len(grid))
	for i, ts := range grid {
		times[i] = float64(ts.Unix())
	}

	name := b.TimeName
	if name == "" {
		name = DefaultTimeName
	}
	s, err := timeseries.NewTimeSeries(name, times, target.Name, y, cols...)
	if err != nil {
		return nil, fmt.Errorf("build series: %w", err)
	}
	return s, nil
}

func makeGrid(samples []adapters.Sample, step time.Duration) []time.Time {
	if step <= 0 {
		grid := make([]time.Time, len(samples))
		for i, s := range samples {
			grid[i] = s.Time.UTC()
		}
		return grid
	}
	first := adapters.AlignTimestamp(samples[0].Time, step)
	last := adapters.AlignTimestamp(samples[len(samples)-1].Time, step)
	n := int(last.Sub(first)/step) + 1
	grid := make([]time.Time, n)
	for i := range grid {
		grid[i] = first.Add(time.Duration(i) * step).UTC()
	}
	return grid
}

// reindex returns the sample values at each grid point, NaN where absent.
func reindex(samples []adapters.Sample, grid []time.Time, step time.Duration) []float64 {
	at := make(map[int64]float64, len(samples))
	for _, s := range samples {
		ts := s.Time
		if step > 0 {
			ts = adapters.AlignTimestamp(ts, step)
		}
		at[ts.Unix()] = s.Value
	}
	out := make([]float64, len(grid))
	for i, ts := range grid {
		v, ok := at[ts.Unix()]
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

func calendarColumns(grid []time.Time) []timeseries.Column {
	hour := make([]float64, len(grid))
	day := make([]float64, len(grid))
	for i, ts := range grid {
		hour[i] = float64(ts.Hour())
		day[i] = float64(ts.Weekday())
	}
	return []timeseries.Column{
		{Name: "hour", Values: hour},
		{Name: "day", Values: day},
	}
}
