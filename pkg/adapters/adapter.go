package adapters

import (
	"context"
	"time"
)

// Sample is one observation of a metric.
type Sample struct {
	Time  time.Time
	Value float64
}

// Series is a named metric in time order.
type Series struct {
	Name    string
	Samples []Sample
}

// DataFrame holds what an adapter collected over a window. The first series
// is the forecast target; any others are covariates.
type DataFrame struct {
	Step   time.Duration
	Series []Series
}

// Target returns the first series.
func (df *DataFrame) Target() (Series, bool) {
	if df == nil || len(df.Series) == 0 {
		return Series{}, false
	}
	return df.Series[0], true
}

// Adapter fetches raw metrics from an external system.
//
// Collect is synchronous and should respect context cancellation
// and deadlines.
type Adapter interface {
	// Collect fetches the last window of data. It must never panic.
	Collect(ctx context.Context, window time.Duration) (*DataFrame, error)

	// Name returns a short, unique identifier such as "prometheus".
	Name() string
}

// AlignTimestamp truncates ts to a multiple of step.
func AlignTimestamp(ts time.Time, step time.Duration) time.Time {
	return ts.Truncate(step)
}
