// Package panel converts host time series to and from the panel layout the
// forecasting engine trains on.
//
// A panel frame tags every row with a series identifier and a timestamp and
// carries one or more value columns. Only a single series is ever present, so
// the identifier is the constant DefaultItemID.
package panel

import (
	"fmt"
	"slices"
	"time"
)

const (
	ItemIDColumn    = "item_id"
	TimestampColumn = "timestamp"
	TargetColumn    = "target"

	// DefaultItemID identifies the single series of every frame.
	DefaultItemID = "item_1"
)

// Column is a named value column.
type Column struct {
	Name   string
	Values []float64
}

// Frame is a column-oriented panel frame.
type Frame struct {
	ItemIDs    []string
	Timestamps []time.Time
	Columns    []Column
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Timestamps)
}

// Column returns the named value column.
func (f *Frame) Column(name string) (Column, bool) {
	for _, c := range f.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Target returns the values of the target column.
func (f *Frame) Target() ([]float64, error) {
	c, ok := f.Column(TargetColumn)
	if !ok {
		return nil, fmt.Errorf("frame has no %q column", TargetColumn)
	}
	return c.Values, nil
}

// Covariates returns every value column except the target.
func (f *Frame) Covariates() []Column {
	out := make([]Column, 0, len(f.Columns))
	for _, c := range f.Columns {
		if c.Name != TargetColumn {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks that every column has one value per timestamp.
func (f *Frame) Validate() error {
	n := f.Len()
	if len(f.ItemIDs) != n {
		return fmt.Errorf("%s has %d values, want %d", ItemIDColumn, len(f.ItemIDs), n)
	}
	for _, c := range f.Columns {
		if len(c.Values) != n {
			return fmt.Errorf("column %q has %d values, want %d", c.Name, len(c.Values), n)
		}
	}
	return nil
}

// Slice returns rows [from, to) as a new frame sharing no slices with f.
func (f *Frame) Slice(from, to int) Frame {
	out := Frame{
		ItemIDs:    slices.Clone(f.ItemIDs[from:to]),
		Timestamps: slices.Clone(f.Timestamps[from:to]),
		Columns:    make([]Column, len(f.Columns)),
	}
	for i, c := range f.Columns {
		out.Columns[i] = Column{Name: c.Name, Values: slices.Clone(c.Values[from:to])}
	}
	return out
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() Frame {
	return f.Slice(0, f.Len())
}

// Step returns the median spacing between consecutive timestamps, or zero
// for frames with fewer than two rows.
func (f *Frame) Step() time.Duration {
	if f.Len() < 2 {
		return 0
	}
	diffs := make([]time.Duration, 0, f.Len()-1)
	for i := 1; i < f.Len(); i++ {
		diffs = append(diffs, f.Timestamps[i].Sub(f.Timestamps[i-1]))
	}
	slices.Sort(diffs)
	return diffs[len(diffs)/2]
}

// FutureTimestamps returns horizon timestamps continuing after the last row.
// A frame with no usable spacing advances one second per step.
func (f *Frame) FutureTimestamps(horizon int) []time.Time {
	if f.Len() == 0 || horizon <= 0 {
		return nil
	}
	step := f.Step()
	if step <= 0 {
		step = time.Second
	}
	last := f.Timestamps[f.Len()-1]
	out := make([]time.Time, horizon)
	for i := range horizon {
		out[i] = last.Add(time.Duration(i+1) * step)
	}
	return out
}

// constantIDs returns n copies of DefaultItemID.
func constantIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = DefaultItemID
	}
	return ids
}

// NewFrame builds a frame for the single default series.
func NewFrame(timestamps []time.Time, columns ...Column) Frame {
	return Frame{
		ItemIDs:    constantIDs(len(timestamps)),
		Timestamps: timestamps,
		Columns:    columns,
	}
}
