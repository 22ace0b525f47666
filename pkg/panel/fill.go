package panel

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrNoTargetValues is returned by Filled when the target column holds no
// finite value.
var ErrNoTargetValues = errors.New("target has no finite values")

func missing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// FillMissing returns a copy of values with NaN and infinite entries replaced
// by the last finite value before them. Leading gaps take the first finite
// value. ok is false when no entry is finite; the copy is then all zeros.
func FillMissing(values []float64) (filled []float64, ok bool) {
	out := slices.Clone(values)
	first := slices.IndexFunc(out, func(v float64) bool { return !missing(v) })
	if first < 0 {
		for i := range out {
			out[i] = 0
		}
		return out, len(out) == 0
	}

	last := out[first]
	for i, v := range out {
		if missing(v) {
			out[i] = last
			continue
		}
		last = v
	}
	return out, true
}

// Filled returns a deep copy of f with every value column passed through
// FillMissing. A covariate without any finite value becomes all zeros.
func (f *Frame) Filled() (Frame, error) {
	out := f.Clone()
	for i, c := range out.Columns {
		v, ok := FillMissing(c.Values)
		if !ok && c.Name == TargetColumn {
			return Frame{}, fmt.Errorf("%w: %d rows", ErrNoTargetValues, len(c.Values))
		}
		out.Columns[i].Values = v
	}
	return out, nil
}
