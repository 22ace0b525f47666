package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ridge is the Tikhonov term added to the normal equations. It keeps
// degenerate designs (constant or perfectly collinear columns) solvable.
const ridge = 1e-6

// leastSquares solves min ||A·beta - b||² + ridge·||beta||².
func leastSquares(a *mat.Dense, b *mat.VecDense) ([]float64, error) {
	_, cols := a.Dims()

	var ata mat.Dense
	ata.Mul(a.T(), a)
	for i := range cols {
		ata.Set(i, i, ata.At(i, i)+ridge)
	}

	var atb mat.VecDense
	atb.MulVec(a.T(), b)

	var beta mat.VecDense
	if err := beta.SolveVec(&ata, &atb); err != nil {
		return nil, fmt.Errorf("solve normal equations: %w", err)
	}

	out := make([]float64, cols)
	for i := range out {
		out[i] = beta.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, fmt.Errorf("non-finite coefficient at %d", i)
		}
	}
	return out, nil
}

// difference applies d-th order differencing.
func difference(y []float64, d int) []float64 {
	out := append([]float64(nil), y...)
	for range d {
		if len(out) < 2 {
			return nil
		}
		next := make([]float64, len(out)-1)
		for i := 1; i < len(out); i++ {
			next[i-1] = out[i] - out[i-1]
		}
		out = next
	}
	return out
}

// integrate reverses d-th order differencing of forecast values fw that
// continue series y.
func integrate(y, fw []float64, d int) []float64 {
	if d == 0 {
		return append([]float64(nil), fw...)
	}

	lasts := make([]float64, d)
	cur := y
	for k := range d {
		lasts[k] = cur[len(cur)-1]
		cur = difference(cur, 1)
	}

	out := make([]float64, len(fw))
	for h, v := range fw {
		for k := d - 1; k >= 0; k-- {
			v = lasts[k] + v
			lasts[k] = v
		}
		out[h] = v
	}
	return out
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
