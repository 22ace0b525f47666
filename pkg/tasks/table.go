package tasks

import (
	"gonum.org/v1/gonum/mat"

	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

// newTable builds a table with continuous attributes and one string meta.
func newTable(attrs []string, meta string, x [][]float64, labels []string) *timeseries.Table {
	vars := make([]timeseries.Variable, len(attrs))
	for j, name := range attrs {
		vars[j] = timeseries.Variable{Name: name, Kind: timeseries.Continuous}
	}

	t := &timeseries.Table{
		Domain: timeseries.Domain{
			Attributes: vars,
			Metas:      []timeseries.Variable{{Name: meta, Kind: timeseries.String}},
		},
		Metas: make([][]any, len(labels)),
	}
	if len(x) > 0 {
		d := mat.NewDense(len(x), len(attrs), nil)
		for i, row := range x {
			d.SetRow(i, row)
		}
		t.X = d
	}
	for i, label := range labels {
		t.Metas[i] = []any{label}
	}
	return t
}
