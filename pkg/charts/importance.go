// Package charts renders forecasting results as images.
package charts

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/HatiCode/autoforecast/pkg/tasks"
)

// Default image size.
const (
	DefaultWidth  = 6 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

var ErrNoRows = errors.New("no importance rows to plot")

var barColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}

// Importance builds a bar chart with one bar per feature and its standard
// deviation as an error bar.
func Importance(rows []tasks.ImportanceRow, title string) (*plot.Plot, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	values := make(plotter.Values, len(rows))
	names := make([]string, len(rows))
	errs := struct {
		plotter.XYs
		plotter.YErrors
	}{
		XYs:     make(plotter.XYs, len(rows)),
		YErrors: make(plotter.YErrors, len(rows)),
	}
	for i, r := range rows {
		values[i] = r.Importance
		names[i] = r.Feature
		errs.XYs[i] = plotter.XY{X: float64(i), Y: r.Importance}
		errs.YErrors[i].Low = r.StdDev
		errs.YErrors[i].High = r.StdDev
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = tasks.ColumnImportance
	p.NominalX(names...)

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, fmt.Errorf("bar chart: %w", err)
	}
	bars.Color = barColor
	bars.LineStyle.Width = 0

	whiskers, err := plotter.NewYErrorBars(errs)
	if err != nil {
		return nil, fmt.Errorf("error bars: %w", err)
	}

	p.Add(bars, whiskers, plotter.NewGrid())
	return p, nil
}

// WriteImportancePNG renders the importance chart as PNG to w.
func WriteImportancePNG(w io.Writer, rows []tasks.ImportanceRow, title string, width, height vg.Length) error {
	p, err := Importance(rows, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
