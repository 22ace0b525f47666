package timeseries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

// CSVOptions controls ReadCSV.
type CSVOptions struct {
	// TimeColumn names the time column. Required.
	TimeColumn string
	// TargetColumn names the class column. Empty means the table has no target.
	TargetColumn string
	// TimeLayout parses non-numeric time values. Defaults to RFC3339, with a
	// date-only fallback.
	TimeLayout string
}

// ReadCSV reads a header-prefixed CSV into a TimeSeries. Numeric columns
// other than the time and target columns become continuous attributes,
// everything else becomes a string meta.
func ReadCSV(r io.Reader, opts CSVOptions) (*TimeSeries, error) {
	if opts.TimeColumn == "" {
		return nil, errors.New("time column is required")
	}

	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrEmpty
	}

	header := records[0]
	rows := records[1:]

	timeIdx, targetIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case opts.TimeColumn:
			timeIdx = i
		case opts.TargetColumn:
			if opts.TargetColumn != "" {
				targetIdx = i
			}
		}
	}
	if timeIdx < 0 {
		return nil, fmt.Errorf("%w: time column %q", ErrUnknownVariable, opts.TimeColumn)
	}
	if opts.TargetColumn != "" && targetIdx < 0 {
		return nil, fmt.Errorf("%w: target column %q", ErrUnknownVariable, opts.TargetColumn)
	}

	times := make([]float64, len(rows))
	for r, rec := range rows {
		ts, err := parseTime(rec[timeIdx], opts.TimeLayout)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r+1, err)
		}
		times[r] = ts
	}

	var target []float64
	if targetIdx >= 0 {
		target = make([]float64, len(rows))
		for r, rec := range rows {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[targetIdx]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: target: %w", r+1, err)
			}
			target[r] = v
		}
	}

	var covariates []Column
	var metaVars []Variable
	var metaCols [][]string
	for i, h := range header {
		if i == timeIdx || i == targetIdx {
			continue
		}
		values, ok := numericColumn(rows, i)
		if ok {
			covariates = append(covariates, Column{Name: strings.TrimSpace(h), Values: values})
			continue
		}
		metaVars = append(metaVars, Variable{Name: strings.TrimSpace(h), Kind: String})
		col := make([]string, len(rows))
		for r, rec := range rows {
			col[r] = rec[i]
		}
		metaCols = append(metaCols, col)
	}

	n := len(rows)
	attrs := []Variable{{Name: opts.TimeColumn, Kind: Time}}
	for _, c := range covariates {
		attrs = append(attrs, Variable{Name: c.Name, Kind: Continuous})
	}
	x := mat.NewDense(n, len(attrs), nil)
	x.SetCol(0, times)
	for j, c := range covariates {
		x.SetCol(j+1, c.Values)
	}

	tbl := Table{
		Domain: Domain{Attributes: attrs, Metas: metaVars},
		X:      x,
	}
	if target != nil {
		tbl.Domain.ClassVar = &Variable{Name: opts.TargetColumn, Kind: Continuous}
		tbl.Y = mat.NewDense(n, 1, target)
	}
	if len(metaVars) > 0 {
		tbl.Metas = make([][]any, n)
		for r := range n {
			row := make([]any, len(metaVars))
			for j := range metaVars {
				row[j] = metaCols[j][r]
			}
			tbl.Metas[r] = row
		}
	}

	return &TimeSeries{Table: tbl, TimeVariable: &tbl.Domain.Attributes[0]}, nil
}

func numericColumn(rows [][]string, i int) ([]float64, bool) {
	out := make([]float64, len(rows))
	for r, rec := range rows {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return nil, false
		}
		out[r] = v
	}
	return out, true
}

func parseTime(raw, layout string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v, nil
	}
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	if layout != "" {
		layouts = []string{layout}
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, raw); err == nil {
			return float64(t.Unix()) + float64(t.Nanosecond())/1e9, nil
		}
	}
	return 0, fmt.Errorf("invalid time value %q", raw)
}

// WriteCSV writes attributes, class and metas of t as CSV. Time variables
// are formatted as RFC3339.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)

	var header []string
	for _, v := range t.Domain.Attributes {
		header = append(header, v.Name)
	}
	if t.Domain.ClassVar != nil {
		header = append(header, t.Domain.ClassVar.Name)
	}
	for _, v := range t.Domain.Metas {
		header = append(header, v.Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for r := range t.Len() {
		rec := make([]string, 0, len(header))
		for j, v := range t.Domain.Attributes {
			rec = append(rec, formatValue(v, t.X.At(r, j)))
		}
		if t.Domain.ClassVar != nil {
			rec = append(rec, formatValue(*t.Domain.ClassVar, t.Y.At(r, 0)))
		}
		for j, v := range t.Domain.Metas {
			var cell any
			if r < len(t.Metas) && j < len(t.Metas[r]) {
				cell = t.Metas[r][j]
			}
			rec = append(rec, formatMeta(v, cell))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatValue(v Variable, f float64) string {
	if v.Kind == Time {
		return time.Unix(int64(f), 0).UTC().Format(time.RFC3339)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatMeta(v Variable, cell any) string {
	if cell == nil {
		return ""
	}
	if v.Kind == Time {
		if f, ok := metaFloat(cell); ok {
			return formatValue(v, f)
		}
	}
	if f, ok := cell.(float64); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprint(cell)
}
