// Package timeseries models the host application's tabular data.
//
// A Table pairs a Domain of typed variables with three blocks of values:
// attributes (X), the class variable (Y) and meta columns. A TimeSeries is a
// Table that designates one variable as its time axis. Time values are stored
// as epoch seconds.
//
// X and Y are gonum matrices. Y is always an n×1 column vector when a class
// variable is present, mirroring the way the host hands target values over.
package timeseries

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmpty is returned when a series is built from zero rows.
	ErrEmpty = errors.New("timeseries: no rows")

	// ErrUnknownVariable is returned when a column lookup names a variable
	// that is not part of the domain.
	ErrUnknownVariable = errors.New("timeseries: unknown variable")
)

// VariableKind is the value type of a Variable.
type VariableKind int

const (
	Continuous VariableKind = iota
	Time
	String
)

func (k VariableKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Time:
		return "time"
	case String:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Variable is a named, typed column of a Domain.
type Variable struct {
	Name string
	Kind VariableKind
}

// Domain describes the columns of a Table.
type Domain struct {
	Attributes []Variable
	// ClassVar is the target variable, nil when the table has no target.
	ClassVar *Variable
	Metas    []Variable
}

// AttributeIndex returns the index of the named attribute or -1.
func (d Domain) AttributeIndex(name string) int {
	for i, v := range d.Attributes {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// MetaIndex returns the index of the named meta variable or -1.
func (d Domain) MetaIndex(name string) int {
	for i, v := range d.Metas {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Variable looks up a variable by name across attributes, class and metas.
func (d Domain) Variable(name string) (Variable, bool) {
	if i := d.AttributeIndex(name); i >= 0 {
		return d.Attributes[i], true
	}
	if d.ClassVar != nil && d.ClassVar.Name == name {
		return *d.ClassVar, true
	}
	if i := d.MetaIndex(name); i >= 0 {
		return d.Metas[i], true
	}
	return Variable{}, false
}

// Table holds values for a Domain. X has one column per attribute, Y one
// column for the class variable and Metas one entry per meta variable.
// X and Y are nil when the domain has no attributes or no class variable.
type Table struct {
	Domain Domain
	X      mat.Matrix
	Y      mat.Matrix
	Metas  [][]any
}

// Len returns the number of rows.
func (t *Table) Len() int {
	switch {
	case t.X != nil:
		r, _ := t.X.Dims()
		return r
	case t.Y != nil:
		r, _ := t.Y.Dims()
		return r
	default:
		return len(t.Metas)
	}
}

// Column returns a copy of the named numeric column.
// Meta columns must hold float64 or time.Time values.
func (t *Table) Column(name string) ([]float64, error) {
	if i := t.Domain.AttributeIndex(name); i >= 0 {
		if t.X == nil {
			return nil, fmt.Errorf("attribute %q has no values", name)
		}
		return mat.Col(nil, i, t.X), nil
	}
	if t.Domain.ClassVar != nil && t.Domain.ClassVar.Name == name {
		if t.Y == nil {
			return nil, fmt.Errorf("class variable %q has no values", name)
		}
		return mat.Col(nil, 0, t.Y), nil
	}
	if i := t.Domain.MetaIndex(name); i >= 0 {
		out := make([]float64, len(t.Metas))
		for r, row := range t.Metas {
			if i >= len(row) {
				return nil, fmt.Errorf("meta %q missing in row %d", name, r)
			}
			v, ok := metaFloat(row[i])
			if !ok {
				return nil, fmt.Errorf("meta %q row %d: unsupported value %T", name, r, row[i])
			}
			out[r] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
}

// StringColumn returns the named meta column as strings.
func (t *Table) StringColumn(name string) ([]string, error) {
	i := t.Domain.MetaIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	out := make([]string, len(t.Metas))
	for r, row := range t.Metas {
		if i < len(row) {
			out[r] = fmt.Sprint(row[i])
		}
	}
	return out, nil
}

func metaFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case time.Time:
		return float64(val.Unix()) + float64(val.Nanosecond())/1e9, true
	default:
		return 0, false
	}
}

// TimeSeries is a Table with a designated time variable.
type TimeSeries struct {
	Table

	// TimeVariable is nil when the table carries no time axis.
	TimeVariable *Variable
}

// TimeValues returns the time column as epoch seconds.
func (s *TimeSeries) TimeValues() ([]float64, error) {
	if s.TimeVariable == nil {
		return nil, errors.New("time variable is not set")
	}
	return s.Column(s.TimeVariable.Name)
}

// Column describes one named numeric column for NewTimeSeries.
type Column struct {
	Name   string
	Values []float64
}

// NewTimeSeries builds a series whose first attribute is the time variable,
// followed by the covariates, with target as the class variable.
func NewTimeSeries(timeName string, times []float64, targetName string, target []float64, covariates ...Column) (*TimeSeries, error) {
	n := len(times)
	if n == 0 {
		return nil, ErrEmpty
	}
	if len(target) != n {
		return nil, fmt.Errorf("target has %d values, want %d", len(target), n)
	}
	for _, c := range covariates {
		if len(c.Values) != n {
			return nil, fmt.Errorf("covariate %q has %d values, want %d", c.Name, len(c.Values), n)
		}
	}

	timeVar := Variable{Name: timeName, Kind: Time}
	attrs := make([]Variable, 0, 1+len(covariates))
	attrs = append(attrs, timeVar)
	for _, c := range covariates {
		attrs = append(attrs, Variable{Name: c.Name, Kind: Continuous})
	}

	x := mat.NewDense(n, len(attrs), nil)
	x.SetCol(0, times)
	for j, c := range covariates {
		x.SetCol(j+1, c.Values)
	}

	y := mat.NewDense(n, 1, append([]float64(nil), target...))

	return &TimeSeries{
		Table: Table{
			Domain: Domain{
				Attributes: attrs,
				ClassVar:   &Variable{Name: targetName, Kind: Continuous},
			},
			X: x,
			Y: y,
		},
		TimeVariable: &attrs[0],
	}, nil
}

// FromTable wraps a table as a time series. timeName selects the time
// variable; when empty, the first variable of kind Time is used. A table
// without any time variable yields a series with a nil TimeVariable.
func FromTable(t Table, timeName string) *TimeSeries {
	s := &TimeSeries{Table: t}
	pick := func(v Variable) bool {
		if timeName != "" {
			return v.Name == timeName
		}
		return v.Kind == Time
	}
	for i := range t.Domain.Attributes {
		if pick(t.Domain.Attributes[i]) {
			s.TimeVariable = &t.Domain.Attributes[i]
			return s
		}
	}
	for i := range t.Domain.Metas {
		if pick(t.Domain.Metas[i]) {
			s.TimeVariable = &t.Domain.Metas[i]
			return s
		}
	}
	return s
}
