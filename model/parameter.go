package model

import (
	"fmt"

	"github.com/headwaterworks/basin-simulator/timestep"
)

// Parameter yields one numeric value per timestep. Implementations must be
// pure with respect to the timestep: the same step always produces the same
// value, so resolved snapshots can be cached and solves replayed.
type Parameter interface {
	Value(ts timestep.Timestep) (float64, error)
}

// ConstantParameter returns the same value for every timestep.
type ConstantParameter struct {
	value float64
}

// Constant wraps a fixed value as a Parameter.
func Constant(v float64) *ConstantParameter {
	return &ConstantParameter{value: v}
}

func (p *ConstantParameter) Value(timestep.Timestep) (float64, error) {
	return p.value, nil
}

// MonthlyProfileParameter returns one of twelve values selected by the
// calendar month of the timestep.
type MonthlyProfileParameter struct {
	values [12]float64
}

// NewMonthlyProfile builds a monthly profile. Exactly 12 values are
// required, January first.
func NewMonthlyProfile(values []float64) (*MonthlyProfileParameter, error) {
	if len(values) != 12 {
		return nil, fmt.Errorf("monthly profile needs 12 values, got %d", len(values))
	}
	p := &MonthlyProfileParameter{}
	copy(p.values[:], values)
	return p, nil
}

func (p *MonthlyProfileParameter) Value(ts timestep.Timestep) (float64, error) {
	return p.values[int(ts.Date.Month())-1], nil
}

// DailyProfileParameter returns one of 366 values selected by the day of
// year of the timestep. The profile is laid out for a leap year; in common
// years the 366th value is never selected.
type DailyProfileParameter struct {
	values [366]float64
}

// NewDailyProfile builds a day-of-year profile. Exactly 366 values are
// required, 1 January first.
func NewDailyProfile(values []float64) (*DailyProfileParameter, error) {
	if len(values) != 366 {
		return nil, fmt.Errorf("daily profile needs 366 values, got %d", len(values))
	}
	p := &DailyProfileParameter{}
	copy(p.values[:], values)
	return p, nil
}

func (p *DailyProfileParameter) Value(ts timestep.Timestep) (float64, error) {
	return p.values[ts.Date.YearDay()-1], nil
}

// ArrayIndexedParameter returns the value at the timestep's index in a
// fixed series. The series must cover the whole horizon; indices beyond it
// are an error rather than an extrapolation.
type ArrayIndexedParameter struct {
	values []float64
}

// NewArrayIndexed builds a per-timestep series parameter.
func NewArrayIndexed(values []float64) (*ArrayIndexedParameter, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("indexed series needs at least one value")
	}
	p := &ArrayIndexedParameter{values: make([]float64, len(values))}
	copy(p.values, values)
	return p, nil
}

func (p *ArrayIndexedParameter) Value(ts timestep.Timestep) (float64, error) {
	if ts.Index < 0 || ts.Index >= len(p.values) {
		return 0, fmt.Errorf("timestep index %d outside series of length %d", ts.Index, len(p.values))
	}
	return p.values[ts.Index], nil
}

// AggFunc names a reduction applied by AggregatedParameter.
type AggFunc string

const (
	AggMean    AggFunc = "mean"
	AggSum     AggFunc = "sum"
	AggMax     AggFunc = "max"
	AggMin     AggFunc = "min"
	AggProduct AggFunc = "product"
)

// Valid reports whether f is a known aggregation function.
func (f AggFunc) Valid() bool {
	switch f {
	case AggMean, AggSum, AggMax, AggMin, AggProduct:
		return true
	}
	return false
}

// AggregatedParameter reduces the values of several child parameters to a
// single value per timestep. Children are evaluated in the order given,
// which keeps floating-point accumulation reproducible.
type AggregatedParameter struct {
	fn       AggFunc
	children []Parameter
}

// NewAggregated builds an aggregation over one or more child parameters.
func NewAggregated(fn AggFunc, children []Parameter) (*AggregatedParameter, error) {
	if !fn.Valid() {
		return nil, fmt.Errorf("unknown aggregation func %q", fn)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("aggregation %q needs at least one child parameter", fn)
	}
	for i, c := range children {
		if c == nil {
			return nil, fmt.Errorf("aggregation %q child %d is nil", fn, i)
		}
	}
	p := &AggregatedParameter{fn: fn, children: make([]Parameter, len(children))}
	copy(p.children, children)
	return p, nil
}

func (p *AggregatedParameter) Value(ts timestep.Timestep) (float64, error) {
	var acc float64
	for i, c := range p.children {
		v, err := c.Value(ts)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			acc = v
			continue
		}
		switch p.fn {
		case AggMean, AggSum:
			acc += v
		case AggMax:
			if v > acc {
				acc = v
			}
		case AggMin:
			if v < acc {
				acc = v
			}
		case AggProduct:
			acc *= v
		}
	}
	if p.fn == AggMean {
		acc /= float64(len(p.children))
	}
	return acc, nil
}

// ScaledParameter multiplies a child parameter by a fixed factor.
type ScaledParameter struct {
	scale float64
	child Parameter
}

// NewScaled wraps a child parameter with a multiplicative scale.
func NewScaled(scale float64, child Parameter) (*ScaledParameter, error) {
	if child == nil {
		return nil, fmt.Errorf("scaled parameter needs a child parameter")
	}
	return &ScaledParameter{scale: scale, child: child}, nil
}

func (p *ScaledParameter) Value(ts timestep.Timestep) (float64, error) {
	v, err := p.child.Value(ts)
	if err != nil {
		return 0, err
	}
	return p.scale * v, nil
}
