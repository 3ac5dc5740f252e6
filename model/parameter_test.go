package model

import (
	"math"
	"testing"
	"time"

	"github.com/headwaterworks/basin-simulator/timestep"
)

func stepOn(index int, date time.Time) timestep.Timestep {
	return timestep.Timestep{Index: index, Date: date}
}

func TestConstantParameter(t *testing.T) {
	p := Constant(42.5)
	for _, ts := range []timestep.Timestep{
		stepOn(0, time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)),
		stepOn(200, time.Date(2015, time.July, 20, 0, 0, 0, 0, time.UTC)),
	} {
		got, err := p.Value(ts)
		if err != nil {
			t.Fatalf("Value() error = %v", err)
		}
		if got != 42.5 {
			t.Fatalf("Value() = %v, want 42.5", got)
		}
	}
}

func TestMonthlyProfileSelectsByMonth(t *testing.T) {
	values := make([]float64, 12)
	for i := range values {
		values[i] = float64(i + 1)
	}
	p, err := NewMonthlyProfile(values)
	if err != nil {
		t.Fatalf("NewMonthlyProfile() error = %v", err)
	}

	cases := []struct {
		date time.Time
		want float64
	}{
		{time.Date(2015, time.January, 15, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2015, time.February, 14, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2015, time.December, 31, 0, 0, 0, 0, time.UTC), 12},
	}
	for _, tc := range cases {
		got, err := p.Value(stepOn(0, tc.date))
		if err != nil {
			t.Fatalf("Value(%v) error = %v", tc.date, err)
		}
		if got != tc.want {
			t.Fatalf("Value(%v) = %v, want %v", tc.date, got, tc.want)
		}
	}
}

func TestMonthlyProfileRejectsWrongLength(t *testing.T) {
	if _, err := NewMonthlyProfile([]float64{1, 2, 3}); err == nil {
		t.Fatal("NewMonthlyProfile() with 3 values did not fail")
	}
}

func TestDailyProfileSelectsByDayOfYear(t *testing.T) {
	values := make([]float64, 366)
	for i := range values {
		values[i] = float64(i)
	}
	p, err := NewDailyProfile(values)
	if err != nil {
		t.Fatalf("NewDailyProfile() error = %v", err)
	}

	cases := []struct {
		name string
		date time.Time
		want float64
	}{
		{"jan 1", time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC), 0},
		{"common-year dec 31", time.Date(2015, time.December, 31, 0, 0, 0, 0, time.UTC), 364},
		{"leap day", time.Date(2016, time.February, 29, 0, 0, 0, 0, time.UTC), 59},
		{"leap-year dec 31", time.Date(2016, time.December, 31, 0, 0, 0, 0, time.UTC), 365},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Value(stepOn(0, tc.date))
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("Value() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDailyProfileRejectsWrongLength(t *testing.T) {
	if _, err := NewDailyProfile(make([]float64, 365)); err == nil {
		t.Fatal("NewDailyProfile() with 365 values did not fail")
	}
}

func TestArrayIndexedParameter(t *testing.T) {
	p, err := NewArrayIndexed([]float64{10, 20, 30})
	if err != nil {
		t.Fatalf("NewArrayIndexed() error = %v", err)
	}
	date := time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

	got, err := p.Value(stepOn(2, date))
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if got != 30 {
		t.Fatalf("Value() = %v, want 30", got)
	}

	if _, err := p.Value(stepOn(3, date)); err == nil {
		t.Fatal("Value() past end of series did not fail")
	}
	if _, err := p.Value(stepOn(-1, date)); err == nil {
		t.Fatal("Value() with negative index did not fail")
	}
}

func TestAggregatedParameter(t *testing.T) {
	children := []Parameter{Constant(2), Constant(8), Constant(5)}
	date := time.Date(2015, time.June, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		fn   AggFunc
		want float64
	}{
		{AggMean, 5},
		{AggSum, 15},
		{AggMax, 8},
		{AggMin, 2},
		{AggProduct, 80},
	}
	for _, tc := range cases {
		t.Run(string(tc.fn), func(t *testing.T) {
			p, err := NewAggregated(tc.fn, children)
			if err != nil {
				t.Fatalf("NewAggregated() error = %v", err)
			}
			got, err := p.Value(stepOn(0, date))
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}
			if math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("Value() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAggregatedParameterRejectsBadInput(t *testing.T) {
	if _, err := NewAggregated("median", []Parameter{Constant(1)}); err == nil {
		t.Fatal("NewAggregated() with unknown func did not fail")
	}
	if _, err := NewAggregated(AggMean, nil); err == nil {
		t.Fatal("NewAggregated() with no children did not fail")
	}
	if _, err := NewAggregated(AggMean, []Parameter{nil}); err == nil {
		t.Fatal("NewAggregated() with nil child did not fail")
	}
}

func TestAggregatedParameterPropagatesChildError(t *testing.T) {
	short, err := NewArrayIndexed([]float64{1})
	if err != nil {
		t.Fatalf("NewArrayIndexed() error = %v", err)
	}
	p, err := NewAggregated(AggSum, []Parameter{Constant(1), short})
	if err != nil {
		t.Fatalf("NewAggregated() error = %v", err)
	}
	if _, err := p.Value(stepOn(5, time.Date(2015, time.January, 6, 0, 0, 0, 0, time.UTC))); err == nil {
		t.Fatal("Value() did not surface child failure")
	}
}

func TestScaledParameter(t *testing.T) {
	base, err := NewMonthlyProfile([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	if err != nil {
		t.Fatalf("NewMonthlyProfile() error = %v", err)
	}
	p, err := NewScaled(2.5, base)
	if err != nil {
		t.Fatalf("NewScaled() error = %v", err)
	}
	got, err := p.Value(stepOn(0, time.Date(2015, time.April, 10, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if got != 10 {
		t.Fatalf("Value() = %v, want 10", got)
	}

	if _, err := NewScaled(1, nil); err == nil {
		t.Fatal("NewScaled() with nil child did not fail")
	}
}
