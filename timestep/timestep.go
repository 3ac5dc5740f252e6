// Package timestep defines the simulation horizon: a finite, ordered
// sequence of dated steps at a fixed day resolution.
package timestep

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidHorizon is returned when a horizon definition is unusable
// (non-positive delta, end before start, malformed dates).
var ErrInvalidHorizon = errors.New("invalid horizon")

// Timestep is a single step of the horizon. Index is zero-based and dense;
// Date is the step's calendar date at midnight UTC.
type Timestep struct {
	Index int
	Date  time.Time
}

// Timestepper describes an inclusive date range walked at a fixed delta of
// whole days. It is immutable; iteration state lives in cursors returned by
// Steps, so a horizon can be walked any number of times.
type Timestepper struct {
	start time.Time
	end   time.Time
	delta int
}

// New builds a Timestepper covering [start, end] inclusive, advancing by
// delta days per step. Dates are truncated to midnight UTC. The horizon must
// contain at least one step: end may not precede start and delta must be
// at least one day.
func New(start, end time.Time, delta int) (*Timestepper, error) {
	if delta < 1 {
		return nil, fmt.Errorf("%w: delta %d days, must be >= 1", ErrInvalidHorizon, delta)
	}
	s := midnightUTC(start)
	e := midnightUTC(end)
	if e.Before(s) {
		return nil, fmt.Errorf("%w: end %s precedes start %s",
			ErrInvalidHorizon, e.Format("2006-01-02"), s.Format("2006-01-02"))
	}
	return &Timestepper{start: s, end: e, delta: delta}, nil
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Start returns the first step's date.
func (ts *Timestepper) Start() time.Time { return ts.start }

// End returns the inclusive end of the horizon. The final step's date is the
// last multiple of delta that does not pass End.
func (ts *Timestepper) End() time.Time { return ts.end }

// Delta returns the step size in days.
func (ts *Timestepper) Delta() int { return ts.delta }

// Count returns the number of steps in the horizon. It is always >= 1.
func (ts *Timestepper) Count() int {
	days := int(ts.end.Sub(ts.start) / (24 * time.Hour))
	return days/ts.delta + 1
}

// At returns the i-th step of the horizon.
func (ts *Timestepper) At(i int) (Timestep, error) {
	if i < 0 || i >= ts.Count() {
		return Timestep{}, fmt.Errorf("%w: step index %d outside [0,%d)", ErrInvalidHorizon, i, ts.Count())
	}
	return Timestep{Index: i, Date: ts.start.AddDate(0, 0, i*ts.delta)}, nil
}

// Steps returns a fresh cursor positioned before the first step. Each call
// returns an independent cursor, so callers may restart or interleave walks.
func (ts *Timestepper) Steps() *Cursor {
	return &Cursor{ts: ts}
}

// Cursor walks a horizon one step at a time. The zero value is not usable;
// obtain cursors from Timestepper.Steps.
type Cursor struct {
	ts   *Timestepper
	next int
}

// Next returns the next step and true, or a zero step and false once the
// horizon is exhausted.
func (c *Cursor) Next() (Timestep, bool) {
	if c.next >= c.ts.Count() {
		return Timestep{}, false
	}
	step := Timestep{Index: c.next, Date: c.ts.start.AddDate(0, 0, c.next*c.ts.delta)}
	c.next++
	return step, true
}
