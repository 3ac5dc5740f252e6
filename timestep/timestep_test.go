package timestep

import (
	"errors"
	"testing"
	"time"
)

func TestNewRejectsBadHorizons(t *testing.T) {
	start := time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		start time.Time
		end   time.Time
		delta int
	}{
		{"zero delta", start, start.AddDate(0, 0, 10), 0},
		{"negative delta", start, start.AddDate(0, 0, 10), -1},
		{"end before start", start, start.AddDate(0, 0, -1), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.start, tc.end, tc.delta); !errors.Is(err, ErrInvalidHorizon) {
				t.Fatalf("New() error = %v, want ErrInvalidHorizon", err)
			}
		})
	}
}

func TestFullYearHorizon(t *testing.T) {
	// A daily horizon over 2015 must produce exactly 365 steps with dense
	// indices and consecutive dates.
	ts, err := New(
		time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2015, time.December, 31, 0, 0, 0, 0, time.UTC),
		1,
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := ts.Count(); got != 365 {
		t.Fatalf("Count() = %d, want 365", got)
	}

	cur := ts.Steps()
	var steps []Timestep
	for step, ok := cur.Next(); ok; step, ok = cur.Next() {
		steps = append(steps, step)
	}
	if len(steps) != 365 {
		t.Fatalf("cursor yielded %d steps, want 365", len(steps))
	}
	for i, step := range steps {
		if step.Index != i {
			t.Fatalf("step %d has index %d", i, step.Index)
		}
		want := time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		if !step.Date.Equal(want) {
			t.Fatalf("step %d date = %v, want %v", i, step.Date, want)
		}
	}
	last := steps[len(steps)-1]
	if want := time.Date(2015, time.December, 31, 0, 0, 0, 0, time.UTC); !last.Date.Equal(want) {
		t.Fatalf("final step date = %v, want %v", last.Date, want)
	}
}

func TestCursorsAreIndependent(t *testing.T) {
	ts, err := New(
		time.Date(2015, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2015, time.March, 5, 0, 0, 0, 0, time.UTC),
		1,
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// 1. Exhaust one cursor.
	first := ts.Steps()
	n := 0
	for _, ok := first.Next(); ok; _, ok = first.Next() {
		n++
	}
	if n != 5 {
		t.Fatalf("first walk yielded %d steps, want 5", n)
	}

	// 2. A second cursor starts from the beginning again.
	second := ts.Steps()
	step, ok := second.Next()
	if !ok || step.Index != 0 {
		t.Fatalf("restarted cursor gave (%v, %v), want index 0", step, ok)
	}
}

func TestCoarseDelta(t *testing.T) {
	// Seven-day steps over four weeks plus a remainder day: the partial
	// trailing window is not a step.
	ts, err := New(
		time.Date(2015, time.June, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2015, time.June, 29, 0, 0, 0, 0, time.UTC),
		7,
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := ts.Count(); got != 5 {
		t.Fatalf("Count() = %d, want 5", got)
	}
	step, err := ts.At(4)
	if err != nil {
		t.Fatalf("At(4) error = %v", err)
	}
	if want := time.Date(2015, time.June, 29, 0, 0, 0, 0, time.UTC); !step.Date.Equal(want) {
		t.Fatalf("At(4) date = %v, want %v", step.Date, want)
	}
	if _, err := ts.At(5); !errors.Is(err, ErrInvalidHorizon) {
		t.Fatalf("At(5) error = %v, want ErrInvalidHorizon", err)
	}
	if _, err := ts.At(-1); !errors.Is(err, ErrInvalidHorizon) {
		t.Fatalf("At(-1) error = %v, want ErrInvalidHorizon", err)
	}
}

func TestSingleStepHorizon(t *testing.T) {
	day := time.Date(2015, time.July, 4, 0, 0, 0, 0, time.UTC)
	ts, err := New(day, day, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := ts.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	step, ok := ts.Steps().Next()
	if !ok || !step.Date.Equal(day) {
		t.Fatalf("single step = (%v, %v), want date %v", step, ok, day)
	}
}

func TestDatesNormalizedToMidnightUTC(t *testing.T) {
	zone := time.FixedZone("UTC+5", 5*3600)
	ts, err := New(
		time.Date(2015, time.January, 1, 13, 30, 0, 0, zone),
		time.Date(2015, time.January, 3, 23, 0, 0, 0, zone),
		1,
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if want := time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC); !ts.Start().Equal(want) {
		t.Fatalf("Start() = %v, want %v", ts.Start(), want)
	}
	if got := ts.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}
}
