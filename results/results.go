// Package results is the in-memory store for per-step simulation output.
// The engine appends one record per completed timestep; consumers either
// subscribe for records as they land or read snapshots afterwards.
package results

import (
	"sync"
	"time"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventStepAppended EventType = iota
)

// EdgeFlow is the solved flow on one declared edge. Records keep edges as
// a slice so parallel edges stay distinct and declaration order survives
// into output.
type EdgeFlow struct {
	From string
	To   string
	Flow float64
}

// StepRecord is the outcome of one simulation step.
type StepRecord struct {
	Index     int
	Date      time.Time
	Objective float64

	// NodeFlows holds each node's through-flow; a storage node's entry is
	// its net outflow for the step.
	NodeFlows map[string]float64
	EdgeFlows []EdgeFlow

	// Volumes holds every storage node's volume after the step's
	// mass-balance update.
	Volumes map[string]float64
}

// Event is emitted to subscribers when a record lands in the store.
type Event struct {
	Type EventType
	Step StepRecord
}

// Store is an in-memory, thread-safe collection of step records.
type Store struct {
	mu    sync.RWMutex
	steps []StepRecord

	subs []func(Event)
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds a record and notifies subscribers. Records are expected in
// step order; the store itself does not reorder.
func (s *Store) Append(rec StepRecord) {
	s.mu.Lock()
	s.steps = append(s.steps, rec)
	subs := append([]func(Event){}, s.subs...)
	s.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	event := Event{Type: EventStepAppended, Step: rec}
	for _, sub := range subs {
		sub(event)
	}
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps)
}

// Snapshot returns a copy of all records in append order.
func (s *Store) Snapshot() []StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StepRecord, len(s.steps))
	copy(out, s.steps)
	return out
}

// Final returns the last appended record, if any.
func (s *Store) Final() (StepRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.steps) == 0 {
		return StepRecord{}, false
	}
	return s.steps[len(s.steps)-1], true
}

// Subscribe registers a callback for store events. It returns an
// unsubscribe function.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
	idx := len(s.subs) - 1

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < 0 || idx >= len(s.subs) {
			return
		}
		s.subs = append(s.subs[:idx], s.subs[idx+1:]...)
		idx = -1
	}
}
