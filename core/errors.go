package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/headwaterworks/basin-simulator/timestep"
)

var (
	// ErrValidation marks structural model defects found while building a
	// network: duplicate names, dangling edges, inconsistent volumes.
	ErrValidation = errors.New("model validation failed")
	// ErrParameter marks a parameter that could not be evaluated for a
	// timestep, or that produced a non-finite value.
	ErrParameter = errors.New("parameter evaluation failed")
	// ErrInfeasible marks a timestep whose constraints admit no flow
	// assignment.
	ErrInfeasible = errors.New("no feasible allocation")
	// ErrVolumeBounds marks a storage volume escaping its bounds after a
	// state update. It indicates an internal invariant breach, not user
	// input error.
	ErrVolumeBounds = errors.New("storage volume out of bounds")
	// ErrUnbounded marks an allocation whose objective can be driven to
	// negative infinity, typically a negative-cost cycle with no finite
	// capacity on it.
	ErrUnbounded = errors.New("objective unbounded")
)

// ValidationError reports one structural defect in a model definition.
type ValidationError struct {
	Node   string // offending node, if any
	Field  string // offending attribute, if any
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Node != "" && e.Field != "":
		return fmt.Sprintf("node %q field %s: %s", e.Node, e.Field, e.Reason)
	case e.Node != "":
		return fmt.Sprintf("node %q: %s", e.Node, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	default:
		return e.Reason
	}
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ParameterError reports a failed parameter evaluation, identifying the
// node, the attribute and the timestep being resolved.
type ParameterError struct {
	Node  string
	Field string
	Step  timestep.Timestep
	Cause error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("node %q %s at step %d (%s): %v",
		e.Node, e.Field, e.Step.Index, e.Step.Date.Format("2006-01-02"), e.Cause)
}

func (e *ParameterError) Unwrap() error { return e.Cause }

func (e *ParameterError) Is(target error) bool { return target == ErrParameter }

// InfeasibleError reports a timestep with no feasible flow assignment and
// names the nodes whose binding constraints could not be met.
type InfeasibleError struct {
	Step   timestep.Timestep
	Nodes  []string
	Detail string
}

func (e *InfeasibleError) Error() string {
	msg := fmt.Sprintf("step %d (%s): no feasible allocation",
		e.Step.Index, e.Step.Date.Format("2006-01-02"))
	if len(e.Nodes) > 0 {
		msg += " for " + strings.Join(e.Nodes, ", ")
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *InfeasibleError) Unwrap() error { return ErrInfeasible }

// VolumeBoundsError reports a storage volume outside its configured bounds
// after a state update.
type VolumeBoundsError struct {
	Node   string
	Step   timestep.Timestep
	Volume float64
	Min    float64
	Max    float64
}

func (e *VolumeBoundsError) Error() string {
	return fmt.Sprintf("storage %q at step %d (%s): volume %g outside [%g, %g]",
		e.Node, e.Step.Index, e.Step.Date.Format("2006-01-02"), e.Volume, e.Min, e.Max)
}

func (e *VolumeBoundsError) Unwrap() error { return ErrVolumeBounds }

// StepError wraps any failure during a simulation step with the step's
// position in the horizon. The run halts on the first StepError.
type StepError struct {
	Index int
	Date  time.Time
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Date.Format("2006-01-02"), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
