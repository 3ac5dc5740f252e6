package core

import (
	"fmt"
	"math"

	"github.com/headwaterworks/basin-simulator/model"
	"github.com/headwaterworks/basin-simulator/timestep"
)

// ResolvedParams is the numeric snapshot of every node's flow attributes
// for one timestep. Slices are indexed by node declaration order. MaxFlow
// uses +Inf for unconstrained nodes; MinFlow and Cost are always finite.
type ResolvedParams struct {
	Step    timestep.Timestep
	MinFlow []float64
	MaxFlow []float64
	Cost    []float64
}

// Resolver evaluates node parameters into per-timestep snapshots. It keeps
// the most recently resolved snapshot and serves it again when the same
// step is requested, so several consumers within one step share a single
// evaluation. A cached snapshot is never served for a different step.
type Resolver struct {
	net  *Network
	last *ResolvedParams
}

// NewResolver builds a resolver over a network.
func NewResolver(net *Network) *Resolver {
	return &Resolver{net: net}
}

// Resolve evaluates min flow, max flow and cost for every node at the
// given step. Parameter failures, non-finite values and negative flow
// bounds surface as *ParameterError.
func (r *Resolver) Resolve(step timestep.Timestep) (*ResolvedParams, error) {
	if r.last != nil && r.last.Step.Index == step.Index && r.last.Step.Date.Equal(step.Date) {
		return r.last, nil
	}

	n := r.net.Len()
	rp := &ResolvedParams{
		Step:    step,
		MinFlow: make([]float64, n),
		MaxFlow: make([]float64, n),
		Cost:    make([]float64, n),
	}

	for i := 0; i < n; i++ {
		def := r.net.NodeAt(i)

		minFlow, err := evalParam(def.MinFlow, step, 0)
		if err != nil {
			return nil, &ParameterError{Node: def.Name, Field: "min_flow", Step: step, Cause: err}
		}
		if math.IsNaN(minFlow) || math.IsInf(minFlow, 0) {
			return nil, &ParameterError{Node: def.Name, Field: "min_flow", Step: step, Cause: fmt.Errorf("non-finite value %v", minFlow)}
		}
		if minFlow < 0 {
			return nil, &ParameterError{Node: def.Name, Field: "min_flow", Step: step, Cause: fmt.Errorf("negative minimum flow %g", minFlow)}
		}

		maxFlow, err := evalParam(def.MaxFlow, step, math.Inf(1))
		if err != nil {
			return nil, &ParameterError{Node: def.Name, Field: "max_flow", Step: step, Cause: err}
		}
		// +Inf is the legitimate "unconstrained" value for a maximum.
		if math.IsNaN(maxFlow) || math.IsInf(maxFlow, -1) {
			return nil, &ParameterError{Node: def.Name, Field: "max_flow", Step: step, Cause: fmt.Errorf("non-finite value %v", maxFlow)}
		}
		if maxFlow < 0 {
			return nil, &ParameterError{Node: def.Name, Field: "max_flow", Step: step, Cause: fmt.Errorf("negative maximum flow %g", maxFlow)}
		}

		cost, err := evalParam(def.Cost, step, 0)
		if err != nil {
			return nil, &ParameterError{Node: def.Name, Field: "cost", Step: step, Cause: err}
		}
		if math.IsNaN(cost) || math.IsInf(cost, 0) {
			return nil, &ParameterError{Node: def.Name, Field: "cost", Step: step, Cause: fmt.Errorf("non-finite value %v", cost)}
		}

		rp.MinFlow[i] = minFlow
		rp.MaxFlow[i] = maxFlow
		rp.Cost[i] = cost
	}

	r.last = rp
	return rp, nil
}

func evalParam(p model.Parameter, step timestep.Timestep, def float64) (float64, error) {
	if p == nil {
		return def, nil
	}
	return p.Value(step)
}
