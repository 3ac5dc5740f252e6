package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/headwaterworks/basin-simulator/model"
	"github.com/headwaterworks/basin-simulator/timestep"
)

// countingParam records how often it is evaluated and can be primed to
// fail or to return a fixed value.
type countingParam struct {
	value float64
	err   error
	calls int
}

func (p *countingParam) Value(timestep.Timestep) (float64, error) {
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.value, nil
}

func stepAt(index int, day int) timestep.Timestep {
	return timestep.Timestep{
		Index: index,
		Date:  time.Date(2015, 1, day, 0, 0, 0, 0, time.UTC),
	}
}

func mustNetwork(t *testing.T, defs []model.NodeDefinition, edges []model.EdgeDefinition) *Network {
	t.Helper()
	net, err := BuildNetwork(defs, edges)
	if err != nil {
		t.Fatalf("BuildNetwork failed: %v", err)
	}
	return net
}

func TestResolveAppliesDefaults(t *testing.T) {
	net := mustNetwork(t, []model.NodeDefinition{
		{Name: "bare", Kind: model.KindLink},
	}, nil)

	rp, err := NewResolver(net).Resolve(stepAt(0, 1))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rp.MinFlow[0] != 0 {
		t.Errorf("default min flow = %g, want 0", rp.MinFlow[0])
	}
	if !math.IsInf(rp.MaxFlow[0], 1) {
		t.Errorf("default max flow = %g, want +Inf", rp.MaxFlow[0])
	}
	if rp.Cost[0] != 0 {
		t.Errorf("default cost = %g, want 0", rp.Cost[0])
	}
}

func TestResolveFollowsDeclarationOrder(t *testing.T) {
	net := mustNetwork(t, []model.NodeDefinition{
		{Name: "a", Kind: model.KindInput, MaxFlow: model.Constant(3), Cost: model.Constant(1)},
		{Name: "b", Kind: model.KindOutput, MaxFlow: model.Constant(7), MinFlow: model.Constant(2), Cost: model.Constant(-4)},
	}, nil)

	rp, err := NewResolver(net).Resolve(stepAt(0, 1))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rp.MaxFlow[0] != 3 || rp.Cost[0] != 1 {
		t.Errorf("node a resolved to max=%g cost=%g, want max=3 cost=1", rp.MaxFlow[0], rp.Cost[0])
	}
	if rp.MaxFlow[1] != 7 || rp.MinFlow[1] != 2 || rp.Cost[1] != -4 {
		t.Errorf("node b resolved to max=%g min=%g cost=%g, want 7/2/-4", rp.MaxFlow[1], rp.MinFlow[1], rp.Cost[1])
	}
}

func TestResolveCachesWithinStep(t *testing.T) {
	p := &countingParam{value: 5}
	net := mustNetwork(t, []model.NodeDefinition{
		{Name: "a", Kind: model.KindInput, MaxFlow: p},
	}, nil)
	r := NewResolver(net)

	first, err := r.Resolve(stepAt(0, 1))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := r.Resolve(stepAt(0, 1))
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if first != second {
		t.Errorf("repeated Resolve for the same step returned a new snapshot")
	}
	if p.calls != 1 {
		t.Errorf("parameter evaluated %d times for one step, want 1", p.calls)
	}

	if _, err := r.Resolve(stepAt(1, 2)); err != nil {
		t.Fatalf("Resolve for next step failed: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("parameter evaluated %d times across two steps, want 2", p.calls)
	}
}

func TestResolveRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		def   model.NodeDefinition
		field string
	}{
		{
			name:  "NaN max flow",
			def:   model.NodeDefinition{Name: "n", Kind: model.KindInput, MaxFlow: model.Constant(math.NaN())},
			field: "max_flow",
		},
		{
			name:  "negative infinity max flow",
			def:   model.NodeDefinition{Name: "n", Kind: model.KindInput, MaxFlow: model.Constant(math.Inf(-1))},
			field: "max_flow",
		},
		{
			name:  "negative max flow",
			def:   model.NodeDefinition{Name: "n", Kind: model.KindInput, MaxFlow: model.Constant(-1)},
			field: "max_flow",
		},
		{
			name:  "negative min flow",
			def:   model.NodeDefinition{Name: "n", Kind: model.KindInput, MinFlow: model.Constant(-2)},
			field: "min_flow",
		},
		{
			name:  "infinite min flow",
			def:   model.NodeDefinition{Name: "n", Kind: model.KindInput, MinFlow: model.Constant(math.Inf(1))},
			field: "min_flow",
		},
		{
			name:  "infinite cost",
			def:   model.NodeDefinition{Name: "n", Kind: model.KindOutput, Cost: model.Constant(math.Inf(1))},
			field: "cost",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			net := mustNetwork(t, []model.NodeDefinition{tc.def}, nil)
			_, err := NewResolver(net).Resolve(stepAt(0, 1))
			if err == nil {
				t.Fatalf("Resolve succeeded, want parameter error")
			}
			if !errors.Is(err, ErrParameter) {
				t.Errorf("error %v does not match ErrParameter", err)
			}
			var perr *ParameterError
			if !errors.As(err, &perr) {
				t.Fatalf("error %v is not a *ParameterError", err)
			}
			if perr.Node != "n" || perr.Field != tc.field {
				t.Errorf("error identifies %s/%s, want n/%s", perr.Node, perr.Field, tc.field)
			}
		})
	}
}

func TestResolveAllowsUnboundedMax(t *testing.T) {
	net := mustNetwork(t, []model.NodeDefinition{
		{Name: "n", Kind: model.KindInput, MaxFlow: model.Constant(math.Inf(1))},
	}, nil)
	rp, err := NewResolver(net).Resolve(stepAt(0, 1))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !math.IsInf(rp.MaxFlow[0], 1) {
		t.Errorf("max flow = %g, want +Inf", rp.MaxFlow[0])
	}
}

func TestResolveWrapsEvaluationFailure(t *testing.T) {
	cause := errors.New("series exhausted")
	p := &countingParam{err: cause}
	net := mustNetwork(t, []model.NodeDefinition{
		{Name: "n", Kind: model.KindOutput, Cost: p},
	}, nil)

	_, err := NewResolver(net).Resolve(stepAt(3, 4))
	if err == nil {
		t.Fatalf("Resolve succeeded, want wrapped failure")
	}
	if !errors.Is(err, cause) {
		t.Errorf("error %v does not wrap the evaluation cause", err)
	}
	if !errors.Is(err, ErrParameter) {
		t.Errorf("error %v does not match ErrParameter", err)
	}
	var perr *ParameterError
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not a *ParameterError", err)
	}
	if perr.Step.Index != 3 {
		t.Errorf("error step index = %d, want 3", perr.Step.Index)
	}

	// A failed resolve must not poison the cache for a later good step.
	p.err = nil
	p.value = 2
	if _, err := NewResolver(net).Resolve(stepAt(4, 5)); err != nil {
		t.Fatalf("Resolve after failure: %v", err)
	}
}
