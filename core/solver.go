package core

import (
	"fmt"
	"math"

	"github.com/headwaterworks/basin-simulator/model"
	"github.com/headwaterworks/basin-simulator/timestep"
)

// flowEps is the tolerance below which a flow or imbalance counts as zero.
const flowEps = 1e-9

// FlowAssignment is the solver's answer for one timestep. EdgeFlows follows
// edge declaration order and NodeFlows node declaration order. A storage
// node's flow is its net outflow for the step: positive while draining,
// negative while refilling.
type FlowAssignment struct {
	Step      timestep.Timestep
	EdgeFlows []float64
	NodeFlows []float64
	Objective float64
}

// Solver computes a minimum-cost flow assignment for a single timestep.
// Solves are deterministic: vertex and arc orders derive from declaration
// order, every tie breaks toward the lowest index, and repeating a solve
// with identical inputs reproduces the assignment bit for bit.
type Solver struct{}

// NewSolver constructs a solver.
func NewSolver() *Solver { return &Solver{} }

// Solve finds the cheapest flow assignment honouring every node's resolved
// bounds and the storage volumes in state. It returns *InfeasibleError when
// minimum flows cannot be met and ErrUnbounded when an unlimited-capacity
// route carries negative total cost.
func (s *Solver) Solve(net *Network, rp *ResolvedParams, state *StorageState) (*FlowAssignment, error) {
	g, err := buildFlowGraph(net, rp, state)
	if err != nil {
		return nil, err
	}
	if err := g.balance(); err != nil {
		return nil, err
	}
	if err := g.checkBounded(); err != nil {
		return nil, err
	}
	return g.assignment(), nil
}

//
// ---------- Graph construction ----------
//

type arcKind int

const (
	arcNode arcKind = iota
	arcRelease
	arcRefill
	arcEdge
	arcReturn
)

type arc struct {
	from, to int
	lb, ub   float64
	cost     float64
	flow     float64

	// surrogate marks an unbounded capacity replaced by the finite cap
	// g.limit; flow beyond g.finiteTotal on such an arc proves the
	// objective unbounded.
	surrogate bool

	kind    arcKind
	nodeIdx int
	edgeIdx int
}

// flowGraph is the node-split circulation graph for one timestep. Vertex 0
// is the source S, vertex 1 the sink T; a return arc T->S closes the
// circulation.
type flowGraph struct {
	net  *Network
	step timestep.Timestep

	numVerts   int
	vertexNode []int // owning node index per vertex, -1 for S and T

	arcs []arc

	finiteTotal float64 // sum of all finite bounds
	limit       float64 // surrogate capacity, strictly above finiteTotal

	excess []float64
}

const (
	vertSource = 0
	vertSink   = 1
)

// buildFlowGraph lowers the network into arcs. Per node kind:
//   - Input:   S -> v with the node's flow bounds and cost,
//   - Output:  v -> T with the node's flow bounds and cost,
//   - Link:    v_in -> v_out with the node's flow bounds and cost,
//   - Storage: a release arc S -> v capped by the drawable volume at cost
//     c, and a refill arc v -> T capped by the remaining headroom at cost
//     -c, so the storage cost applies to its net outflow.
//
// Declared edges become unconstrained zero-cost arcs between the vertices
// they join. Arc order is node declaration order, then edge declaration
// order, then the return arc, which fixes the deterministic tie-break.
func buildFlowGraph(net *Network, rp *ResolvedParams, state *StorageState) (*flowGraph, error) {
	g := &flowGraph{
		net:        net,
		step:       rp.Step,
		numVerts:   2,
		vertexNode: []int{-1, -1},
	}

	// Vertex assignment. Links split into an in and an out vertex; every
	// other kind is a single vertex.
	vertIn := make([]int, net.Len())
	vertOut := make([]int, net.Len())
	for i := 0; i < net.Len(); i++ {
		def := net.NodeAt(i)
		vertIn[i] = g.numVerts
		g.vertexNode = append(g.vertexNode, i)
		g.numVerts++
		if def.Kind == model.KindLink {
			vertOut[i] = g.numVerts
			g.vertexNode = append(g.vertexNode, i)
			g.numVerts++
		} else {
			vertOut[i] = vertIn[i]
		}
	}

	addArc := func(a arc) {
		if !math.IsInf(a.ub, 1) {
			g.finiteTotal += a.ub
		}
		g.finiteTotal += a.lb
		g.arcs = append(g.arcs, a)
	}

	for i := 0; i < net.Len(); i++ {
		def := net.NodeAt(i)
		lo, hi, cost := rp.MinFlow[i], rp.MaxFlow[i], rp.Cost[i]

		switch def.Kind {
		case model.KindInput:
			if lo > hi {
				return nil, boundConflict(rp.Step, def.Name, lo, hi)
			}
			addArc(arc{from: vertSource, to: vertIn[i], lb: lo, ub: hi, cost: cost, kind: arcNode, nodeIdx: i, edgeIdx: -1})

		case model.KindOutput:
			if lo > hi {
				return nil, boundConflict(rp.Step, def.Name, lo, hi)
			}
			addArc(arc{from: vertOut[i], to: vertSink, lb: lo, ub: hi, cost: cost, kind: arcNode, nodeIdx: i, edgeIdx: -1})

		case model.KindLink:
			if lo > hi {
				return nil, boundConflict(rp.Step, def.Name, lo, hi)
			}
			addArc(arc{from: vertIn[i], to: vertOut[i], lb: lo, ub: hi, cost: cost, kind: arcNode, nodeIdx: i, edgeIdx: -1})

		case model.KindStorage:
			volume, ok := state.Volume(def.Name)
			if !ok {
				return nil, fmt.Errorf("no tracked volume for storage %q", def.Name)
			}
			minVol, maxVol := storageBounds(*def)

			drawable := math.Min(volume-minVol, hi)
			if drawable < 0 {
				drawable = 0
			}
			if lo > drawable {
				return nil, &InfeasibleError{
					Step:   rp.Step,
					Nodes:  []string{def.Name},
					Detail: fmt.Sprintf("minimum release %g exceeds drawable volume %g", lo, drawable),
				}
			}
			headroom := math.Min(maxVol-volume, hi)
			if headroom < 0 {
				headroom = 0
			}
			addArc(arc{from: vertSource, to: vertIn[i], lb: lo, ub: drawable, cost: cost, kind: arcRelease, nodeIdx: i, edgeIdx: -1})
			addArc(arc{from: vertOut[i], to: vertSink, lb: 0, ub: headroom, cost: -cost, kind: arcRefill, nodeIdx: i, edgeIdx: -1})
		}
	}

	for ei, e := range net.Edges() {
		from := vertOut[net.index[e.From]]
		to := vertIn[net.index[e.To]]
		addArc(arc{from: from, to: to, lb: 0, ub: math.Inf(1), cost: 0, kind: arcEdge, nodeIdx: -1, edgeIdx: ei})
	}

	addArc(arc{from: vertSink, to: vertSource, lb: 0, ub: math.Inf(1), cost: 0, kind: arcReturn, nodeIdx: -1, edgeIdx: -1})

	// Replace unbounded capacities with a finite surrogate strictly above
	// any flow a bounded optimum can carry.
	g.limit = g.finiteTotal + 1
	for i := range g.arcs {
		if math.IsInf(g.arcs[i].ub, 1) {
			g.arcs[i].ub = g.limit
			g.arcs[i].surrogate = true
		}
	}

	g.excess = make([]float64, g.numVerts)
	return g, nil
}

func boundConflict(step timestep.Timestep, node string, lo, hi float64) error {
	return &InfeasibleError{
		Step:   step,
		Nodes:  []string{node},
		Detail: fmt.Sprintf("minimum flow %g exceeds maximum flow %g", lo, hi),
	}
}

//
// ---------- Successive shortest paths ----------
//

// balance produces a feasible minimum-cost circulation. It seeds every arc
// at its lower bound, saturates negative-cost arcs, then repeatedly routes
// the resulting vertex imbalances along cheapest residual paths. Excess
// that cannot reach any deficit means the lower bounds are unsatisfiable.
func (g *flowGraph) balance() error {
	// 1) Seed flows: lower bounds always, full capacity where the arc
	// pays us to carry flow. Imbalances land in g.excess.
	for i := range g.arcs {
		a := &g.arcs[i]
		seed := a.lb
		if a.cost < 0 {
			seed = a.ub
		}
		if seed > 0 {
			a.flow = seed
			g.excess[a.to] += seed
			g.excess[a.from] -= seed
		}
	}

	// 2) Deliver every excess to a deficit along cheapest residual paths.
	for {
		src := -1
		for v := 0; v < g.numVerts; v++ {
			if g.excess[v] > flowEps {
				src = v
				break
			}
		}
		if src < 0 {
			return nil
		}

		dist, parentArc, parentRev := g.shortestPaths(src)

		// Nearest reachable deficit, lowest vertex index on ties.
		target := -1
		for v := 0; v < g.numVerts; v++ {
			if g.excess[v] < -flowEps && !math.IsInf(dist[v], 1) {
				if target < 0 || dist[v] < dist[target] {
					target = v
				}
			}
		}
		if target < 0 {
			return g.infeasible()
		}

		// Bottleneck along the parent chain, then push.
		push := math.Min(g.excess[src], -g.excess[target])
		for v := target; v != src; {
			a := &g.arcs[parentArc[v]]
			if parentRev[v] {
				push = math.Min(push, a.flow-a.lb)
				v = a.to
			} else {
				push = math.Min(push, a.ub-a.flow)
				v = a.from
			}
		}
		for v := target; v != src; {
			a := &g.arcs[parentArc[v]]
			if parentRev[v] {
				a.flow -= push
				v = a.to
			} else {
				a.flow += push
				v = a.from
			}
		}
		g.excess[src] -= push
		g.excess[target] += push
	}
}

// shortestPaths runs Bellman-Ford over the residual graph from src. Arcs
// relax in declaration order and only strict improvements update a vertex,
// so the parent forest is reproducible run to run. Residual arcs carry the
// arc cost forward and its negation backward.
func (g *flowGraph) shortestPaths(src int) (dist []float64, parentArc []int, parentRev []bool) {
	dist = make([]float64, g.numVerts)
	parentArc = make([]int, g.numVerts)
	parentRev = make([]bool, g.numVerts)
	for v := range dist {
		dist[v] = math.Inf(1)
		parentArc[v] = -1
	}
	dist[src] = 0

	for round := 0; round < g.numVerts; round++ {
		improved := false
		for ai := range g.arcs {
			a := &g.arcs[ai]
			if a.ub-a.flow > flowEps && !math.IsInf(dist[a.from], 1) {
				if nd := dist[a.from] + a.cost; nd < dist[a.to] {
					dist[a.to] = nd
					parentArc[a.to] = ai
					parentRev[a.to] = false
					improved = true
				}
			}
			if a.flow-a.lb > flowEps && !math.IsInf(dist[a.to], 1) {
				if nd := dist[a.to] - a.cost; nd < dist[a.from] {
					dist[a.from] = nd
					parentArc[a.from] = ai
					parentRev[a.from] = true
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return dist, parentArc, parentRev
}

// infeasible names the nodes still carrying an imbalance once no residual
// path can move it.
func (g *flowGraph) infeasible() error {
	var names []string
	seen := make(map[string]bool)
	for v := 0; v < g.numVerts; v++ {
		if math.Abs(g.excess[v]) <= flowEps {
			continue
		}
		ni := g.vertexNode[v]
		if ni < 0 {
			continue
		}
		name := g.net.NodeAt(ni).Name
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return &InfeasibleError{
		Step:   g.step,
		Nodes:  names,
		Detail: "minimum flows cannot be satisfied by connected capacity",
	}
}

// checkBounded rejects solutions that lean on a surrogate capacity. Any
// such arc carrying more than the sum of the model's finite bounds can
// only be part of an endlessly improving cycle.
func (g *flowGraph) checkBounded() error {
	for i := range g.arcs {
		a := &g.arcs[i]
		if !a.surrogate || a.flow <= g.finiteTotal+flowEps {
			continue
		}
		if a.nodeIdx >= 0 {
			return fmt.Errorf("%w: unlimited capacity at node %q on a negative-cost route", ErrUnbounded, g.net.NodeAt(a.nodeIdx).Name)
		}
		return fmt.Errorf("%w: unlimited-capacity route carries negative total cost", ErrUnbounded)
	}
	return nil
}

//
// ---------- Result extraction ----------
//

// assignment reads flows back out of the arc set. Tiny numerical residue
// below the flow tolerance is snapped to zero.
func (g *flowGraph) assignment() *FlowAssignment {
	fa := &FlowAssignment{
		Step:      g.step,
		EdgeFlows: make([]float64, len(g.net.edges)),
		NodeFlows: make([]float64, g.net.Len()),
	}

	for i := range g.arcs {
		a := &g.arcs[i]
		if a.flow < flowEps {
			a.flow = 0
		}
		fa.Objective += a.flow * a.cost

		switch a.kind {
		case arcNode:
			fa.NodeFlows[a.nodeIdx] = a.flow
		case arcRelease:
			fa.NodeFlows[a.nodeIdx] += a.flow
		case arcRefill:
			fa.NodeFlows[a.nodeIdx] -= a.flow
		case arcEdge:
			fa.EdgeFlows[a.edgeIdx] = a.flow
		}
	}
	return fa
}
