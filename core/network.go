package core

import (
	"fmt"
	"math"

	"github.com/headwaterworks/basin-simulator/model"
)

// Network is a validated, immutable view of a model's nodes and edges.
// Nodes and edges keep their declaration order throughout; that order is
// the tie-break domain for every deterministic choice the solver makes.
// A Network is safe for concurrent readers once built.
type Network struct {
	nodes []model.NodeDefinition
	index map[string]int

	edges []model.EdgeDefinition

	outgoing map[string][]string
	incoming map[string][]string

	storage []string
}

// BuildNetwork validates node and edge definitions and assembles them into
// a Network. It fails with a *ValidationError on the first structural
// defect: duplicate or empty names, unknown kinds, edges referencing
// undeclared nodes, or inconsistent storage volumes.
func BuildNetwork(defs []model.NodeDefinition, edges []model.EdgeDefinition) (*Network, error) {
	n := &Network{
		nodes:    make([]model.NodeDefinition, 0, len(defs)),
		index:    make(map[string]int, len(defs)),
		edges:    make([]model.EdgeDefinition, 0, len(edges)),
		outgoing: make(map[string][]string, len(defs)),
		incoming: make(map[string][]string, len(defs)),
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, &ValidationError{Reason: "node with empty name"}
		}
		if !def.Kind.Valid() {
			return nil, &ValidationError{Node: def.Name, Field: "type", Reason: fmt.Sprintf("unknown node kind %q", def.Kind)}
		}
		if _, dup := n.index[def.Name]; dup {
			return nil, &ValidationError{Node: def.Name, Reason: "duplicate node name"}
		}
		if err := checkVolumes(def); err != nil {
			return nil, err
		}
		n.index[def.Name] = len(n.nodes)
		n.nodes = append(n.nodes, def)
		if def.Kind == model.KindStorage {
			n.storage = append(n.storage, def.Name)
		}
	}

	for _, e := range edges {
		if _, ok := n.index[e.From]; !ok {
			return nil, &ValidationError{Node: e.From, Field: "edge", Reason: fmt.Sprintf("edge %q -> %q references undeclared node %q", e.From, e.To, e.From)}
		}
		if _, ok := n.index[e.To]; !ok {
			return nil, &ValidationError{Node: e.To, Field: "edge", Reason: fmt.Sprintf("edge %q -> %q references undeclared node %q", e.From, e.To, e.To)}
		}
		n.edges = append(n.edges, e)
		n.outgoing[e.From] = append(n.outgoing[e.From], e.To)
		n.incoming[e.To] = append(n.incoming[e.To], e.From)
	}

	return n, nil
}

// checkVolumes enforces the storage volume invariant at declaration time:
// min_volume <= initial_volume <= max_volume, with min defaulting to zero
// and max to unbounded. Non-storage nodes may not declare volumes at all.
func checkVolumes(def model.NodeDefinition) error {
	if def.Kind != model.KindStorage {
		switch {
		case def.MaxVolume != nil:
			return &ValidationError{Node: def.Name, Field: "max_volume", Reason: "only storage nodes may declare volumes"}
		case def.MinVolume != nil:
			return &ValidationError{Node: def.Name, Field: "min_volume", Reason: "only storage nodes may declare volumes"}
		case def.InitialVolume != nil:
			return &ValidationError{Node: def.Name, Field: "initial_volume", Reason: "only storage nodes may declare volumes"}
		}
		return nil
	}

	if def.InitialVolume == nil {
		return &ValidationError{Node: def.Name, Field: "initial_volume", Reason: "storage node requires an initial volume"}
	}
	minV, maxV := storageBounds(def)
	if minV > maxV {
		return &ValidationError{Node: def.Name, Field: "min_volume", Reason: fmt.Sprintf("min volume %g exceeds max volume %g", minV, maxV)}
	}
	if iv := *def.InitialVolume; iv < minV || iv > maxV {
		return &ValidationError{Node: def.Name, Field: "initial_volume", Reason: fmt.Sprintf("initial volume %g outside [%g, %g]", iv, minV, maxV)}
	}
	return nil
}

// storageBounds returns the effective [min, max] volume bounds of a storage
// node, applying the defaults for absent fields.
func storageBounds(def model.NodeDefinition) (float64, float64) {
	minV := 0.0
	if def.MinVolume != nil {
		minV = *def.MinVolume
	}
	maxV := math.Inf(1)
	if def.MaxVolume != nil {
		maxV = *def.MaxVolume
	}
	return minV, maxV
}

//
// ---------- Read accessors ----------
//

// Len returns the number of nodes.
func (n *Network) Len() int { return len(n.nodes) }

// NodeAt returns the i-th node in declaration order.
func (n *Network) NodeAt(i int) *model.NodeDefinition { return &n.nodes[i] }

// Node returns the named node, or nil if it is not part of the network.
func (n *Network) Node(name string) *model.NodeDefinition {
	i, ok := n.index[name]
	if !ok {
		return nil
	}
	return &n.nodes[i]
}

// Nodes returns all nodes in declaration order.
func (n *Network) Nodes() []*model.NodeDefinition {
	out := make([]*model.NodeDefinition, len(n.nodes))
	for i := range n.nodes {
		out[i] = &n.nodes[i]
	}
	return out
}

// StorageNodes returns the storage nodes in declaration order.
func (n *Network) StorageNodes() []*model.NodeDefinition {
	out := make([]*model.NodeDefinition, 0, len(n.storage))
	for _, name := range n.storage {
		out = append(out, &n.nodes[n.index[name]])
	}
	return out
}

// Edges returns all edges in declaration order.
func (n *Network) Edges() []model.EdgeDefinition {
	out := make([]model.EdgeDefinition, len(n.edges))
	copy(out, n.edges)
	return out
}

// Outgoing returns the successors of the named node in edge declaration
// order, including repeats for parallel edges.
func (n *Network) Outgoing(name string) []string {
	out := make([]string, len(n.outgoing[name]))
	copy(out, n.outgoing[name])
	return out
}

// Incoming returns the predecessors of the named node in edge declaration
// order, including repeats for parallel edges.
func (n *Network) Incoming(name string) []string {
	out := make([]string, len(n.incoming[name]))
	copy(out, n.incoming[name])
	return out
}
