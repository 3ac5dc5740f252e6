// Package model defines the vocabulary of a basin network: node and edge
// definitions plus the time-varying parameters attached to them. It carries
// no engine logic; building and validating a runnable network happens in the
// core package.
package model

// NodeKind identifies the hydraulic role of a node.
type NodeKind string

const (
	// KindInput introduces flow into the network, e.g. a catchment.
	KindInput NodeKind = "input"
	// KindOutput removes flow from the network, e.g. a demand centre.
	KindOutput NodeKind = "output"
	// KindLink conveys flow between nodes, e.g. a river reach or canal.
	KindLink NodeKind = "link"
	// KindStorage holds volume across timesteps, e.g. a reservoir.
	KindStorage NodeKind = "storage"
)

// Valid reports whether k is one of the declared node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindInput, KindOutput, KindLink, KindStorage:
		return true
	}
	return false
}

// NodeDefinition declares one node of the network. Name must be unique
// within a model; edges reference nodes by name.
type NodeDefinition struct {
	Name string
	Kind NodeKind

	// Flow attributes, resolved per timestep. A nil MaxFlow means
	// unconstrained, a nil MinFlow means zero, a nil Cost means zero.
	MaxFlow Parameter
	MinFlow Parameter
	Cost    Parameter

	// Volume attributes, meaningful only for KindStorage. A nil MaxVolume
	// means unbounded above and a nil MinVolume means zero. InitialVolume
	// is required for storage nodes.
	MaxVolume     *float64
	MinVolume     *float64
	InitialVolume *float64
}

// EdgeDefinition declares a directed connection between two named nodes.
// Edges carry no bounds of their own; the nodes they join do the limiting.
type EdgeDefinition struct {
	From string
	To   string
}
