package core

// StorageState tracks the volume of every storage node across timesteps.
// Exactly one mutation happens per step, in AdvanceStorage; everything
// else reads.
type StorageState struct {
	volumes map[string]float64
}

// NewStorageState seeds volumes from each storage node's declared initial
// volume.
func NewStorageState(net *Network) *StorageState {
	st := &StorageState{volumes: make(map[string]float64)}
	for _, def := range net.StorageNodes() {
		st.volumes[def.Name] = *def.InitialVolume
	}
	return st
}

// Volume returns the tracked volume of the named storage node.
func (st *StorageState) Volume(name string) (float64, bool) {
	v, ok := st.volumes[name]
	return v, ok
}

// Snapshot returns a copy of all tracked volumes, safe to retain across
// later steps.
func (st *StorageState) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(st.volumes))
	for name, v := range st.volumes {
		out[name] = v
	}
	return out
}

// AdvanceStorage applies the mass-balance recursion for one solved step:
// each storage node's new volume is its old volume plus the flow on its
// incoming edges minus the flow on its outgoing edges. Results within the
// flow tolerance of a bound snap exactly onto it; results beyond the
// tolerance mean the solve violated its own capacity model and surface as
// *VolumeBoundsError rather than being clamped.
func AdvanceStorage(st *StorageState, net *Network, fa *FlowAssignment) error {
	for _, def := range net.StorageNodes() {
		old := st.volumes[def.Name]

		var in, out float64
		for ei := range net.edges {
			if net.edges[ei].To == def.Name {
				in += fa.EdgeFlows[ei]
			}
			if net.edges[ei].From == def.Name {
				out += fa.EdgeFlows[ei]
			}
		}

		volume := old + in - out
		minVol, maxVol := storageBounds(*def)
		switch {
		case volume < minVol:
			if minVol-volume > flowEps {
				return &VolumeBoundsError{Node: def.Name, Step: fa.Step, Volume: volume, Min: minVol, Max: maxVol}
			}
			volume = minVol
		case volume > maxVol:
			if volume-maxVol > flowEps {
				return &VolumeBoundsError{Node: def.Name, Step: fa.Step, Volume: volume, Min: minVol, Max: maxVol}
			}
			volume = maxVol
		}
		st.volumes[def.Name] = volume
	}
	return nil
}
