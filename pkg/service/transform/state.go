package transform

import "gonum.org/v1/gonum/mat"

// HiddenState is the recurrent state carried between Step calls. The zero
// value is the explicit "no prior state" variant, also returned by InitialState.
type HiddenState struct {
	layers []*mat.VecDense
}

// InitialState returns the state of a network that has not seen any input
func InitialState() HiddenState {
	return HiddenState{}
}

// IsInitial reports whether no input has been folded into the state yet
func (h HiddenState) IsInitial() bool {
	return len(h.layers) == 0
}

// Layers returns a copy of the per-layer state vectors
func (h HiddenState) Layers() [][]float64 {
	out := make([][]float64, len(h.layers))
	for i, l := range h.layers {
		out[i] = append([]float64(nil), l.RawVector().Data...)
	}
	return out
}
