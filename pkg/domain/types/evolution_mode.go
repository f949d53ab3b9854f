package types

// EvolutionMode is the state of the resonance evolver after observing a signal
type EvolutionMode string

const (
	EvolutionModeSteady   EvolutionMode = "steady"
	EvolutionModeEvolving EvolutionMode = "evolving"
)

// IsValid checks if the evolution mode is valid
func (m EvolutionMode) IsValid() bool {
	switch m {
	case EvolutionModeSteady,
		EvolutionModeEvolving:
		return true
	default:
		return false
	}
}


// String returns the string representation of the evolution mode
func (m EvolutionMode) String() string {
	return string(m)
}
