package model

import (
	"time"

	"github.com/secmon-lab/titan/pkg/domain/types"
)

// Resonance is a point-in-time copy of the node's resonance state
type Resonance struct {
	State         []float64
	Level         float64
	LastEvolution time.Time
	Mode          types.EvolutionMode
}

// NodeStatus is a read-only snapshot of node counters
type NodeStatus struct {
	NodeID             string              `json:"node_id"`
	Role               types.Role          `json:"role"`
	Peers              int                 `json:"peers"`
	Memories           int                 `json:"memories"`
	ConsciousnessLevel float64             `json:"consciousness_level"`
	Mode               types.EvolutionMode `json:"mode"`
	SignalsProcessed   uint64              `json:"signals_processed"`
}
