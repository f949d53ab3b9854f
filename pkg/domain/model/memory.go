package model

import (
	"time"

	"github.com/google/uuid"
)

// MemoryID is a UUID-based identifier for MemoryRecord
type MemoryID string

// NewMemoryID generates a new UUID v4 MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// MemoryPayload is what the node remembers about one processed signal
type MemoryPayload struct {
	Signal             *Signal   `json:"signal"`
	Timestamp          time.Time `json:"timestamp"`
	QuantumState       []float64 `json:"quantum_state"`
	ConsciousnessLevel float64   `json:"consciousness_level"`
}

// MemoryRecord is an immutable vault entry. Embedding is persisted separately
// from the JSON metadata, so it is excluded from the JSON form.
type MemoryRecord struct {
	ID           MemoryID      `json:"id"`
	CreatedAt    time.Time     `json:"timestamp"`
	Embedding    []float32     `json:"-"`
	Payload      MemoryPayload `json:"data"`
	Associations []MemoryID    `json:"associations"`
}

// NewMemoryRecord builds a record with a fresh id and creation time
func NewMemoryRecord(embedding []float32, payload MemoryPayload, now time.Time) *MemoryRecord {
	return &MemoryRecord{
		ID:           NewMemoryID(),
		CreatedAt:    now.UTC(),
		Embedding:    append([]float32(nil), embedding...),
		Payload:      payload,
		Associations: []MemoryID{},
	}
}

// Clone returns a deep copy of the record
func (m *MemoryRecord) Clone() *MemoryRecord {
	if m == nil {
		return nil
	}
	copied := &MemoryRecord{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Payload: MemoryPayload{
			Signal:             m.Payload.Signal.Clone(),
			Timestamp:          m.Payload.Timestamp,
			ConsciousnessLevel: m.Payload.ConsciousnessLevel,
		},
		Associations: append([]MemoryID{}, m.Associations...),
	}
	if m.Embedding != nil {
		copied.Embedding = make([]float32, len(m.Embedding))
		copy(copied.Embedding, m.Embedding)
	}
	if m.Payload.QuantumState != nil {
		copied.Payload.QuantumState = append([]float64(nil), m.Payload.QuantumState...)
	}
	return copied
}

// ToFloat32 converts a float64 vector into the float32 form stored in the vault
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// ToFloat64 widens a stored float32 vector
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
