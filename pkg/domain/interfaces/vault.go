package interfaces

import (
	"context"

	"github.com/secmon-lab/titan/pkg/domain/model"
)

// VaultRepository is the append-only store of memory records and their embeddings
type VaultRepository interface {
	// Add assigns a fresh id and creation time, stores the record, and returns
	// only after the record is durable for the backend.
	Add(ctx context.Context, embedding []float32, payload model.MemoryPayload) (model.MemoryID, error)

	// Get retrieves a record by ID
	Get(ctx context.Context, id model.MemoryID) (*model.MemoryRecord, error)

	// Search returns up to k records ordered by ascending Euclidean distance to
	// query. Equal distances keep insertion order.
	Search(ctx context.Context, query []float32, k int) ([]*model.MemoryRecord, error)

	// Count returns the number of stored records. Safe to call concurrently with Add.
	Count() int

	// Dimension returns the embedding dimension the vault accepts
	Dimension() int

	// Close releases resources held by the vault
	Close() error
}
