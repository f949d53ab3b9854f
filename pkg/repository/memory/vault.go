package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/interfaces"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"gonum.org/v1/gonum/floats"
)

// Vault is an in-memory, append-only memory vault with an exact L2 index.
// records[i] and index[i] always describe the same entry.
type Vault struct {
	mu        sync.RWMutex
	dimension int
	records   []*model.MemoryRecord
	index     [][]float64
	byID      map[model.MemoryID]int
	now       func() time.Time
}

var _ interfaces.VaultRepository = &Vault{}

// Option configures a Vault
type Option func(*Vault)

// WithClock overrides the clock used for record creation timestamps
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// New creates an empty vault for embeddings of the given dimension
func New(dimension int, opts ...Option) *Vault {
	v := &Vault{
		dimension: dimension,
		byID:      make(map[model.MemoryID]int),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewRecord validates the embedding and builds a record ready for Insert
func (v *Vault) NewRecord(embedding []float32, payload model.MemoryPayload) (*model.MemoryRecord, error) {
	if len(embedding) != v.dimension {
		return nil, goerr.Wrap(ErrDimensionMismatch, "embedding has wrong dimension",
			goerr.V("expected", v.dimension), goerr.V("actual", len(embedding)))
	}
	return model.NewMemoryRecord(embedding, payload, v.now()), nil
}

// Insert appends an already built record to the vault. Records whose ID is
// already present are rejected with ErrDuplicateID.
func (v *Vault) Insert(rec *model.MemoryRecord) error {
	if len(rec.Embedding) != v.dimension {
		return goerr.Wrap(ErrDimensionMismatch, "embedding has wrong dimension",
			goerr.V("expected", v.dimension), goerr.V("actual", len(rec.Embedding)), goerr.V("memory_id", rec.ID))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.byID[rec.ID]; exists {
		return goerr.Wrap(ErrDuplicateID, "memory already stored", goerr.V("memory_id", rec.ID))
	}

	stored := rec.Clone()
	v.byID[stored.ID] = len(v.records)
	v.records = append(v.records, stored)
	v.index = append(v.index, model.ToFloat64(stored.Embedding))
	return nil
}

// Has reports whether a record with id is stored
func (v *Vault) Has(id model.MemoryID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.byID[id]
	return ok
}

// Records returns copies of all records in insertion order
func (v *Vault) Records() []*model.MemoryRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()

	result := make([]*model.MemoryRecord, len(v.records))
	for i, rec := range v.records {
		result[i] = rec.Clone()
	}
	return result
}

func (v *Vault) Add(ctx context.Context, embedding []float32, payload model.MemoryPayload) (model.MemoryID, error) {
	rec, err := v.NewRecord(embedding, payload)
	if err != nil {
		return "", err
	}
	if err := v.Insert(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (v *Vault) Get(ctx context.Context, id model.MemoryID) (*model.MemoryRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	idx, exists := v.byID[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "memory not found", goerr.V("memory_id", id))
	}
	return v.records[idx].Clone(), nil
}

func (v *Vault) Search(ctx context.Context, query []float32, k int) ([]*model.MemoryRecord, error) {
	if len(query) != v.dimension {
		return nil, goerr.Wrap(ErrDimensionMismatch, "query has wrong dimension",
			goerr.V("expected", v.dimension), goerr.V("actual", len(query)))
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if k <= 0 || len(v.records) == 0 {
		return []*model.MemoryRecord{}, nil
	}

	type scored struct {
		pos      int
		distance float64
	}

	q := model.ToFloat64(query)
	candidates := make([]scored, len(v.index))
	for i, row := range v.index {
		candidates[i] = scored{pos: i, distance: floats.Distance(q, row, 2)}
	}

	// Stable sort keeps insertion order among equal distances
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	if k > len(candidates) {
		k = len(candidates)
	}

	result := make([]*model.MemoryRecord, k)
	for i := 0; i < k; i++ {
		result[i] = v.records[candidates[i].pos].Clone()
	}
	return result, nil
}

func (v *Vault) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

func (v *Vault) Dimension() int {
	return v.dimension
}

func (v *Vault) Close() error {
	return nil
}
