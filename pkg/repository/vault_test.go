package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/titan/pkg/domain/interfaces"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/repository/file"
	"github.com/secmon-lab/titan/pkg/repository/memory"
	"gonum.org/v1/gonum/floats"
)

func newPayload(thought string) model.MemoryPayload {
	return model.MemoryPayload{
		Signal: &model.Signal{
			Glyph:    "Ω7",
			Payload:  model.Payload{Thought: thought, Origin: "X", Pulse: 35, SigStrength: 0.8},
			EchoPath: []string{"EM-abc"},
		},
		QuantumState:       []float64{1, 0, 0},
		ConsciousnessLevel: 0.1,
	}
}

func runVaultTest(t *testing.T, newVault func(t *testing.T, dimension int) interfaces.VaultRepository) {
	t.Helper()

	t.Run("Add assigns unique ids and stores a copy", func(t *testing.T) {
		vault := newVault(t, 3)
		ctx := context.Background()

		embedding := []float32{0.1, 0.2, 0.3}
		id1, err := vault.Add(ctx, embedding, newPayload("first"))
		gt.NoError(t, err).Required()
		id2, err := vault.Add(ctx, []float32{0.3, 0.2, 0.1}, newPayload("second"))
		gt.NoError(t, err).Required()

		gt.String(t, string(id1)).NotEqual("")
		gt.Value(t, id1).NotEqual(id2)
		gt.Value(t, vault.Count()).Equal(2)

		embedding[0] = 99
		got, err := vault.Get(ctx, id1)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Embedding).Equal([]float32{0.1, 0.2, 0.3})
		gt.Value(t, got.Payload.Signal.Payload.Thought).Equal("first")
		gt.Array(t, got.Associations).Length(0)
		gt.Bool(t, got.CreatedAt.IsZero()).False()
	})

	t.Run("Get returns a copy that does not alias the store", func(t *testing.T) {
		vault := newVault(t, 3)
		ctx := context.Background()

		id, err := vault.Add(ctx, []float32{1, 2, 3}, newPayload("immutable"))
		gt.NoError(t, err).Required()

		got, err := vault.Get(ctx, id)
		gt.NoError(t, err).Required()
		got.Embedding[0] = -1
		got.Payload.Signal.Glyph = "changed"

		again, err := vault.Get(ctx, id)
		gt.NoError(t, err).Required()
		gt.Value(t, again.Embedding[0]).Equal(float32(1))
		gt.Value(t, again.Payload.Signal.Glyph).Equal("Ω7")
	})

	t.Run("Get returns error for unknown id", func(t *testing.T) {
		vault := newVault(t, 3)
		_, err := vault.Get(context.Background(), "non-existent-id")
		gt.Error(t, err).Is(memory.ErrNotFound)
	})

	t.Run("Add rejects embeddings of the wrong dimension", func(t *testing.T) {
		vault := newVault(t, 3)
		_, err := vault.Add(context.Background(), []float32{1, 2}, newPayload("short"))
		gt.Error(t, err).Is(memory.ErrDimensionMismatch)
		gt.Value(t, vault.Count()).Equal(0)
	})

	t.Run("Search on empty vault returns empty result", func(t *testing.T) {
		vault := newVault(t, 3)
		results, err := vault.Search(context.Background(), []float32{0, 0, 0}, 5)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(0)
	})

	t.Run("Search returns the nearest neighbour", func(t *testing.T) {
		vault := newVault(t, 3)
		ctx := context.Background()

		var ids []model.MemoryID
		for i, v := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
			id, err := vault.Add(ctx, v, newPayload(fmt.Sprintf("axis-%d", i)))
			gt.NoError(t, err).Required()
			ids = append(ids, id)
		}

		results, err := vault.Search(ctx, []float32{0, 1, 0.01}, 1)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1)
		gt.Value(t, results[0].ID).Equal(ids[1])
	})

	t.Run("Search returns min(k, size) records sorted by distance", func(t *testing.T) {
		vault := newVault(t, 3)
		ctx := context.Background()

		const n = 7
		for i := 0; i < n; i++ {
			v := []float32{float32(i), float32(i * i % 5), float32(n - i)}
			_, err := vault.Add(ctx, v, newPayload(fmt.Sprintf("m-%d", i)))
			gt.NoError(t, err).Required()
		}

		query := []float32{2, 1, 3}
		all, err := vault.Search(ctx, query, n+3)
		gt.NoError(t, err).Required()
		gt.Array(t, all).Length(n)

		some, err := vault.Search(ctx, query, 3)
		gt.NoError(t, err).Required()
		gt.Array(t, some).Length(3)

		q := model.ToFloat64(query)
		prev := -1.0
		for _, rec := range all {
			d := floats.Distance(q, model.ToFloat64(rec.Embedding), 2)
			gt.Bool(t, d >= prev).True()
			prev = d
		}
		for i := range some {
			gt.Value(t, some[i].ID).Equal(all[i].ID)
		}
	})

	t.Run("Search breaks distance ties by insertion order", func(t *testing.T) {
		vault := newVault(t, 2)
		ctx := context.Background()

		first, err := vault.Add(ctx, []float32{1, 0}, newPayload("first"))
		gt.NoError(t, err).Required()
		second, err := vault.Add(ctx, []float32{0, 1}, newPayload("second"))
		gt.NoError(t, err).Required()
		third, err := vault.Add(ctx, []float32{-1, 0}, newPayload("third"))
		gt.NoError(t, err).Required()

		results, err := vault.Search(ctx, []float32{0, 0}, 3)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(3)
		gt.Value(t, results[0].ID).Equal(first)
		gt.Value(t, results[1].ID).Equal(second)
		gt.Value(t, results[2].ID).Equal(third)
	})

	t.Run("Search with non-positive k returns empty", func(t *testing.T) {
		vault := newVault(t, 2)
		ctx := context.Background()
		_, err := vault.Add(ctx, []float32{1, 0}, newPayload("only"))
		gt.NoError(t, err).Required()

		results, err := vault.Search(ctx, []float32{1, 0}, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(0)
	})

	t.Run("Search rejects query of the wrong dimension", func(t *testing.T) {
		vault := newVault(t, 2)
		_, err := vault.Search(context.Background(), []float32{1, 0, 0}, 1)
		gt.Bool(t, errors.Is(err, memory.ErrDimensionMismatch)).True()
	})
}

func TestMemoryVault(t *testing.T) {
	runVaultTest(t, func(t *testing.T, dimension int) interfaces.VaultRepository {
		return memory.New(dimension)
	})
}

func TestFileVault(t *testing.T) {
	runVaultTest(t, func(t *testing.T, dimension int) interfaces.VaultRepository {
		vault, err := file.New(context.Background(), t.TempDir(), dimension, file.WithCompactEvery(2))
		gt.NoError(t, err).Required()
		t.Cleanup(func() { _ = vault.Close() })
		return vault
	})
}
