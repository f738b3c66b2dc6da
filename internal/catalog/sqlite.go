package catalog

import (
	"context"
	"fmt"
)

// VectorStore persists catalog vectors. It is implemented by the SQLite
// store.
type VectorStore interface {
	UpsertVectors(ctx context.Context, vectors []Vector) error
	// EachVector calls fn for every stored vector, in insertion order.
	EachVector(ctx context.Context, fn func(id string, values []float32) error) error
}

// SQLiteIndex answers queries with an exact scan over a VectorStore. A
// library's LP holdings number in the tens of thousands, which an exact scan
// handles comfortably from a CLI.
type SQLiteIndex struct {
	store VectorStore
}

var _ Index = (*SQLiteIndex)(nil)

func NewSQLiteIndex(store VectorStore) *SQLiteIndex {
	return &SQLiteIndex{store: store}
}

func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	r := newRanker(vector, topK)
	err := s.store.EachVector(ctx, r.add)
	if err != nil {
		return nil, fmt.Errorf("scanning catalog vectors: %w", err)
	}
	return r.result(), nil
}

func (s *SQLiteIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if err := checkBatch(vectors); err != nil {
		return err
	}
	if err := s.store.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("upserting catalog vectors: %w", err)
	}
	return nil
}
