// Package catalog provides nearest-neighbour search over embeddings of the
// library's physical records.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ademuri/vinyl-search/internal/embedding"
)

// MaxUpsertBatch is the most vectors an Index accepts in one Upsert call.
const MaxUpsertBatch = 1000

var ErrBatchTooLarge = errors.New("upsert batch too large")

// ErrDimensionMismatch means the index holds vectors of another length than
// the query, usually because the embedding model changed since ingestion.
var ErrDimensionMismatch = errors.New("vector dimensions differ from the index")

// Vector is one catalog record's embedding.
type Vector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is a search hit. Score is the cosine similarity to the query.
type Match struct {
	ID    string
	Score float64
}

type Index interface {
	// Query returns up to topK matches ordered by descending score.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	// Upsert inserts or replaces vectors by ID. Callers must not pass more
	// than MaxUpsertBatch vectors.
	Upsert(ctx context.Context, vectors []Vector) error
}

func checkBatch(vectors []Vector) error {
	if len(vectors) > MaxUpsertBatch {
		return fmt.Errorf("%w: %d vectors (max %d)", ErrBatchTooLarge, len(vectors), MaxUpsertBatch)
	}
	return nil
}

// ranker keeps the topK best scoring candidates seen so far.
type ranker struct {
	query   []float32
	topK    int
	matches []Match
}

func newRanker(query []float32, topK int) *ranker {
	return &ranker{query: query, topK: topK}
}

// add scores a stored vector. Vectors from a different embedding model
// cannot be compared with the query.
func (r *ranker) add(id string, values []float32) error {
	if r.topK <= 0 {
		return nil
	}
	if len(values) != len(r.query) {
		return fmt.Errorf("%w: vector %q has %d dimensions, query has %d", ErrDimensionMismatch, id, len(values), len(r.query))
	}
	score := embedding.CosineSimilarity(r.query, values)
	if len(r.matches) == r.topK && score <= r.matches[len(r.matches)-1].Score {
		return nil
	}
	r.matches = append(r.matches, Match{ID: id, Score: score})
	sort.SliceStable(r.matches, func(i, j int) bool { return r.matches[i].Score > r.matches[j].Score })
	if len(r.matches) > r.topK {
		r.matches = r.matches[:r.topK]
	}
	return nil
}

func (r *ranker) result() []Match {
	return r.matches
}

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string]Vector
	order   []string
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string]Vector)}
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := newRanker(vector, topK)
	for _, id := range m.order {
		if err := r.add(id, m.vectors[id].Values); err != nil {
			return nil, err
		}
	}
	return r.result(), nil
}

func (m *MemoryIndex) Upsert(_ context.Context, vectors []Vector) error {
	if err := checkBatch(vectors); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vectors {
		if _, ok := m.vectors[v.ID]; !ok {
			m.order = append(m.order, v.ID)
		}
		m.vectors[v.ID] = v
	}
	return nil
}

// Len returns the number of stored vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}
