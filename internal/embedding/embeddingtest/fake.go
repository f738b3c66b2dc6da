// Package embeddingtest provides an in-memory Embedder for tests.
package embeddingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ademuri/vinyl-search/internal/embedding"
)

// Fake returns a fixed vector per text. Texts without a configured vector
// get a distinct one-hot vector so that unrelated texts never match.
type Fake struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dims    int
	next    int
	calls   int
	texts   []string
	Err     error
}

var _ embedding.Embedder = (*Fake)(nil)

func New(dims int) *Fake {
	return &Fake{vectors: make(map[string][]float32), dims: dims}
}

// Set assigns the vector returned for text.
func (f *Fake) Set(text string, vector []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(vector) != f.dims {
		panic(fmt.Sprintf("embeddingtest: vector for %q has %d dims, want %d", text, len(vector), f.dims))
	}
	f.vectors[text] = vector
}

func (f *Fake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if len(texts) > embedding.MaxBatch {
		return nil, embedding.ErrBatchTooLarge
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		f.texts = append(f.texts, text)
		v, ok := f.vectors[text]
		if !ok {
			v = make([]float32, f.dims)
			v[f.next%f.dims] = 1
			f.next++
			f.vectors[text] = v
		}
		out[i] = v
	}
	return out, nil
}

// Calls is the number of Embed invocations so far.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Texts lists every text embedded so far, in request order.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}
