// Package embedding turns "album by artist" text into vectors and compares
// them.
//
// Clustering of listened albums and matching against the library catalog
// both use the same text format, the same similarity measure and the same
// equality threshold, so that a vector produced during catalog ingestion is
// directly comparable with one produced while resolving a user's albums.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ademuri/vinyl-search/internal/upstream"
)

// MaxBatch is the most texts an Embedder accepts in one call.
const MaxBatch = 100

var ErrBatchTooLarge = errors.New("embedding batch too large")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per text, in input order. Callers must not
	// pass more than MaxBatch texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Text returns the text to generate an album embedding from.
func Text(title string, artists []string) string {
	// Some catalogs credit artists as "Petty, Tom", so a comma is ambiguous
	// as a list separator.
	return fmt.Sprintf("the album %s by %s", title, strings.Join(artists, " and "))
}

// EmbedAll embeds any number of texts, splitting them into MaxBatch sized
// requests.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, batch := range Chunk(texts, MaxBatch) {
		got, err := e.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d: %w", i, err)
		}
		if len(got) != len(batch) {
			return nil, fmt.Errorf("embedding batch %d: got %d vectors for %d texts", i, len(got), len(batch))
		}
		vectors = append(vectors, got...)
	}
	if err := CheckDimensions("embedding", vectors, 0); err != nil {
		return nil, err
	}
	return vectors, nil
}

// CheckDimensions returns a malformed response error unless every vector is
// non-empty and has the same length. A positive dims also fixes that length.
func CheckDimensions(service string, vectors [][]float32, dims int) error {
	for i, v := range vectors {
		if len(v) == 0 {
			return upstream.Malformed(service, fmt.Errorf("empty embedding for input %d", i))
		}
		if dims <= 0 {
			dims = len(v)
		}
		if len(v) != dims {
			return upstream.Malformed(service, fmt.Errorf("embedding for input %d has %d dimensions, want %d", i, len(v), dims))
		}
	}
	return nil
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		panic(fmt.Sprintf("embedding: invalid chunk size %d", size))
	}
	var chunks [][]T
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
