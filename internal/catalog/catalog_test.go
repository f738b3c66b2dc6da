package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexQueryOrdersByScore(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []Vector{
		{ID: "far", Values: []float32{0, 1}},
		{ID: "exact", Values: []float32{1, 0}},
		{ID: "near", Values: []float32{0.9, 0.1}},
	}))

	matches, err := idx.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "near", matches[1].ID)

	matches, err = idx.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestMemoryIndexUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, []Vector{{ID: "a", Values: []float32{0, 1}}}))
	require.NoError(t, idx.Upsert(ctx, []Vector{{ID: "a", Values: []float32{1, 0}}}))
	assert.Equal(t, 1, idx.Len())

	matches, err := idx.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestMemoryIndexEmpty(t *testing.T) {
	matches, err := NewMemoryIndex().Query(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestUpsertBatchLimit(t *testing.T) {
	err := NewMemoryIndex().Upsert(context.Background(), make([]Vector, MaxUpsertBatch+1))
	assert.True(t, errors.Is(err, ErrBatchTooLarge))
}

type sliceStore struct {
	vectors []Vector
}

func (s *sliceStore) UpsertVectors(_ context.Context, vectors []Vector) error {
	s.vectors = append(s.vectors, vectors...)
	return nil
}

func (s *sliceStore) EachVector(_ context.Context, fn func(string, []float32) error) error {
	for _, v := range s.vectors {
		if err := fn(v.ID, v.Values); err != nil {
			return err
		}
	}
	return nil
}

func TestSQLiteIndexRanksStoredVectors(t *testing.T) {
	ctx := context.Background()
	idx := NewSQLiteIndex(&sliceStore{})
	require.NoError(t, idx.Upsert(ctx, []Vector{
		{ID: "S1", Values: []float32{0.2, 0.8}},
		{ID: "S2", Values: []float32{0.8, 0.2}},
	}))

	matches, err := idx.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "S2", matches[0].ID)
}

func TestMilvusColumns(t *testing.T) {
	cols, err := milvusColumns([]Vector{
		{ID: "S1", Values: []float32{1, 0, 0}, Metadata: map[string]string{"text": "the album A by B"}},
		{ID: "S2", Values: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
	require.Len(t, cols, 3)

	ids, ok := cols[0].(*entity.ColumnVarChar)
	require.True(t, ok)
	assert.Equal(t, []string{"S1", "S2"}, ids.Data())
	assert.Equal(t, 2, cols[1].Len())

	_, err = milvusColumns([]Vector{
		{ID: "S1", Values: []float32{1, 0}},
		{ID: "S2", Values: []float32{1}},
	})
	assert.Error(t, err)
}

func TestQueryRejectsVectorsOfOtherDimensions(t *testing.T) {
	ctx := context.Background()
	stored := []Vector{
		{ID: "S1", Values: []float32{1, 0}},
		{ID: "S2", Values: []float32{1, 0, 0}},
	}

	mem := NewMemoryIndex()
	require.NoError(t, mem.Upsert(ctx, stored))
	assert.NotPanics(t, func() {
		_, err := mem.Query(ctx, []float32{1, 0}, 1)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	idx := NewSQLiteIndex(&sliceStore{})
	require.NoError(t, idx.Upsert(ctx, stored))
	assert.NotPanics(t, func() {
		_, err := idx.Query(ctx, []float32{1, 0}, 1)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "short", truncateUTF8("short", 10))
	assert.Equal(t, "abc", truncateUTF8("abcdef", 3))

	// "é" is two bytes; cutting at byte 2 would split it.
	got := truncateUTF8("aéb", 2)
	assert.Equal(t, "a", got)
	assert.True(t, utf8.ValidString(got))

	long := strings.Repeat("ü", milvusMaxText)
	got = truncateUTF8(long, milvusMaxText)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), milvusMaxText)
	assert.Equal(t, milvusMaxText/2, utf8.RuneCountInString(got))
}
