package catalog

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusIDField     = "id"
	milvusVectorField = "vector"
	milvusTextField   = "text"
	milvusMaxIDLength = 64
	milvusMaxText     = 1024
)

// MilvusConfig configures a MilvusIndex.
type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	Collection string
	// Dimensions of the embedding model, used when creating the collection.
	Dimensions int
}

// MilvusIndex stores catalog vectors in a Milvus collection using the
// cosine metric.
type MilvusIndex struct {
	client     client.Client
	collection string
	dims       int
}

var _ Index = (*MilvusIndex)(nil)

func NewMilvusIndex(ctx context.Context, cfg MilvusConfig) (*MilvusIndex, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("milvus collection is required")
	}
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus at %s: %w", cfg.Address, err)
	}
	return &MilvusIndex{client: c, collection: cfg.Collection, dims: cfg.Dimensions}, nil
}

// EnsureCollection creates and loads the collection if it does not exist.
func (m *MilvusIndex) EnsureCollection(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("checking collection %q: %w", m.collection, err)
	}
	if !exists {
		if m.dims <= 0 {
			return fmt.Errorf("creating collection %q: embedding dimensions not configured", m.collection)
		}
		schema := entity.NewSchema().
			WithName(m.collection).
			WithDescription("library LP catalog embeddings").
			WithField(entity.NewField().
				WithName(milvusIDField).
				WithDataType(entity.FieldTypeVarChar).
				WithIsPrimaryKey(true).
				WithMaxLength(milvusMaxIDLength)).
			WithField(entity.NewField().
				WithName(milvusVectorField).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(m.dims))).
			WithField(entity.NewField().
				WithName(milvusTextField).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(milvusMaxText))
		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("creating collection %q: %w", m.collection, err)
		}
		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return fmt.Errorf("building index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collection, milvusVectorField, idx, false); err != nil {
			return fmt.Errorf("creating index on %q: %w", m.collection, err)
		}
	}
	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("loading collection %q: %w", m.collection, err)
	}
	return nil
}

func (m *MilvusIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, fmt.Errorf("building search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collection,
		[]string{},
		"",
		[]string{milvusIDField},
		[]entity.Vector{entity.FloatVector(vector)},
		milvusVectorField,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", m.collection, err)
	}

	var matches []Match
	for _, result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("searching %q: %w", m.collection, result.Err)
		}
		ids, ok := result.IDs.(*entity.ColumnVarChar)
		if !ok {
			return nil, fmt.Errorf("searching %q: unexpected id column %T", m.collection, result.IDs)
		}
		for i, id := range ids.Data() {
			matches = append(matches, Match{ID: id, Score: float64(result.Scores[i])})
		}
	}
	return matches, nil
}

func (m *MilvusIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if err := checkBatch(vectors); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	cols, err := milvusColumns(vectors)
	if err != nil {
		return err
	}
	if _, err := m.client.Upsert(ctx, m.collection, "", cols...); err != nil {
		return fmt.Errorf("upserting into %q: %w", m.collection, err)
	}
	return nil
}

func (m *MilvusIndex) Close() error {
	return m.client.Close()
}

func milvusColumns(vectors []Vector) ([]entity.Column, error) {
	dims := len(vectors[0].Values)
	ids := make([]string, len(vectors))
	values := make([][]float32, len(vectors))
	texts := make([]string, len(vectors))
	for i, v := range vectors {
		if len(v.Values) != dims {
			return nil, fmt.Errorf("vector %q has %d dimensions, want %d", v.ID, len(v.Values), dims)
		}
		ids[i] = v.ID
		values[i] = v.Values
		texts[i] = truncateUTF8(v.Metadata["text"], milvusMaxText)
	}
	return []entity.Column{
		entity.NewColumnVarChar(milvusIDField, ids),
		entity.NewColumnFloatVector(milvusVectorField, dims, values),
		entity.NewColumnVarChar(milvusTextField, texts),
	}, nil
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
