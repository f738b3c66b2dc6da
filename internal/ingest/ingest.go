// Package ingest fills the catalog index from the library's paginated search
// results.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ademuri/vinyl-search/internal/bibliocommons"
	"github.com/ademuri/vinyl-search/internal/catalog"
	"github.com/ademuri/vinyl-search/internal/embedding"
	"github.com/ademuri/vinyl-search/internal/ledger"
	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/upstream"
)

// PageFetcher returns one 1-based page of catalog search results.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (bibliocommons.Page, error)
}

type Pipeline struct {
	Source   PageFetcher
	Embedder embedding.Embedder
	Index    catalog.Index

	// Batch sizes default to the embedder and index limits.
	EmbedBatchSize  int
	UpsertBatchSize int

	Logger *slog.Logger
}

type Summary struct {
	Instance string `json:"instance" yaml:"instance"`
	Pages    int    `json:"pages" yaml:"pages"`
	Entries  int    `json:"entries" yaml:"entries"`
	Vectors  int    `json:"vectors" yaml:"vectors"`
	Batches  int    `json:"upsert_batches" yaml:"upsert_batches"`
}

type firstPage struct {
	Pages   int                  `json:"pages"`
	Entries []music.CatalogEntry `json:"entries"`
}

type upserted struct {
	Count int `json:"count"`
}

func (p *Pipeline) batchSizes() (int, int, error) {
	embedSize, upsertSize := p.EmbedBatchSize, p.UpsertBatchSize
	if embedSize == 0 {
		embedSize = embedding.MaxBatch
	}
	if upsertSize == 0 {
		upsertSize = catalog.MaxUpsertBatch
	}
	if embedSize < 0 || embedSize > embedding.MaxBatch {
		return 0, 0, fmt.Errorf("embed batch size %d out of range 1..%d", embedSize, embedding.MaxBatch)
	}
	if upsertSize < 0 || upsertSize > catalog.MaxUpsertBatch {
		return 0, 0, fmt.Errorf("upsert batch size %d out of range 1..%d", upsertSize, catalog.MaxUpsertBatch)
	}
	return embedSize, upsertSize, nil
}

// Run executes every step of the pipeline through l. Steps already recorded
// for l's instance are replayed rather than executed.
func (p *Pipeline) Run(ctx context.Context, l *ledger.Ledger) (Summary, error) {
	summary := Summary{Instance: l.Instance()}
	embedSize, upsertSize, err := p.batchSizes()
	if err != nil {
		return summary, err
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("instance", l.Instance())

	first, err := ledger.Do(ctx, l, "fetch-page-1", func(ctx context.Context) (firstPage, error) {
		page, err := p.Source.FetchPage(ctx, 1)
		if err != nil {
			return firstPage{}, classify(err)
		}
		return firstPage{Pages: page.Pages, Entries: page.Entries}, nil
	})
	if err != nil {
		return summary, err
	}
	summary.Pages = first.Pages
	entries := append([]music.CatalogEntry(nil), first.Entries...)

	for page := 2; page <= first.Pages; page++ {
		batch, err := ledger.Do(ctx, l, fmt.Sprintf("fetch-page-%d", page), func(ctx context.Context) ([]music.CatalogEntry, error) {
			result, err := p.Source.FetchPage(ctx, page)
			if err != nil {
				return nil, classify(err)
			}
			return result.Entries, nil
		})
		if err != nil {
			return summary, err
		}
		entries = append(entries, batch...)
	}
	summary.Entries = len(entries)
	logger.Info("fetched catalog", "pages", summary.Pages, "entries", summary.Entries)

	var vectors []catalog.Vector
	for i, batch := range embedding.Chunk(entries, embedSize) {
		// Every batch must match the dimensions of the ones before it.
		dims := 0
		if len(vectors) > 0 {
			dims = len(vectors[0].Values)
		}
		embedded, err := ledger.Do(ctx, l, fmt.Sprintf("embed-batch-%d", i), func(ctx context.Context) ([]catalog.Vector, error) {
			return p.embed(ctx, batch, dims)
		})
		if err != nil {
			return summary, err
		}
		vectors = append(vectors, embedded...)
	}
	summary.Vectors = len(vectors)
	logger.Info("embedded catalog", "vectors", summary.Vectors)

	for j, batch := range embedding.Chunk(vectors, upsertSize) {
		_, err := ledger.Do(ctx, l, fmt.Sprintf("upsert-batch-%d", j), func(ctx context.Context) (upserted, error) {
			if err := p.Index.Upsert(ctx, batch); err != nil {
				return upserted{}, classify(err)
			}
			return upserted{Count: len(batch)}, nil
		})
		if err != nil {
			return summary, err
		}
		summary.Batches++
	}
	logger.Info("upserted catalog", "batches", summary.Batches)
	return summary, nil
}

// embed returns one vector per entry. A positive dims is the required vector
// length.
func (p *Pipeline) embed(ctx context.Context, batch []music.CatalogEntry, dims int) ([]catalog.Vector, error) {
	texts := make([]string, len(batch))
	for i, entry := range batch {
		texts[i] = embedding.Text(entry.Title, entry.Authors)
	}
	values, err := p.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, classify(err)
	}
	if len(values) != len(batch) {
		return nil, ledger.Permanent(upstream.Malformed("embedding", fmt.Errorf("got %d embeddings for %d texts", len(values), len(batch))))
	}
	if err := embedding.CheckDimensions("embedding", values, dims); err != nil {
		return nil, ledger.Permanent(err)
	}
	vectors := make([]catalog.Vector, len(batch))
	for i, entry := range batch {
		vectors[i] = catalog.Vector{
			ID:       entry.ID,
			Values:   values[i],
			Metadata: map[string]string{"text": texts[i]},
		}
	}
	return vectors, nil
}

// classify marks failures that retrying cannot fix. Upstream responses other
// than 429 and 5xx are among them.
func classify(err error) error {
	var se *upstream.StatusError
	if upstream.IsMalformed(err) ||
		errors.Is(err, embedding.ErrBatchTooLarge) ||
		errors.Is(err, catalog.ErrBatchTooLarge) ||
		(errors.As(err, &se) && !se.Temporary()) {
		return ledger.Permanent(err)
	}
	return err
}
