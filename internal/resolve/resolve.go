// Package resolve groups a listening history into albums and looks each one
// up in the catalog index.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ademuri/vinyl-search/internal/catalog"
	"github.com/ademuri/vinyl-search/internal/embedding"
	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/upstream"
)

// MaxTopTracks is the most tracks listed under one album.
const MaxTopTracks = 3

type Resolver struct {
	Embedder embedding.Embedder
	Index    catalog.Index
	Logger   *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Resolve clusters tracks into albums and marks the albums the catalog holds.
// Tracks must all be album tracks. Matched albums come first; otherwise the
// order is that of each album's first track.
func (r *Resolver) Resolve(ctx context.Context, tracks []music.Track) ([]music.AlbumCluster, error) {
	if len(tracks) == 0 {
		return []music.AlbumCluster{}, nil
	}

	vectors, err := r.embedAlbums(ctx, tracks)
	if err != nil {
		return nil, err
	}

	clusters, reps := cluster(tracks, vectors)
	r.logger().Debug("clustered tracks", "tracks", len(tracks), "albums", len(clusters))

	if err := r.match(ctx, clusters, reps); err != nil {
		return nil, err
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Available() && !clusters[j].Available()
	})
	return clusters, nil
}

// embedAlbums embeds each distinct album once, keyed by album id.
func (r *Resolver) embedAlbums(ctx context.Context, tracks []music.Track) (map[string][]float32, error) {
	var ids, texts []string
	seen := make(map[string]bool)
	for _, t := range tracks {
		if seen[t.Album.ID] {
			continue
		}
		seen[t.Album.ID] = true
		ids = append(ids, t.Album.ID)
		texts = append(texts, embedding.Text(t.Album.Title, t.Album.ArtistNames()))
	}

	values, err := embedding.EmbedAll(ctx, r.Embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding albums: %w", err)
	}
	if len(values) != len(ids) {
		return nil, upstream.Malformed("embedding", fmt.Errorf("got %d embeddings for %d albums", len(values), len(ids)))
	}

	vectors := make(map[string][]float32, len(ids))
	for i, id := range ids {
		vectors[id] = values[i]
	}
	return vectors, nil
}

// cluster assigns each track to the first existing cluster whose
// representative album is the same album, or starts a new cluster. It
// returns the clusters and their representative vectors.
func cluster(tracks []music.Track, vectors map[string][]float32) ([]music.AlbumCluster, [][]float32) {
	var clusters []music.AlbumCluster
	var reps [][]float32

	for _, t := range tracks {
		v := vectors[t.Album.ID]
		joined := false
		for i := range clusters {
			if !embedding.Same(reps[i], v) {
				continue
			}
			addTrack(&clusters[i], t)
			joined = true
			break
		}
		if joined {
			continue
		}
		clusters = append(clusters, music.AlbumCluster{
			ID:          t.Album.ID,
			Title:       t.Album.Title,
			Artists:     t.Album.Artists,
			Year:        t.Album.Year(),
			TopTracks:   []music.Track{t},
			CoverImage:  t.Album.CoverImageURL,
			ExternalURL: t.Album.ExternalURL,
		})
		reps = append(reps, v)
	}
	return clusters, reps
}

func addTrack(c *music.AlbumCluster, t music.Track) {
	if len(c.TopTracks) >= MaxTopTracks {
		return
	}
	for _, existing := range c.TopTracks {
		if existing.Title == t.Title {
			return
		}
	}
	c.TopTracks = append(c.TopTracks, t)
}

// match queries the index for every cluster concurrently. Each query writes
// only its own cluster.
func (r *Resolver) match(ctx context.Context, clusters []music.AlbumCluster, reps [][]float32) error {
	var g errgroup.Group
	for i := range clusters {
		g.Go(func() error {
			matches, err := r.Index.Query(ctx, reps[i], 1)
			if err != nil {
				return fmt.Errorf("querying catalog for %q: %w", clusters[i].Title, err)
			}
			if len(matches) > 0 && matches[0].Score >= embedding.Threshold {
				clusters[i].CatalogMatchID = matches[0].ID
			}
			return nil
		})
	}
	return g.Wait()
}
