package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ademuri/vinyl-search/internal/catalog"
	"github.com/ademuri/vinyl-search/internal/embedding"
	"github.com/ademuri/vinyl-search/internal/embedding/embeddingtest"
	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/resultcache"
	"github.com/ademuri/vinyl-search/internal/upstream"
)

// at returns the unit vector at deg degrees, so that the similarity of two
// such vectors is the cosine of the angle between them.
func at(deg float64) []float32 {
	rad := deg * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad))}
}

func album(id, title, artist string) music.AlbumRef {
	return music.AlbumRef{
		ID:            id,
		Title:         title,
		Artists:       []music.ArtistRef{{ID: "artist:" + artist, Name: artist}},
		ReleaseDate:   "1992-08-25",
		MediaType:     music.MediaAlbum,
		CoverImageURL: "https://img/" + id,
		ExternalURL:   "https://open/" + id,
	}
}

func track(id, title string, a music.AlbumRef) music.Track {
	return music.Track{ID: id, Title: title, Album: a}
}

func titles(tracks []music.Track) []string {
	var out []string
	for _, t := range tracks {
		out = append(out, t.Title)
	}
	return out
}

func TestResolveMergesReleasesOfTheSameAlbum(t *testing.T) {
	unplugged := album("a1", "Unplugged", "Eric Clapton")
	deluxe := album("a2", "Unplugged (Deluxe)", "Eric Clapton")

	embedder := embeddingtest.New(2)
	embedder.Set("the album Unplugged by Eric Clapton", at(0))
	embedder.Set("the album Unplugged (Deluxe) by Eric Clapton", []float32{0.9, float32(math.Sqrt(1 - 0.81))})

	r := &Resolver{Embedder: embedder, Index: catalog.NewMemoryIndex()}
	got, err := r.Resolve(context.Background(), []music.Track{
		track("t1", "Layla", unplugged),
		track("t2", "Tears in Heaven", deluxe),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "Unplugged", got[0].Title)
	assert.Equal(t, "1992", got[0].Year)
	assert.Equal(t, "https://img/a1", got[0].CoverImage)
	assert.Equal(t, []string{"Layla", "Tears in Heaven"}, titles(got[0].TopTracks))
	assert.False(t, got[0].Available())
}

func TestResolveKeepsDissimilarAlbumsApart(t *testing.T) {
	a := album("a1", "Blue", "Joni Mitchell")
	b := album("a2", "Court and Spark", "Joni Mitchell")

	embedder := embeddingtest.New(2)
	embedder.Set(embedding.Text("Blue", []string{"Joni Mitchell"}), at(0))
	embedder.Set(embedding.Text("Court and Spark", []string{"Joni Mitchell"}), []float32{0.87, float32(math.Sqrt(1 - 0.87*0.87))})

	r := &Resolver{Embedder: embedder, Index: catalog.NewMemoryIndex()}
	got, err := r.Resolve(context.Background(), []music.Track{
		track("t1", "River", a),
		track("t2", "Help Me", b),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "a2", got[1].ID)
}

func TestResolveJoinsFirstMatchingCluster(t *testing.T) {
	x := album("x", "X", "A")
	y := album("y", "Y", "A")
	z := album("z", "Z", "A")

	embedder := embeddingtest.New(2)
	embedder.Set(embedding.Text("X", []string{"A"}), at(0))
	embedder.Set(embedding.Text("Y", []string{"A"}), at(40))
	// Closer to Y than to X, but above the threshold for both.
	embedder.Set(embedding.Text("Z", []string{"A"}), at(22))

	r := &Resolver{Embedder: embedder, Index: catalog.NewMemoryIndex()}
	got, err := r.Resolve(context.Background(), []music.Track{
		track("t1", "one", x),
		track("t2", "two", y),
		track("t3", "three", z),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"one", "three"}, titles(got[0].TopTracks))
	assert.Equal(t, []string{"two"}, titles(got[1].TopTracks))
}

func TestResolveSingleAlbumAnyOrder(t *testing.T) {
	a := album("a1", "Rumours", "Fleetwood Mac")
	tracks := []music.Track{
		track("t1", "Dreams", a),
		track("t2", "The Chain", a),
		track("t3", "Go Your Own Way", a),
	}
	for _, order := range [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}} {
		var input []music.Track
		for _, i := range order {
			input = append(input, tracks[i])
		}
		r := &Resolver{Embedder: embeddingtest.New(4), Index: catalog.NewMemoryIndex()}
		got, err := r.Resolve(context.Background(), input)
		require.NoError(t, err)
		assert.Len(t, got, 1, "order %v", order)
	}
}

func TestResolveCapsAndDedupesTopTracks(t *testing.T) {
	a := album("a1", "OK Computer", "Radiohead")
	r := &Resolver{Embedder: embeddingtest.New(4), Index: catalog.NewMemoryIndex()}
	got, err := r.Resolve(context.Background(), []music.Track{
		track("t1", "Airbag", a),
		track("t2", "Airbag", a),
		track("t3", "airbag", a),
		track("t4", "Lucky", a),
		track("t5", "No Surprises", a),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"Airbag", "airbag", "Lucky"}, titles(got[0].TopTracks))
}

func TestResolveEmbedsEachAlbumOnce(t *testing.T) {
	a := album("a1", "Blue", "Joni Mitchell")
	b := album("a2", "Hejira", "Joni Mitchell")
	embedder := embeddingtest.New(4)
	r := &Resolver{Embedder: embedder, Index: catalog.NewMemoryIndex()}

	_, err := r.Resolve(context.Background(), []music.Track{
		track("t1", "River", a),
		track("t2", "Coyote", b),
		track("t3", "Carey", a),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"the album Blue by Joni Mitchell",
		"the album Hejira by Joni Mitchell",
	}, embedder.Texts())
	assert.Equal(t, 1, embedder.Calls())
}

func TestResolveSortsMatchedAlbumsFirst(t *testing.T) {
	ctx := context.Background()
	embedder := embeddingtest.New(4)
	var tracks []music.Track
	for i, name := range []string{"A", "B", "C", "D"} {
		a := album("id-"+name, name, "Artist")
		v := make([]float32, 4)
		v[i] = 1
		embedder.Set(embedding.Text(name, []string{"Artist"}), v)
		tracks = append(tracks, track("t-"+name, "song", a))
	}

	index := catalog.NewMemoryIndex()
	require.NoError(t, index.Upsert(ctx, []catalog.Vector{
		{ID: "S-B", Values: []float32{0, 1, 0, 0}},
		{ID: "S-D", Values: []float32{0, 0, 0.1, 1}},
	}))

	r := &Resolver{Embedder: embedder, Index: index}
	got, err := r.Resolve(ctx, tracks)
	require.NoError(t, err)

	var order []string
	for _, c := range got {
		order = append(order, c.Title+":"+c.CatalogMatchID)
	}
	assert.Equal(t, []string{"B:S-B", "D:S-D", "A:", "C:"}, order)
}

type failingIndex struct {
	*catalog.MemoryIndex
}

func (failingIndex) Query(context.Context, []float32, int) ([]catalog.Match, error) {
	return nil, errors.New("index unavailable")
}

func TestResolveFailsWholeCallOnQueryError(t *testing.T) {
	r := &Resolver{Embedder: embeddingtest.New(4), Index: failingIndex{catalog.NewMemoryIndex()}}
	got, err := r.Resolve(context.Background(), []music.Track{
		track("t1", "a", album("a1", "A", "X")),
		track("t2", "b", album("a2", "B", "X")),
	})
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestResolveFailsOnEmbeddingError(t *testing.T) {
	embedder := embeddingtest.New(4)
	embedder.Err = errors.New("gateway down")
	r := &Resolver{Embedder: embedder, Index: catalog.NewMemoryIndex()}
	_, err := r.Resolve(context.Background(), []music.Track{track("t1", "a", album("a1", "A", "X"))})
	assert.ErrorIs(t, err, embedder.Err)
}

func TestResolveEmpty(t *testing.T) {
	embedder := embeddingtest.New(4)
	r := &Resolver{Embedder: embedder, Index: catalog.NewMemoryIndex()}
	got, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, embedder.Calls())
}

func TestServiceUsesCache(t *testing.T) {
	ctx := context.Background()
	cache := resultcache.New(resultcache.NewMemory())
	svc := &Service{
		Resolver: &Resolver{Embedder: embeddingtest.New(4), Index: catalog.NewMemoryIndex()},
		Cache:    cache,
	}
	key := resultcache.Key{UserID: "u", TimeRange: music.ShortTerm}

	loads := 0
	load := func(context.Context) ([]music.Track, error) {
		loads++
		single := album("s1", "Single", "X")
		single.MediaType = music.MediaSingle
		return []music.Track{
			track("t1", "a", album("a1", "A", "X")),
			track("t2", "b", single),
		}, nil
	}

	got, cached, err := svc.TopAlbums(ctx, key, load)
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	require.NoError(t, cache.Wait(ctx))

	again, cached, err := svc.TopAlbums(ctx, key, load)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, loads)

	// Other time ranges are resolved separately.
	_, cached, err = svc.TopAlbums(ctx, resultcache.Key{UserID: "u", TimeRange: music.LongTerm}, load)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, loads)
}

func TestServiceDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	cache := resultcache.New(resultcache.NewMemory())
	svc := &Service{
		Resolver: &Resolver{Embedder: embeddingtest.New(4), Index: failingIndex{catalog.NewMemoryIndex()}},
		Cache:    cache,
	}
	key := resultcache.Key{UserID: "u", TimeRange: music.ShortTerm}
	load := func(context.Context) ([]music.Track, error) {
		return []music.Track{track("t1", "a", album("a1", "A", "X"))}, nil
	}

	_, _, err := svc.TopAlbums(ctx, key, load)
	require.Error(t, err)
	require.NoError(t, cache.Wait(ctx))

	_, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveRejectsEmbeddingsOfDifferentLengths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
				{"object": "embedding", "index": 1, "embedding": []float32{1, 0, 0}},
			},
		})
	}))
	defer srv.Close()

	embedder, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	r := &Resolver{Embedder: embedder, Index: catalog.NewMemoryIndex()}

	var got []music.AlbumCluster
	assert.NotPanics(t, func() {
		got, err = r.Resolve(context.Background(), []music.Track{
			track("t1", "Lithium", album("a1", "Nevermind", "Nirvana")),
			track("t2", "Polly", album("a2", "Nevermind (Remastered)", "Nirvana")),
		})
	})
	assert.True(t, upstream.IsMalformed(err), "got %v", err)
	assert.Nil(t, got)
}

// raggedEmbedder returns a vector one longer than the last on each call.
type raggedEmbedder struct {
	dims int
}

func (e *raggedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		e.dims++
		out[i] = make([]float32, e.dims)
		out[i][0] = 1
	}
	return out, nil
}

func TestResolveRejectsRaggedEmbedder(t *testing.T) {
	r := &Resolver{Embedder: &raggedEmbedder{dims: 1}, Index: catalog.NewMemoryIndex()}
	var err error
	assert.NotPanics(t, func() {
		_, err = r.Resolve(context.Background(), []music.Track{
			track("t1", "a", album("a1", "A", "X")),
			track("t2", "b", album("a2", "B", "X")),
		})
	})
	assert.True(t, upstream.IsMalformed(err), "got %v", err)
}

func TestResolveFailsOnIndexOfOtherDimensions(t *testing.T) {
	index := catalog.NewMemoryIndex()
	require.NoError(t, index.Upsert(context.Background(), []catalog.Vector{{ID: "S1", Values: []float32{1, 0, 0}}}))
	embedder := embeddingtest.New(2)
	r := &Resolver{Embedder: embedder, Index: index}

	var err error
	assert.NotPanics(t, func() {
		_, err = r.Resolve(context.Background(), []music.Track{track("t1", "a", album("a1", "A", "X"))})
	})
	assert.ErrorIs(t, err, catalog.ErrDimensionMismatch)
}
