package resultcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ademuri/vinyl-search/internal/music"
)

var testAlbums = []music.AlbumCluster{
	{
		ID:             "alb1",
		Title:          "Unplugged",
		Artists:        []music.ArtistRef{{ID: "ar1", Name: "Eric Clapton"}},
		Year:           "1992",
		TopTracks:      []music.Track{{ID: "t1", Title: "Layla"}},
		CatalogMatchID: "S93C2",
	},
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "top-albums:spotify:user:bob:medium_term", Key{UserID: "spotify:user:bob", TimeRange: music.MediumTerm}.String())
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemory())
	key := Key{UserID: "u", TimeRange: music.ShortTerm}

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, testAlbums))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testAlbums, got)

	_, ok, err = c.Get(ctx, Key{UserID: "u", TimeRange: music.LongTerm})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUndecodableEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	c := New(backend)
	key := Key{UserID: "u", TimeRange: music.ShortTerm}

	require.NoError(t, backend.Put(ctx, key.String(), []byte("not json"), time.Hour))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	require.NoError(t, c.Put(ctx, key, testAlbums))
	got, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testAlbums, got)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	backend := NewMemory()
	backend.SetClock(func() time.Time { return now })
	c := New(backend)
	key := Key{UserID: "u", TimeRange: music.ShortTerm}

	require.NoError(t, c.Put(ctx, key, testAlbums))

	now = now.Add(59 * time.Minute)
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastWriterWins(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemory())
	key := Key{UserID: "u", TimeRange: music.ShortTerm}

	require.NoError(t, c.Put(ctx, key, testAlbums))
	require.NoError(t, c.Put(ctx, key, nil))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestPutAsync(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemory())
	key := Key{UserID: "u", TimeRange: music.ShortTerm}

	c.PutAsync(key, testAlbums)
	require.NoError(t, c.Wait(ctx))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testAlbums, got)
}

type failingBackend struct {
	release chan struct{}
}

func (f failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (f failingBackend) Put(context.Context, string, []byte, time.Duration) error {
	<-f.release
	return errors.New("disk full")
}

func TestPutAsyncNeverBlocksOrFailsCaller(t *testing.T) {
	backend := failingBackend{release: make(chan struct{})}
	c := New(backend)

	c.PutAsync(Key{UserID: "u"}, testAlbums)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	close(backend.release)
	assert.NoError(t, c.Wait(context.Background()))
}
