package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/resultcache"
)

// Loader fetches the listening history to resolve.
type Loader func(ctx context.Context) ([]music.Track, error)

// Service serves resolved albums, resolving only on a cache miss.
type Service struct {
	Resolver *Resolver
	Cache    *resultcache.Cache
	Logger   *slog.Logger
}

// TopAlbums returns the cached albums for key, or loads and resolves them.
// cached reports whether the result came from the cache.
func (s *Service) TopAlbums(ctx context.Context, key resultcache.Key, load Loader) (albums []music.AlbumCluster, cached bool, err error) {
	albums, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		s.logger().Debug("cache hit", "key", key.String())
		return albums, true, nil
	}
	albums, err = s.Refresh(ctx, key, load)
	return albums, false, err
}

// Refresh loads and resolves without reading the cache, then schedules a
// cache write for key.
func (s *Service) Refresh(ctx context.Context, key resultcache.Key, load Loader) ([]music.AlbumCluster, error) {
	tracks, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading listening history: %w", err)
	}
	albums, err := s.Resolver.Resolve(ctx, music.OnlyAlbums(tracks))
	if err != nil {
		return nil, fmt.Errorf("resolving albums: %w", err)
	}
	s.Cache.PutAsync(key, albums)
	return albums, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
