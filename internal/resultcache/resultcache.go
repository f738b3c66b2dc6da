// Package resultcache caches resolved album lists per user and time range.
//
// Reads are synchronous. Writes can be scheduled in the background so that a
// response never waits on the cache; a failed background write is logged and
// otherwise ignored.
package resultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ademuri/vinyl-search/internal/music"
)

const DefaultTTL = time.Hour

// Backend stores opaque values with an expiry.
type Backend interface {
	// Get returns ok=false for missing or expired keys.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Key struct {
	UserID    string
	TimeRange music.TimeRange
}

func (k Key) String() string {
	return fmt.Sprintf("top-albums:%s:%s", k.UserID, k.TimeRange)
}

type Cache struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
	// Background writes get this long before being abandoned.
	writeTimeout time.Duration

	pending sync.WaitGroup
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:      backend,
		ttl:          DefaultTTL,
		logger:       slog.Default(),
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Get(ctx context.Context, key Key) ([]music.AlbumCluster, bool, error) {
	data, ok, err := c.backend.Get(ctx, key.String())
	if err != nil {
		return nil, false, fmt.Errorf("reading cache %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var albums []music.AlbumCluster
	if err := json.Unmarshal(data, &albums); err != nil {
		// An entry from an older build is recomputed and overwritten.
		c.logger.Warn("discarding undecodable cache entry", "key", key.String(), "err", err)
		return nil, false, nil
	}
	return albums, true, nil
}

func (c *Cache) Put(ctx context.Context, key Key, albums []music.AlbumCluster) error {
	data, err := json.Marshal(albums)
	if err != nil {
		return fmt.Errorf("encoding cache %s: %w", key, err)
	}
	if err := c.backend.Put(ctx, key.String(), data, c.ttl); err != nil {
		return fmt.Errorf("writing cache %s: %w", key, err)
	}
	return nil
}

// PutAsync writes albums in the background. It returns immediately.
func (c *Cache) PutAsync(key Key, albums []music.AlbumCluster) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		defer cancel()
		if err := c.Put(ctx, key, albums); err != nil {
			c.logger.Warn("background cache write failed", "key", key.String(), "err", err)
		}
	}()
}

// Wait blocks until background writes finish or ctx is done.
func (c *Cache) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Memory is an in-process Backend.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// SetClock replaces the time source used for expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(ttl),
	}
	return nil
}
