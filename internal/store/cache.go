package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CacheTable stores result cache entries in the ResultCache table.
type CacheTable struct {
	db  *sql.DB
	now func() time.Time
}

func (s *Store) CacheTable() *CacheTable {
	return &CacheTable{db: s.db, now: time.Now}
}

func (c *CacheTable) Get(ctx context.Context, key string) ([]byte, bool, error) {
	row := c.db.QueryRowContext(ctx, "SELECT value FROM ResultCache WHERE key = ? AND expires_at > ?", key, c.now().Unix())
	var value []byte
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %q: %w", key, err)
	}
	return value, true, nil
}

func (c *CacheTable) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expires := c.now().Add(ttl).Unix()
	_, err := c.db.ExecContext(ctx, "INSERT OR REPLACE INTO ResultCache (key, value, expires_at) VALUES (?, ?, ?)", key, value, expires)
	if err != nil {
		return fmt.Errorf("writing cache entry %q: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes expired entries and returns how many were removed.
func (c *CacheTable) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM ResultCache WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	return res.RowsAffected()
}
