package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/ademuri/vinyl-search/internal/catalog"
	"github.com/ademuri/vinyl-search/internal/embedding/embeddingtest"
	"github.com/ademuri/vinyl-search/internal/store"
)

// createTestBackends opens a fresh database with a SQLite catalog index and a
// fake embedder of dims dimensions.
func createTestBackends(t *testing.T, dims int) (*backends, *embeddingtest.Fake) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "vinyl.db")

	db, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New(%s) error: %v", dbPath, err)
	}
	fake := embeddingtest.New(dims)
	b := &backends{db: db, embedder: fake, index: catalog.NewSQLiteIndex(db)}
	t.Cleanup(func() { b.Close() })
	return b, fake
}

// setConfig overrides viper keys for the duration of the test.
func setConfig(t *testing.T, values map[string]any) {
	t.Helper()
	for k, v := range values {
		viper.Set(k, v)
	}
	t.Cleanup(func() {
		for k := range values {
			viper.Set(k, nil)
		}
	})
}
