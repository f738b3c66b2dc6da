/*
Copyright 2020 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/ademuri/vinyl-search/internal/bibliocommons"
	"github.com/ademuri/vinyl-search/internal/catalog"
	"github.com/ademuri/vinyl-search/internal/embedding"
	"github.com/ademuri/vinyl-search/internal/spotify"
	"github.com/ademuri/vinyl-search/internal/store"
)

// backends are the external services a command talks to. Tests substitute
// in-memory implementations.
type backends struct {
	db       *store.Store
	embedder embedding.Embedder
	index    catalog.Index
	close    func() error
}

func (b *backends) Close() error {
	var err error
	if b.close != nil {
		err = b.close()
	}
	if cerr := b.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func openBackends(ctx context.Context) (*backends, error) {
	db, err := store.New(viper.GetString("database"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	embedder, err := newEmbedder()
	if err != nil {
		db.Close()
		return nil, err
	}

	b := &backends{db: db, embedder: embedder}
	switch kind := viper.GetString("index"); kind {
	case "", "sqlite":
		b.index = catalog.NewSQLiteIndex(db)
	case "milvus":
		m, err := catalog.NewMilvusIndex(ctx, catalog.MilvusConfig{
			Address:    viper.GetString("milvus_address"),
			Username:   viper.GetString("milvus_username"),
			Password:   viper.GetString("milvus_password"),
			Collection: viper.GetString("milvus_collection"),
			Dimensions: viper.GetInt("embedding_dims"),
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := m.EnsureCollection(ctx); err != nil {
			m.Close()
			db.Close()
			return nil, err
		}
		b.index = m
		b.close = m.Close
	default:
		db.Close()
		return nil, fmt.Errorf("unknown index %q: want sqlite or milvus", kind)
	}
	return b, nil
}

func newEmbedder() (embedding.Embedder, error) {
	if viper.GetString("embedding_url") == "" {
		return nil, fmt.Errorf("required flag(s) \"embedding_url\" not set")
	}
	return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
		BaseURL: viper.GetString("embedding_url"),
		Model:   viper.GetString("embedding_model"),
		APIKey:  viper.GetString("embedding_api_key"),
		Logger:  slog.Default(),
	})
}

func newSpotifyClient() *spotify.Client {
	return spotify.New(spotify.Config{
		OAuth:      spotifyOAuthConfig(),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     slog.Default(),
	})
}

func newCatalogSource(query string) *bibliocommons.Client {
	return bibliocommons.New(bibliocommons.Config{
		Library: viper.GetString("library"),
		Query:   query,
		Format:  bibliocommons.FormatLP,
		Logger:  slog.Default(),
	})
}
