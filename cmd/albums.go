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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ademuri/vinyl-search/internal/bibliocommons"
	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/resolve"
	"github.com/ademuri/vinyl-search/internal/resultcache"
	"github.com/ademuri/vinyl-search/internal/spotify"
	"github.com/ademuri/vinyl-search/internal/store"
	"github.com/ademuri/vinyl-search/internal/upstream"
)

const (
	sourceSpotify = "spotify"
	sourceLastfm  = "lastfm"

	// Pending cache writes get this long after the albums are printed.
	cacheFlushTimeout = 10 * time.Second
)

type AlbumsConfig struct {
	User      string
	Source    string
	TimeRange music.TimeRange
	// Start and End replace TimeRange for last.fm history when set.
	Start   time.Time
	End     time.Time
	Format  string
	NoCache bool
	Library string
}

var albumsCmd = &cobra.Command{
	Use:   "albums [from] [to (optional)]",
	Short: "Lists your top albums and whether the library has them on vinyl",
	Long: `Resolves your most played tracks into albums and looks each album up in
the library catalog. Run refresh-catalog first.

With --source=lastfm, an optional date or date range selects the listening
window instead of --time_range. Date strings look like 'yyyy', 'yyyy-mm', or
'yyyy-mm-dd'.`,
	Args:    cobra.MaximumNArgs(2),
	PreRunE: requireUser,
	Run: func(cmd *cobra.Command, args []string) {
		config, err := albumsConfigFromFlags(args)
		if err == nil {
			err = printAlbums(cmd.Context(), config, os.Stdout)
		}
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(albumsCmd)

	addFormatFlag(albumsCmd, "format")

	var noCache bool
	albumsCmd.Flags().BoolVar(&noCache, "no_cache", false, "Resolve again even if a cached result exists")
	viper.BindPFlag("no_cache", albumsCmd.Flags().Lookup("no_cache"))
}

func albumsConfigFromFlags(args []string) (AlbumsConfig, error) {
	tr, err := music.ParseTimeRange(viper.GetString("time_range"))
	if err != nil {
		return AlbumsConfig{}, err
	}
	config := AlbumsConfig{
		User:      viper.GetString("user"),
		Source:    strings.ToLower(viper.GetString("source")),
		TimeRange: tr,
		Format:    viper.GetString("format"),
		NoCache:   viper.GetBool("no_cache"),
		Library:   viper.GetString("library"),
	}
	switch config.Source {
	case sourceSpotify:
		if len(args) > 0 {
			return AlbumsConfig{}, fmt.Errorf("date arguments need --source=%s", sourceLastfm)
		}
	case sourceLastfm:
		config.User = strings.ToLower(config.User)
		if len(args) > 0 {
			config.Start, config.End, err = parseDateRangeFromArgs(args)
			if err != nil {
				return AlbumsConfig{}, err
			}
		}
	default:
		return AlbumsConfig{}, fmt.Errorf("unknown source %q: want %s or %s", config.Source, sourceSpotify, sourceLastfm)
	}
	if err := checkFormat(config.Format); err != nil {
		return AlbumsConfig{}, err
	}
	return config, nil
}

func printAlbums(ctx context.Context, config AlbumsConfig, out io.Writer) error {
	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	albums, cached, err := resolveAlbums(ctx, config, b, historyLoader(b, config))
	if err != nil {
		return err
	}
	if cached {
		slog.Debug("served from cache", "user", config.User)
	}

	if config.Format == formatTable {
		name, err := b.db.GetDisplayName(config.User)
		if err != nil {
			return err
		}
		if name == "" {
			name = config.User
		}
		fmt.Fprintf(out, "Top albums for %s %s\n", name, describeWindow(config))
	}
	return renderAlbums(out, config.Format, config.Library, albums)
}

// resolveAlbums serves albums through the result cache and waits briefly for
// the background cache write before returning.
func resolveAlbums(ctx context.Context, config AlbumsConfig, b *backends, load resolve.Loader) ([]music.AlbumCluster, bool, error) {
	table := b.db.CacheTable()
	if n, err := table.PurgeExpired(ctx); err != nil {
		slog.Warn("purging expired cache entries", "err", err)
	} else if n > 0 {
		slog.Debug("purged expired cache entries", "count", n)
	}

	cache := resultcache.New(table, resultcache.WithLogger(slog.Default()))
	svc := &resolve.Service{
		Resolver: &resolve.Resolver{Embedder: b.embedder, Index: b.index, Logger: slog.Default()},
		Cache:    cache,
		Logger:   slog.Default(),
	}

	var albums []music.AlbumCluster
	var cached bool
	var err error
	key := cacheKey(config)
	if config.NoCache {
		albums, err = svc.Refresh(ctx, key, load)
	} else {
		albums, cached, err = svc.TopAlbums(ctx, key, load)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), cacheFlushTimeout)
	defer cancel()
	if werr := cache.Wait(flushCtx); werr != nil {
		slog.Warn("abandoning cache write", "key", key.String(), "err", werr)
	}
	return albums, cached, err
}

func cacheKey(config AlbumsConfig) resultcache.Key {
	if config.Source == sourceSpotify {
		return resultcache.Key{UserID: config.User, TimeRange: config.TimeRange}
	}
	key := resultcache.Key{UserID: sourceLastfm + ":" + config.User, TimeRange: config.TimeRange}
	if !config.Start.IsZero() {
		const dateFormat = "2006-01-02"
		key.TimeRange = music.TimeRange(config.Start.Format(dateFormat) + ".." + config.End.Format(dateFormat))
	}
	return key
}

func describeWindow(config AlbumsConfig) string {
	if !config.Start.IsZero() {
		const dateFormat = "2006-01-02"
		return fmt.Sprintf("from %s to %s", config.Start.Format(dateFormat), config.End.Format(dateFormat))
	}
	return "over the last " + config.TimeRange.Describe()
}

func historyLoader(b *backends, config AlbumsConfig) resolve.Loader {
	if config.Source == sourceSpotify {
		return spotifyLoader(b.db, newSpotifyClient(), config.User, config.TimeRange)
	}
	return lastfmLoader(b.db, config)
}

// spotifyLoader fetches top tracks with the stored credentials and stores
// them again if the client had to refresh them.
func spotifyLoader(db *store.Store, client *spotify.Client, user string, tr music.TimeRange) resolve.Loader {
	return func(ctx context.Context) ([]music.Track, error) {
		creds, err := db.GetCredentials(user)
		if err != nil {
			return nil, err
		}
		if creds == nil {
			return nil, fmt.Errorf("no Spotify credentials for %q - run authenticate first", user)
		}
		tracks, fresh, err := client.TopTracks(ctx, creds, tr)
		if fresh != nil && fresh.AccessToken != creds.AccessToken {
			if serr := db.SaveCredentials(user, "", fresh); serr != nil {
				slog.Warn("could not store refreshed credentials", "user", user, "err", serr)
			}
		}
		if upstream.StatusCode(err) == http.StatusUnauthorized {
			return nil, fmt.Errorf("Spotify rejected the stored credentials for %q - run authenticate again: %w", user, err)
		}
		return tracks, err
	}
}

func lastfmLoader(db *store.Store, config AlbumsConfig) resolve.Loader {
	return func(ctx context.Context) ([]music.Track, error) {
		start, end := config.Start, config.End
		if start.IsZero() {
			end = time.Now()
			start = config.TimeRange.Since(end)
		}
		tracks, err := db.TopTracks(config.User, start, end, spotify.TopTracksLimit)
		if err != nil {
			return nil, err
		}
		if len(tracks) == 0 {
			slog.Info("no scrobbles in window - run update first?", "user", config.User)
		}
		return tracks, nil
	}
}

// albumRow is an album as printed by albums, with the catalog link spelled
// out.
type albumRow struct {
	music.AlbumCluster `yaml:",inline"`
	RecordURL          string `json:"record_url,omitempty" yaml:"record_url,omitempty"`
}

func albumRows(library string, albums []music.AlbumCluster) []albumRow {
	rows := make([]albumRow, 0, len(albums))
	for _, a := range albums {
		row := albumRow{AlbumCluster: a}
		if a.Available() {
			row.RecordURL = bibliocommons.RecordURL(library, a.CatalogMatchID)
		}
		rows = append(rows, row)
	}
	return rows
}

func renderAlbums(out io.Writer, format, library string, albums []music.AlbumCluster) error {
	rows := albumRows(library, albums)
	if format != formatTable {
		return writeStructured(out, format, rows)
	}

	table := tablewriter.NewWriter(out)
	table.Header("#", "Album", "Artists", "Year", "Top tracks", "On vinyl")
	for i, row := range rows {
		titles := make([]string, 0, len(row.TopTracks))
		for _, t := range row.TopTracks {
			titles = append(titles, t.Title)
		}
		artists := make([]string, 0, len(row.Artists))
		for _, a := range row.Artists {
			artists = append(artists, a.Name)
		}
		if err := table.Append([]string{
			fmt.Sprint(i + 1),
			row.Title,
			strings.Join(artists, ", "),
			row.Year,
			strings.Join(titles, ", "),
			row.RecordURL,
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	available := 0
	for _, row := range rows {
		if row.RecordURL != "" {
			available++
		}
	}
	_, err := fmt.Fprintf(out, "%d of %d albums are available on vinyl\n", available, len(rows))
	return err
}

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// addFormatFlag adds --format to cmd, bound to the viper key. Each command
// needs its own key since viper keeps one flag per key.
func addFormatFlag(cmd *cobra.Command, key string) {
	var format string
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json or yaml")
	viper.BindPFlag(key, cmd.Flags().Lookup("format"))
}

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q: want %s, %s or %s", format, formatTable, formatJSON, formatYAML)
}

func writeStructured(out io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return checkFormat(format)
}
