// Package music holds the listening-history and catalog types shared by the
// resolver, the result cache and the ingestion pipeline.
package music

import (
	"fmt"
	"strings"
	"time"
)

type MediaType string

const (
	MediaAlbum       MediaType = "album"
	MediaSingle      MediaType = "single"
	MediaCompilation MediaType = "compilation"
)

type ArtistRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type AlbumRef struct {
	ID            string      `json:"id" yaml:"id"`
	Title         string      `json:"title" yaml:"title"`
	Artists       []ArtistRef `json:"artists" yaml:"artists"`
	ReleaseDate   string      `json:"release_date" yaml:"release_date"`
	MediaType     MediaType   `json:"media_type" yaml:"media_type"`
	CoverImageURL string      `json:"cover_image_url" yaml:"cover_image_url"`
	ExternalURL   string      `json:"external_url" yaml:"external_url"`
}

// ArtistNames returns the artist names in credit order.
func (a AlbumRef) ArtistNames() []string {
	names := make([]string, 0, len(a.Artists))
	for _, artist := range a.Artists {
		names = append(names, artist.Name)
	}
	return names
}

// Year is the leading year component of the release date, which may be
// given at year, month or day precision.
func (a AlbumRef) Year() string {
	year, _, _ := strings.Cut(a.ReleaseDate, "-")
	return year
}

type Track struct {
	ID    string   `json:"id" yaml:"id"`
	Title string   `json:"title" yaml:"title"`
	Album AlbumRef `json:"album" yaml:"album"`
}

// OnlyAlbums drops tracks whose album is a single or a compilation. Input
// order is preserved.
func OnlyAlbums(tracks []Track) []Track {
	var albums []Track
	for _, t := range tracks {
		if t.Album.MediaType == MediaAlbum {
			albums = append(albums, t)
		}
	}
	return albums
}

// AlbumCluster is one resolved album: every listened track believed to belong
// to the same real-world release.
type AlbumCluster struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Artists     []ArtistRef `json:"artists" yaml:"artists"`
	Year        string      `json:"year" yaml:"year"`
	TopTracks   []Track     `json:"top_tracks" yaml:"top_tracks"`
	CoverImage  string      `json:"cover_image" yaml:"cover_image"`
	ExternalURL string      `json:"external_url" yaml:"external_url"`

	// CatalogMatchID is empty when no physical copy was found.
	CatalogMatchID string `json:"catalog_match_id,omitempty" yaml:"catalog_match_id,omitempty"`
}

func (c AlbumCluster) Available() bool {
	return c.CatalogMatchID != ""
}

// CatalogEntry is one physical record in the library catalog.
type CatalogEntry struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
}

// TimeRange selects how far back the listening history reaches.
type TimeRange string

const (
	ShortTerm  TimeRange = "short_term"
	MediumTerm TimeRange = "medium_term"
	LongTerm   TimeRange = "long_term"
)

const DefaultTimeRange = ShortTerm

func ParseTimeRange(s string) (TimeRange, error) {
	switch tr := TimeRange(strings.TrimSpace(s)); tr {
	case "":
		return DefaultTimeRange, nil
	case ShortTerm, MediumTerm, LongTerm:
		return tr, nil
	default:
		return "", fmt.Errorf("invalid time range %q: want one of %s, %s, %s", s, ShortTerm, MediumTerm, LongTerm)
	}
}

// Since returns the start of the window ending at now, approximating the
// windows Spotify uses for each range.
func (tr TimeRange) Since(now time.Time) time.Time {
	switch tr {
	case MediumTerm:
		return now.AddDate(0, -6, 0)
	case LongTerm:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, 0, -28)
	}
}

// Describe is the human phrase used in report headings.
func (tr TimeRange) Describe() string {
	switch tr {
	case MediumTerm:
		return "6 months"
	case LongTerm:
		return "year"
	default:
		return "month"
	}
}
