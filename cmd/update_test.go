package cmd

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/ademuri/lastfm-go/lastfm"
	"github.com/ademuri/vinyl-search/internal/store"
)

type scrobble struct {
	artist, album, name string
	played              time.Time
}

// lastfmPage builds a page the way last.fm returns it. A zero played time
// marks the track that is playing now.
func lastfmPage(t *testing.T, totalPages int, scrobbles ...scrobble) lastfm.UserGetRecentTracks {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, `<recenttracks user="testuser" page="1" perPage="200" totalPages="%d">`, totalPages)
	for _, s := range scrobbles {
		if s.played.IsZero() {
			fmt.Fprintf(&b, `<track nowplaying="true"><artist>%s</artist><name>%s</name><album>%s</album></track>`,
				s.artist, s.name, s.album)
			continue
		}
		fmt.Fprintf(&b, `<track><artist>%s</artist><name>%s</name><album>%s</album><date uts="%d">%s</date></track>`,
			s.artist, s.name, s.album, s.played.Unix(), s.played.Format("02 Jan 2006, 15:04"))
	}
	b.WriteString(`</recenttracks>`)

	var page lastfm.UserGetRecentTracks
	if err := xml.Unmarshal([]byte(b.String()), &page); err != nil {
		t.Fatalf("xml.Unmarshal: %v", err)
	}
	return page
}

func unlimited() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func TestUpdateDatabase(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "vinyl.db")
	newest := time.Now().Add(-time.Hour).Truncate(time.Second)

	pages := map[int]lastfm.UserGetRecentTracks{
		1: lastfmPage(t, 2,
			scrobble{artist: "Nirvana", album: "Nevermind", name: "Lithium"},
			scrobble{"Nirvana", "Nevermind", "Lithium", newest},
			scrobble{"Nirvana", "In Utero", "Serve the Servants", newest.Add(-time.Hour)},
		),
		2: lastfmPage(t, 2,
			scrobble{"Nirvana", "Bleach", "Negative Creep", newest.Add(-2 * time.Hour)},
		),
	}
	var requested []int
	fetch := func(user string, page int) (lastfm.UserGetRecentTracks, error) {
		if user != "testuser" {
			t.Errorf("Fetched history for %q", user)
		}
		requested = append(requested, page)
		return pages[page], nil
	}

	config := UpdateConfig{DbPath: dbPath, User: "TestUser"}
	if err := updateDatabase(ctx, config, fetch, unlimited()); err != nil {
		t.Fatalf("updateDatabase: %v", err)
	}
	if len(requested) != 2 {
		t.Errorf("Expected 2 pages to be fetched, got %v", requested)
	}

	db, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	latest, err := db.GetLatestListen("testuser")
	if err != nil || !latest.Equal(newest) {
		t.Errorf("GetLatestListen = %v, %v, want %v", latest, err, newest)
	}
	tracks, err := db.TopTracks("testuser", newest.Add(-24*time.Hour), newest, 10)
	if err != nil || len(tracks) != 3 {
		t.Errorf("TopTracks = %d tracks, %v, want 3", len(tracks), err)
	}
	db.Close()

	requested = nil
	if err := updateDatabase(ctx, config, fetch, unlimited()); err != nil {
		t.Fatalf("updateDatabase: %v", err)
	}
	if len(requested) != 0 {
		t.Errorf("Expected a recent update to be skipped, fetched %v", requested)
	}

	config.Force = true
	if err := updateDatabase(ctx, config, fetch, unlimited()); err != nil {
		t.Fatalf("updateDatabase: %v", err)
	}
	if len(requested) != 2 {
		t.Errorf("Expected --force to fetch again, fetched %v", requested)
	}
}

func TestUpdateDatabaseRetriesServerErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vinyl.db")
	calls := 0
	fetch := func(user string, page int) (lastfm.UserGetRecentTracks, error) {
		calls++
		if calls == 1 {
			return lastfm.UserGetRecentTracks{}, &lastfm.LastfmError{Code: 503, Message: "Service Unavailable"}
		}
		return lastfmPage(t, 0), nil
	}

	if err := updateDatabase(context.Background(), UpdateConfig{DbPath: dbPath, User: "testuser"}, fetch, unlimited()); err != nil {
		t.Fatalf("updateDatabase: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected one retry, got %d calls", calls)
	}
}

func TestUpdateDatabaseClientError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vinyl.db")
	calls := 0
	fetch := func(user string, page int) (lastfm.UserGetRecentTracks, error) {
		calls++
		return lastfm.UserGetRecentTracks{}, &lastfm.LastfmError{Code: 6, Message: "User not found"}
	}

	err := updateDatabase(context.Background(), UpdateConfig{DbPath: dbPath, User: "nobody"}, fetch, unlimited())
	if err == nil {
		t.Fatalf("Expected an error for an unknown user")
	}
	var lerr *lastfm.LastfmError
	if !errors.As(err, &lerr) || lerr.Code != 6 {
		t.Errorf("Expected the last.fm error to be wrapped, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected no retries, got %d calls", calls)
	}
}

func TestUpdateDatabaseInvalidAfter(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vinyl.db")
	fetch := func(user string, page int) (lastfm.UserGetRecentTracks, error) {
		t.Errorf("Unexpected fetch of page %d", page)
		return lastfm.UserGetRecentTracks{}, nil
	}
	err := updateDatabase(context.Background(), UpdateConfig{DbPath: dbPath, User: "testuser", After: "yesterday"}, fetch, unlimited())
	if err == nil || !strings.Contains(err.Error(), "--after") {
		t.Errorf("Expected an --after error, got %v", err)
	}
}

func TestIsLastfmServerError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{&lastfm.LastfmError{Code: 500}, true},
		{fmt.Errorf("page 3: %w", &lastfm.LastfmError{Code: 503}), true},
		{&lastfm.LastfmError{Code: 29}, false},
		{errors.New("connection reset"), false},
	} {
		if got := isLastfmServerError(tc.err); got != tc.want {
			t.Errorf("isLastfmServerError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
