package store

import (
	"fmt"
	"time"

	"github.com/ademuri/vinyl-search/internal/music"
)

// TopTracks returns the user's most scrobbled tracks between start and end,
// most played first. Ties go to the most recently played track.
func (s *Store) TopTracks(user string, start, end time.Time, limit int) ([]music.Track, error) {
	query := `
	SELECT Track.id, Track.artist, Track.album, Track.name
	FROM Listen
	INNER JOIN Track ON Track.id = Listen.track
	WHERE user = ?
	AND CAST(Listen.date AS INTEGER) BETWEEN ? AND ?
	GROUP BY Track.id
	ORDER BY COUNT(*) DESC, MAX(CAST(Listen.date AS INTEGER)) DESC
	LIMIT ?
	`
	rows, err := s.db.Query(query, user, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying top tracks: %w", err)
	}
	defer rows.Close()

	var tracks []music.Track
	for rows.Next() {
		var id int64
		var artist, album, name string
		if err := rows.Scan(&id, &artist, &album, &name); err != nil {
			return nil, err
		}
		tracks = append(tracks, scrobbledTrack(id, artist, album, name))
	}
	return tracks, rows.Err()
}

// scrobbledTrack describes a scrobble in listening-history terms. last.fm
// has no album ids or release types, so the album id is derived from the
// credited artist and album name, and scrobbles without an album are treated
// as singles.
func scrobbledTrack(id int64, artist, album, name string) music.Track {
	mediaType := music.MediaAlbum
	if album == "" {
		mediaType = music.MediaSingle
	}
	return music.Track{
		ID:    fmt.Sprintf("lastfm:track:%d", id),
		Title: name,
		Album: music.AlbumRef{
			ID:        fmt.Sprintf("lastfm:album:%s/%s", artist, album),
			Title:     album,
			Artists:   []music.ArtistRef{{ID: "lastfm:artist:" + artist, Name: artist}},
			MediaType: mediaType,
		},
	}
}
