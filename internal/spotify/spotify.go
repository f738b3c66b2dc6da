// Package spotify reads a user's top tracks from the Spotify Web API.
//
// Credentials are passed to every call and the possibly refreshed
// credentials are returned with its result. Persisting them is the caller's
// job; the client holds no per-user state.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/upstream"
)

const (
	DefaultBaseURL = "https://api.spotify.com/v1"
	AuthURL        = "https://accounts.spotify.com/authorize"
	TokenURL       = "https://accounts.spotify.com/api/token"

	// Scope is the only permission requested from users.
	Scope = "user-top-read"

	// TopTracksLimit is the most tracks the API returns per request.
	TopTracksLimit = 50

	serviceName = "Spotify"
	coverWidth  = 64
)

// OAuthConfig returns the authorization code flow configuration.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{Scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

type Config struct {
	BaseURL    string
	OAuth      *oauth2.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL string
	oauth   *oauth2.Config
	http    *http.Client
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		oauth:   cfg.OAuth,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Profile identifies the signed-in user.
type Profile struct {
	URI         string `json:"uri"`
	DisplayName string `json:"display_name"`
}

func (c *Client) Profile(ctx context.Context, creds *oauth2.Token) (Profile, *oauth2.Token, error) {
	var p Profile
	creds, err := c.get(ctx, creds, "/me", &p)
	if err != nil {
		return Profile{}, creds, err
	}
	if p.URI == "" {
		return Profile{}, creds, upstream.Malformed(serviceName, errors.New("profile without uri"))
	}
	return p, creds, nil
}

type topTracksResponse struct {
	Items []struct {
		URI   string `json:"uri"`
		Name  string `json:"name"`
		Album struct {
			URI     string `json:"uri"`
			Name    string `json:"name"`
			Artists []struct {
				URI  string `json:"uri"`
				Name string `json:"name"`
			} `json:"artists"`
			Images       []image `json:"images"`
			ReleaseDate  string  `json:"release_date"`
			AlbumType    string  `json:"album_type"`
			ExternalURLs struct {
				Spotify string `json:"spotify"`
			} `json:"external_urls"`
		} `json:"album"`
	} `json:"items"`
}

type image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// TopTracks returns the user's most played tracks over tr, most played
// first.
func (c *Client) TopTracks(ctx context.Context, creds *oauth2.Token, tr music.TimeRange) ([]music.Track, *oauth2.Token, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(TopTracksLimit))
	q.Set("time_range", string(tr))

	var resp topTracksResponse
	creds, err := c.get(ctx, creds, "/me/top/tracks?"+q.Encode(), &resp)
	if err != nil {
		return nil, creds, err
	}

	tracks := make([]music.Track, 0, len(resp.Items))
	for _, item := range resp.Items {
		album := music.AlbumRef{
			ID:            item.Album.URI,
			Title:         item.Album.Name,
			ReleaseDate:   item.Album.ReleaseDate,
			MediaType:     music.MediaType(item.Album.AlbumType),
			CoverImageURL: coverImage(item.Album.Images),
			ExternalURL:   item.Album.ExternalURLs.Spotify,
		}
		for _, a := range item.Album.Artists {
			album.Artists = append(album.Artists, music.ArtistRef{ID: a.URI, Name: a.Name})
		}
		tracks = append(tracks, music.Track{ID: item.URI, Title: item.Name, Album: album})
	}
	return tracks, creds, nil
}

// coverImage picks the thumbnail sized image, or the smallest available.
func coverImage(images []image) string {
	var smallest *image
	for i := range images {
		if images[i].Width == coverWidth {
			return images[i].URL
		}
		if smallest == nil || images[i].Width < smallest.Width {
			smallest = &images[i]
		}
	}
	if smallest == nil {
		return ""
	}
	return smallest.URL
}

// get decodes endpoint into out. An expired access token is refreshed once.
func (c *Client) get(ctx context.Context, creds *oauth2.Token, endpoint string, out any) (*oauth2.Token, error) {
	if creds == nil {
		return nil, errors.New("spotify: no credentials")
	}
	resp, err := c.do(ctx, creds, endpoint)
	if err != nil {
		return creds, err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.oauth != nil && creds.RefreshToken != "" {
		resp.Body.Close()
		c.logger.Debug("access token rejected, refreshing", "endpoint", endpoint)
		creds, err = c.refresh(ctx, creds)
		if err != nil {
			return nil, err
		}
		resp, err = c.do(ctx, creds, endpoint)
		if err != nil {
			return creds, err
		}
	}
	defer resp.Body.Close()

	if err := upstream.Check(serviceName, resp); err != nil {
		return creds, err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return creds, upstream.Malformed(serviceName, err)
	}
	return creds, nil
}

func (c *Client) do(ctx context.Context, creds *oauth2.Token, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	creds.SetAuthHeader(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", endpoint, err)
	}
	return resp, nil
}

func (c *Client) refresh(ctx context.Context, creds *oauth2.Token) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	// Dropping the access token forces the token source to refresh.
	stale := &oauth2.Token{RefreshToken: creds.RefreshToken}
	fresh, err := c.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &upstream.StatusError{
				Service: serviceName + " accounts",
				URL:     c.oauth.Endpoint.TokenURL,
				Code:    re.Response.StatusCode,
				Body:    string(re.Body),
			}
		}
		return nil, fmt.Errorf("refreshing spotify credentials: %w", err)
	}
	return fresh, nil
}
