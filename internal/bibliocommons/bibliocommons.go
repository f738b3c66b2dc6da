// Package bibliocommons searches a public library's catalog through the
// Bibliocommons gateway.
package bibliocommons

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/upstream"
)

const (
	DefaultBaseURL = "https://gateway.bibliocommons.com"
	DefaultLibrary = "sfpl"
	// FormatLP restricts results to vinyl records.
	FormatLP = "LP"

	serviceName = "Bibliocommons"
	// The gateway rejects requests from unrecognised clients.
	userAgent = "curl/7.81.0"
)

type Config struct {
	BaseURL string
	Library string
	Query   string
	Format  string
	// Interval between consecutive requests. Zero means one per second.
	Interval   time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client pages through the results of one catalog search.
type Client struct {
	baseURL string
	library string
	query   string
	format  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		library: cfg.Library,
		query:   cfg.Query,
		format:  cfg.Format,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.library == "" {
		c.library = DefaultLibrary
	}
	if c.query == "" {
		c.query = FormatLP
	}
	if c.format == "" {
		c.format = FormatLP
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	return c
}

// Page is one page of search results.
type Page struct {
	Number  int                  `json:"number"`
	Pages   int                  `json:"pages"`
	Entries []music.CatalogEntry `json:"entries"`
}

type searchRequest struct {
	Query      string `json:"query"`
	Format     string `json:"f_FORMAT"`
	SearchType string `json:"searchType"`
	Page       string `json:"page"`
}

type searchResponse struct {
	CatalogSearch *struct {
		Pagination *struct {
			Pages *int `json:"pages"`
		} `json:"pagination"`
	} `json:"catalogSearch"`
	Entities *struct {
		Bibs map[string]bib `json:"bibs"`
	} `json:"entities"`
}

type bib struct {
	ID        string `json:"id"`
	BriefInfo struct {
		Title   string   `json:"title"`
		Authors []string `json:"authors"`
	} `json:"briefInfo"`
}

func (c *Client) searchURL() string {
	return fmt.Sprintf("%s/v2/libraries/%s/bibs/search?locale=en-US", c.baseURL, url.PathEscape(c.library))
}

// FetchPage returns page (1-based) of the search results.
func (c *Client) FetchPage(ctx context.Context, page int) (Page, error) {
	if page < 1 {
		return Page{}, fmt.Errorf("page %d out of range", page)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Page{}, err
	}

	body, err := json.Marshal(searchRequest{
		Query:      c.query,
		Format:     c.format,
		SearchType: "keyword",
		Page:       strconv.Itoa(page),
	})
	if err != nil {
		return Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL(), bytes.NewReader(body))
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("searching %s catalog: %w", c.library, err)
	}
	defer resp.Body.Close()
	if err := upstream.Check(serviceName, resp); err != nil {
		return Page{}, err
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Page{}, upstream.Malformed(serviceName, err)
	}
	if parsed.CatalogSearch == nil || parsed.CatalogSearch.Pagination == nil || parsed.CatalogSearch.Pagination.Pages == nil {
		return Page{}, upstream.Malformed(serviceName, fmt.Errorf("page %d: missing pagination", page))
	}

	result := Page{Number: page, Pages: *parsed.CatalogSearch.Pagination.Pages}
	if parsed.Entities != nil {
		for key, b := range parsed.Entities.Bibs {
			id := b.ID
			if id == "" {
				id = key
			}
			authors := b.BriefInfo.Authors
			if authors == nil {
				authors = []string{}
			}
			result.Entries = append(result.Entries, music.CatalogEntry{
				ID:      id,
				Title:   b.BriefInfo.Title,
				Authors: authors,
			})
		}
	}
	sort.Slice(result.Entries, func(i, j int) bool { return result.Entries[i].ID < result.Entries[j].ID })

	c.logger.Debug("fetched catalog page", "library", c.library, "page", page, "pages", result.Pages, "entries", len(result.Entries))
	return result, nil
}

// RecordURL links to the public catalog page of a record.
func RecordURL(library, id string) string {
	if library == "" {
		library = DefaultLibrary
	}
	return fmt.Sprintf("https://%s.bibliocommons.com/v2/record/%s", library, url.PathEscape(id))
}
