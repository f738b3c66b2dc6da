package bibliocommons

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/upstream"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Interval: time.Millisecond})
}

func TestFetchPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/libraries/sfpl/bibs/search", r.URL.Path)
		assert.Equal(t, "en-US", r.URL.Query().Get("locale"))
		assert.Equal(t, "curl/7.81.0", r.Header.Get("User-Agent"))

		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]string{
			"query":      "LP",
			"f_FORMAT":   "LP",
			"searchType": "keyword",
			"page":       "2",
		}, req)

		w.Write([]byte(`{
			"catalogSearch": {"pagination": {"pages": 7}},
			"entities": {"bibs": {
				"S93C2": {"id": "S93C2", "briefInfo": {"title": "Unplugged", "authors": ["Clapton, Eric"]}},
				"S11A1": {"id": "S11A1", "briefInfo": {"title": "Blue", "authors": []}}
			}}
		}`))
	})

	page, err := c.FetchPage(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Number)
	assert.Equal(t, 7, page.Pages)
	assert.Equal(t, []music.CatalogEntry{
		{ID: "S11A1", Title: "Blue", Authors: []string{}},
		{ID: "S93C2", Title: "Unplugged", Authors: []string{"Clapton, Eric"}},
	}, page.Entries)
}

func TestFetchPageWithoutEntities(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"catalogSearch": {"pagination": {"pages": 0}}}`))
	})

	page, err := c.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Pages)
	assert.Empty(t, page.Entries)
}

func TestFetchPageMissingPaginationIsMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"entities": {"bibs": {}}}`))
	})

	_, err := c.FetchPage(context.Background(), 1)
	assert.True(t, upstream.IsMalformed(err), "got %v", err)
}

func TestFetchPageInvalidJSONIsMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})

	_, err := c.FetchPage(context.Background(), 1)
	assert.True(t, upstream.IsMalformed(err), "got %v", err)
}

func TestFetchPageUpstreamFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusBadGateway)
	})

	_, err := c.FetchPage(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, upstream.StatusCode(err))
	assert.False(t, upstream.IsMalformed(err))
}

func TestRecordURL(t *testing.T) {
	assert.Equal(t, "https://sfpl.bibliocommons.com/v2/record/S93C2", RecordURL("", "S93C2"))
	assert.Equal(t, "https://nypl.bibliocommons.com/v2/record/S1", RecordURL("nypl", "S1"))
}
