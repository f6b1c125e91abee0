package nexus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchEntitiesByIDs_EmptyInputShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP call expected for empty input")
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, nil)
	require.NoError(t, err)

	got, err := c.FetchEntitiesByIDs(context.Background(), nil, "viewer")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchEntitiesByIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/entities", r.URL.Path)

		var body struct {
			IDs      []string `json:"ids"`
			ViewerID string   `json:"viewer_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"u1", "a:1"}, body.IDs)
		assert.Equal(t, "viewer", body.ViewerID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"u1","details":{"name":"One"},"counts":{},"relationships":{},"tags":[]}]`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, nil)
	require.NoError(t, err)

	got, err := c.FetchEntitiesByIDs(context.Background(), []string{"u1", "a:1"}, "viewer")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].ID)
}

func TestFetchStreamPage_CursorModePerKind(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"ids":["a:1","b:2"]}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Offset-mode kind sends skip
	page, err := c.FetchStreamPage(ctx, "influencers:today:all", Cursor{Offset: 10}, 5, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, page.IDs)
	assert.Equal(t, []string{"10"}, gotQuery["skip"])
	assert.NotContains(t, gotQuery, "since")

	// Time-mode kind sends since
	_, err = c.FetchStreamPage(ctx, "timeline:all", Cursor{Since: 1700000000000}, 5, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000000000"}, gotQuery["since"])
	assert.NotContains(t, gotQuery, "skip")
}

func TestHTTPClient_NonSuccessStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, nil)
	require.NoError(t, err)

	_, err = c.FetchStreamPage(context.Background(), "timeline:all", Cursor{}, 5, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
