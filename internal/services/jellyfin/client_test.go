// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jellyfin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantomfetch/phantomfetch/internal/models"
)

type library struct {
	mu        sync.Mutex
	queries   []url.Values
	tokens    []string
	refreshes int
	status    int
	body      string
}

func (l *library) setStatus(status int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = status
}

func newLibrary(t *testing.T, body string) (*library, *Client) {
	t.Helper()
	lib := &library{body: body, status: http.StatusOK}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lib.mu.Lock()
		defer lib.mu.Unlock()
		lib.tokens = append(lib.tokens, r.Header.Get("X-Emby-Token"))

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/jellyfin/Items":
			lib.queries = append(lib.queries, r.URL.Query())
			if lib.status != http.StatusOK {
				w.WriteHeader(lib.status)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(lib.body))
		case r.Method == http.MethodPost && r.URL.Path == "/jellyfin/Library/Refresh":
			lib.refreshes++
			w.WriteHeader(lib.status)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL+"/jellyfin/", "token-123", 0)
	require.NoError(t, err)
	return lib, client
}

func intPtr(v int) *int { return &v }

func TestNewClient_MissingCredentials(t *testing.T) {
	_, err := NewClient("", "key", 0)
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewClient("http://jellyfin:8096", " ", 0)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestClient_Exists(t *testing.T) {
	const body = `{"Items": [
		{"Name": "Inception", "Type": "Movie", "ProductionYear": 2010},
		{"Name": "Dark", "Type": "Series", "ProductionYear": 2017},
		{"Name": "Amélie", "Type": "Movie", "ProductionYear": 2001},
		{"Name": "Random Access Memories", "Type": "MusicAlbum"}
	], "TotalRecordCount": 4}`

	tests := []struct {
		name     string
		title    string
		category models.Category
		year     *int
		want     bool
	}{
		{name: "exact name", title: "Inception", category: models.CategoryMovie, want: true},
		{name: "case insensitive", title: "inception", category: models.CategoryMovie, want: true},
		{name: "year matches", title: "Inception", category: models.CategoryMovie, year: intPtr(2010), want: true},
		{name: "year differs", title: "Inception", category: models.CategoryMovie, year: intPtr(2011), want: false},
		{name: "partial name does not match", title: "Incep", category: models.CategoryMovie, want: false},
		{name: "unicode fold", title: "AMÉLIE", category: models.CategoryMovie, want: true},
		{name: "series", title: "dark", category: models.CategoryTV, want: true},
		{name: "album", title: "Random Access Memories", category: models.CategoryMusic, want: true},
		{name: "absent", title: "Tenet", category: models.CategoryMovie, want: false},
	}

	_, client := newLibrary(t, body)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Exists(context.Background(), tt.title, tt.category, tt.year)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_ExistsQuery(t *testing.T) {
	lib, client := newLibrary(t, `{"Items": []}`)

	tests := []struct {
		category  models.Category
		wantTypes string
	}{
		{category: models.CategoryMovie, wantTypes: "Movie"},
		{category: models.CategoryTV, wantTypes: "Series"},
		{category: models.CategoryMusic, wantTypes: "MusicAlbum,MusicArtist"},
	}

	for i, tt := range tests {
		found, err := client.Exists(context.Background(), "Schindler's List", tt.category, nil)
		require.NoError(t, err)
		assert.False(t, found)

		q := lib.queries[i]
		assert.Equal(t, "Schindler's List", q.Get("searchTerm"))
		assert.Equal(t, tt.wantTypes, q.Get("IncludeItemTypes"))
		assert.Equal(t, "true", q.Get("Recursive"))
	}

	for _, token := range lib.tokens {
		assert.Equal(t, "token-123", token)
	}
}

func TestClient_ExistsErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		lib, client := newLibrary(t, "")
		lib.setStatus(http.StatusUnauthorized)

		_, err := client.Exists(context.Background(), "Inception", models.CategoryMovie, nil)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	})

	t.Run("bad json", func(t *testing.T) {
		_, client := newLibrary(t, "<html>")
		_, err := client.Exists(context.Background(), "Inception", models.CategoryMovie, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode jellyfin")
	})

	t.Run("unknown category", func(t *testing.T) {
		lib, client := newLibrary(t, `{"Items": []}`)
		_, err := client.Exists(context.Background(), "Inception", models.CategoryUnknown, nil)
		assert.ErrorIs(t, err, models.ErrUnknownCategory)
		assert.Empty(t, lib.queries)
	})

	t.Run("unreachable", func(t *testing.T) {
		client, err := NewClient("http://127.0.0.1:1", "k", 0)
		require.NoError(t, err)
		_, err = client.Exists(context.Background(), "Inception", models.CategoryMovie, nil)
		assert.Error(t, err)
	})
}

func TestClient_Refresh(t *testing.T) {
	lib, client := newLibrary(t, "")
	require.NoError(t, client.Refresh(context.Background()))
	assert.Equal(t, 1, lib.refreshes)

	lib.setStatus(http.StatusForbidden)
	err := client.Refresh(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}
