// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantomfetch/phantomfetch/internal/api/handlers"
	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/internal/queue"
	"github.com/phantomfetch/phantomfetch/internal/services/classifier"
	"github.com/phantomfetch/phantomfetch/internal/services/reaper"
	"github.com/phantomfetch/phantomfetch/internal/services/scheduler"
)

type fakeStats struct{}

func (fakeStats) Stats() scheduler.Stats {
	return scheduler.Stats{Ticks: 12, Running: true, Order: scheduler.DefaultOrder}
}

type fakeDownloads struct {
	count int
	err   error
}

func (f fakeDownloads) Snapshot(context.Context) (models.ActiveDownloadSnapshot, error) {
	if f.err != nil {
		return models.ActiveDownloadSnapshot{}, f.err
	}
	return models.ActiveDownloadSnapshot{Count: f.count, TakenAt: time.Now()}, nil
}

type fakeSubmissions []*models.Submission

func (f fakeSubmissions) List(context.Context, models.Category) ([]*models.Submission, error) {
	return f, nil
}

type fakeReaper struct{}

func (fakeReaper) Status() reaper.Status { return reaper.Status{Schedule: "@every 5m", Total: 4} }

func newTestServer(t *testing.T, mutate ...func(*Dependencies)) (*queue.Store, http.Handler) {
	t.Helper()

	store, err := queue.NewStore(filepath.Join(t.TempDir(), "requests"))
	require.NoError(t, err)

	deps := &Dependencies{
		Host:  "127.0.0.1",
		Port:  7480,
		Queue: store,
		Classifier: classifier.Func(func(_ context.Context, title string) (models.Category, error) {
			switch {
			case strings.Contains(title, "(19"), strings.Contains(title, "(20"):
				return models.CategoryMovie, nil
			case strings.Contains(title, "Season"):
				return models.CategoryTV, nil
			default:
				return models.CategoryUnknown, nil
			}
		}),
		Scheduler:   fakeStats{},
		Downloads:   fakeDownloads{count: 3},
		Submissions: fakeSubmissions{{Category: models.CategoryTV, Title: "Dark", Magnet: "magnet:dark"}},
		Reaper:      fakeReaper{},
		Limit:       func() int { return 15 },
	}
	for _, m := range mutate {
		m(deps)
	}

	router, err := NewServer(deps).Handler()
	require.NoError(t, err)
	return store, router
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	_, router := newTestServer(t)
	mux, ok := router.(*chi.Mux)
	require.True(t, ok)

	var got []string
	require.NoError(t, chi.Walk(mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		got = append(got, method+" "+strings.TrimSuffix(route, "/"))
		return nil
	}))
	sort.Strings(got)

	want := []string{
		"DELETE /api/queues/{category}",
		"GET /api/health",
		"GET /api/queues",
		"GET /api/queues/{category}",
		"GET /api/queues/{category}/peek",
		"GET /api/queues/{category}/search",
		"GET /api/status",
		"POST /api/queues/{category}",
		"POST /api/requests",
		"PUT /api/queues/{category}",
	}
	assert.Equal(t, want, got)
}

func TestHealth(t *testing.T) {
	_, router := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestQueueLifecycle(t *testing.T) {
	store, router := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/queues/movie", handlers.TitleRequest{Title: "Inception (2010)"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/queues/movies", handlers.TitleRequest{Title: "Tenet (2020)"})
	require.Equal(t, http.StatusCreated, rec.Code, "category aliases are accepted")

	rec = do(t, router, http.MethodPost, "/api/queues/movie", handlers.TitleRequest{Title: "inception (2010)"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/queues/movie", handlers.TitleRequest{Title: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/queues/movie", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{"Inception (2010)", "Tenet (2020)"}, list.Titles)

	rec = do(t, router, http.MethodGet, "/api/queues/movie/peek", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Inception (2010)")

	rec = do(t, router, http.MethodGet, "/api/queues/movie/search?q="+url.QueryEscape("tenet"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{"Tenet (2020)"}, list.Titles)

	rec = do(t, router, http.MethodPut, "/api/queues/movie", handlers.EditRequest{Title: "Tenet (2020)", NewTitle: "Dunkirk (2017)"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPut, "/api/queues/movie", handlers.EditRequest{Title: "Missing", NewTitle: "Other"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/queues/movie?title="+url.QueryEscape("INCEPTION (2010)"), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/queues/movie?title="+url.QueryEscape("Inception (2010)"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	titles, err := store.List(models.CategoryMovie)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dunkirk (2017)"}, titles)

	rec = do(t, router, http.MethodGet, "/api/queues", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, map[string]int{"movie": 1, "tv": 0, "music": 0}, counts)
}

func TestQueueErrors(t *testing.T) {
	_, router := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{name: "unknown category", method: http.MethodGet, target: "/api/queues/books", want: http.StatusNotFound},
		{name: "empty peek", method: http.MethodGet, target: "/api/queues/tv/peek", want: http.StatusNotFound},
		{name: "remove without title", method: http.MethodDelete, target: "/api/queues/tv", want: http.StatusBadRequest},
		{name: "empty list", method: http.MethodGet, target: "/api/queues/music", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.target, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCreateRequest(t *testing.T) {
	tests := []struct {
		name     string
		body     handlers.CreateRequest
		want     int
		category models.Category
	}{
		{name: "classified movie", body: handlers.CreateRequest{Title: "Inception (2010)"}, want: http.StatusCreated, category: models.CategoryMovie},
		{name: "classified tv", body: handlers.CreateRequest{Title: "Dark Season 1"}, want: http.StatusCreated, category: models.CategoryTV},
		{name: "explicit category", body: handlers.CreateRequest{Title: "Discovery", Category: "music"}, want: http.StatusCreated, category: models.CategoryMusic},
		{name: "unknown", body: handlers.CreateRequest{Title: "Something"}, want: http.StatusUnprocessableEntity},
		{name: "bad category", body: handlers.CreateRequest{Title: "Something", Category: "books"}, want: http.StatusUnprocessableEntity},
		{name: "empty title", body: handlers.CreateRequest{Title: ""}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, router := newTestServer(t)

			rec := do(t, router, http.MethodPost, "/api/requests", tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())

			if tt.want != http.StatusCreated {
				counts, err := store.Counts()
				require.NoError(t, err)
				for _, n := range counts {
					assert.Zero(t, n)
				}
				return
			}

			var entry models.RequestEntry
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
			assert.Equal(t, tt.category, entry.Category)

			titles, err := store.List(tt.category)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.body.Title}, titles)

			rec = do(t, router, http.MethodPost, "/api/requests", tt.body)
			assert.Equal(t, http.StatusConflict, rec.Code)
		})
	}
}

func TestStatus(t *testing.T) {
	t.Run("all sources", func(t *testing.T) {
		_, router := newTestServer(t)

		rec := do(t, router, http.MethodGet, "/api/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Scheduler)
		assert.Equal(t, uint64(12), resp.Scheduler.Ticks)
		assert.True(t, resp.Admission.Available)
		assert.Equal(t, 15, resp.Admission.Limit)
		require.NotNil(t, resp.Admission.Snapshot)
		assert.Equal(t, 3, resp.Admission.Snapshot.Count)
		require.Len(t, resp.Submissions, 1)
		assert.Equal(t, "Dark", resp.Submissions[0].Title)
		require.NotNil(t, resp.Reaper)
		assert.Equal(t, 4, resp.Reaper.Total)
	})

	t.Run("client unavailable", func(t *testing.T) {
		_, router := newTestServer(t, func(d *Dependencies) {
			d.Downloads = fakeDownloads{err: errors.New("connection refused")}
			d.Submissions = nil
			d.Reaper = nil
		})

		rec := do(t, router, http.MethodGet, "/api/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Admission.Available)
		assert.Equal(t, "connection refused", resp.Admission.Error)
		assert.Empty(t, resp.Submissions)
		assert.Nil(t, resp.Reaper)
	})
}

func TestBaseURL(t *testing.T) {
	_, router := newTestServer(t, func(d *Dependencies) { d.BaseURL = "phantom" })

	rec := do(t, router, http.MethodGet, "/phantom/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/phantom/")
}

func TestHandlerRequiresQueue(t *testing.T) {
	_, err := NewServer(&Dependencies{}).Handler()
	assert.Error(t, err)
}
