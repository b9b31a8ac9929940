// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jackett

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: http.StatusUnauthorized, URL: "http://jackett:9117/api/v2.0/indexers/all/results"}
	assert.Equal(t, "jackett request to http://jackett:9117/api/v2.0/indexers/all/results returned status 401", err.Error())
}

func TestAPIError_Classification(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		rateLimited bool
		retryable   bool
	}{
		{name: "429 is rate limited", statusCode: http.StatusTooManyRequests, rateLimited: true, retryable: true},
		{name: "500 is retryable", statusCode: http.StatusInternalServerError, retryable: true},
		{name: "503 is retryable", statusCode: http.StatusServiceUnavailable, retryable: true},
		{name: "401 is permanent", statusCode: http.StatusUnauthorized},
		{name: "404 is permanent", statusCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &APIError{StatusCode: tt.statusCode}
			assert.Equal(t, tt.rateLimited, err.IsRateLimited())
			assert.Equal(t, tt.retryable, err.IsRetryable())
		})
	}
}

func TestAPIError_ErrorsIsAs(t *testing.T) {
	err := &APIError{StatusCode: 429, URL: "https://example.com"}
	wrapped := errors.Join(errors.New("wrapper"), err)

	assert.True(t, errors.Is(wrapped, &APIError{}), "errors.Is should find APIError in wrapped error")
	assert.False(t, err.Is(errors.New("other")))

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)
}

func TestClient_SearchAll(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"Results": [
				{"Tracker": "TrackerA", "Title": "Inception.2010.1080p", "Seeders": 42, "Peers": 3, "Size": 1000,
				 "MagnetUri": " magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567 ", "InfoHash": "0123456789ABCDEF0123456789ABCDEF01234567",
				 "PublishDate": "2024-05-01T10:00:00", "Category": [2000, 2040], "DownloadVolumeFactor": 0},
				{"Tracker": "TrackerB", "Title": "Inception.2010.720p", "Seeders": null, "MagnetUri": null, "PublishDate": "2024-05-01T10:00:00+02:00"}
			],
			"Indexers": [{"ID": "a", "Name": "TrackerA", "Status": 2, "Results": 1}, {"ID": "b", "Name": "TrackerB", "Status": 1, "Error": "timeout"}]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret", 5)
	resp, err := client.SearchAll(context.Background(), "Inception", []int{2000})
	require.NoError(t, err)

	assert.Equal(t, "/api/v2.0/indexers/all/results", gotPath)
	assert.Equal(t, []string{"secret"}, gotQuery["apikey"])
	assert.Equal(t, []string{"Inception"}, gotQuery["Query"])
	assert.Equal(t, []string{"2000"}, gotQuery["Category[]"])

	require.Len(t, resp.Results, 2)
	first := resp.Results[0]
	assert.Equal(t, "TrackerA", first.Tracker)
	assert.Equal(t, 42, first.Seeders)
	assert.Equal(t, "magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567", first.MagnetURI)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", first.InfoHash)
	assert.True(t, first.Freeleech)
	assert.Equal(t, 2024, first.PublishDate.Year())
	assert.Equal(t, []int{2000, 2040}, first.Categories)

	second := resp.Results[1]
	assert.Zero(t, second.Seeders)
	assert.Empty(t, second.MagnetURI)
	assert.False(t, second.Freeleech)

	require.Len(t, resp.Indexers, 2)
	assert.Equal(t, "timeout", resp.Indexers[1].Error)
}

func TestClient_SearchAllStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "wrong", 5).SearchAll(context.Background(), "x", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClient_SearchAllBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "k", 5).SearchAll(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode jackett response")
}

func TestClient_ResultsURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
		wantErr bool
	}{
		{name: "root", baseURL: "http://localhost:9117", want: "http://localhost:9117/api/v2.0/indexers/all/results"},
		{name: "trailing slash", baseURL: "http://localhost:9117/", want: "http://localhost:9117/api/v2.0/indexers/all/results"},
		{name: "sub path", baseURL: "https://host/jackett", want: "https://host/jackett/api/v2.0/indexers/all/results"},
		{
			name:    "indexer url pasted",
			baseURL: "http://localhost:9117/api/v2.0/indexers/1337x/results/torznab/",
			want:    "http://localhost:9117/api/v2.0/indexers/all/results",
		},
		{name: "empty", baseURL: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewClient(tt.baseURL, "k", 0).resultsURL()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
