// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jackett

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phantomfetch/phantomfetch/internal/buildinfo"
)

const maxResponseBytes int64 = 32 << 20

// APIError represents a non-2xx answer from Jackett.
// It preserves the status code for rate-limit detection and retry logic.
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jackett request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	_, ok := target.(*APIError)
	return ok
}

// IsRateLimited returns true if this error indicates rate limiting (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether repeating the request may succeed.
// Authentication and request errors will not change on retry.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.StatusCode >= http.StatusInternalServerError
}

// Client talks to the Jackett JSON results API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a Jackett client. A non-positive timeout defaults to 30 seconds.
func NewClient(baseURL, apiKey string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// SearchAll queries every configured indexer for query restricted to categories.
func (c *Client) SearchAll(ctx context.Context, query string, categories []int) (*SearchResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint, err := c.resultsURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build jackett search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	params := req.URL.Query()
	params.Set("apikey", c.apiKey)
	params.Set("Query", query)
	for _, cat := range categories {
		params.Add("Category[]", strconv.Itoa(cat))
	}
	req.URL.RawQuery = params.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jackett search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode jackett response: %w", err)
	}

	return convertResponse(body), nil
}

// resultsURL builds the aggregate endpoint. A base URL that already points at an
// indexer path (as copied from the Jackett UI) is reduced to its root.
func (c *Client) resultsURL() (string, error) {
	baseRoot := c.baseURL

	const jackettAPIPrefix = "/api/v2.0/"
	if idx := strings.Index(baseRoot, jackettAPIPrefix); idx != -1 {
		baseRoot = strings.TrimRight(baseRoot[:idx], "/")
	}

	if baseRoot == "" {
		return "", fmt.Errorf("jackett url not configured")
	}

	endpoint, err := url.JoinPath(baseRoot, "api", "v2.0", "indexers", "all", "results")
	if err != nil {
		return "", fmt.Errorf("build jackett search url: %w", err)
	}
	return endpoint, nil
}

func convertResponse(body searchResponse) *SearchResponse {
	out := &SearchResponse{
		Results:  make([]Result, 0, len(body.Results)),
		Indexers: make([]IndexerStatus, 0, len(body.Indexers)),
	}

	for _, item := range body.Results {
		result := Result{
			Tracker:     item.Tracker,
			TrackerID:   item.TrackerID,
			Title:       item.Title,
			Link:        item.Link,
			Details:     item.Details,
			GUID:        item.GUID,
			PublishDate: item.PublishDate.Time,
			Categories:  item.Category,
			Size:        item.Size,
			MagnetURI:   strings.TrimSpace(item.MagnetURI),
			InfoHash:    strings.ToLower(strings.TrimSpace(item.InfoHash)),
		}
		if item.Seeders != nil {
			result.Seeders = *item.Seeders
		}
		if item.Peers != nil {
			result.Peers = *item.Peers
		}
		if item.DownloadVolumeFactor != nil && *item.DownloadVolumeFactor == 0 {
			result.Freeleech = true
		}
		out.Results = append(out.Results, result)
	}

	for _, idx := range body.Indexers {
		out.Indexers = append(out.Indexers, IndexerStatus{
			ID:      idx.ID,
			Name:    idx.Name,
			Results: idx.Results,
			Error:   idx.Error,
		})
	}

	return out
}
