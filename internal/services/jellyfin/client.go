// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package jellyfin answers whether a requested title is already part of the
// media library.
package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/buildinfo"
	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/pkg/stringutils"
)

const (
	DefaultTimeout = 30 * time.Second

	tokenHeader      = "X-Emby-Token"
	maxResponseBytes = 64 << 20
)

// ErrMissingCredentials is returned when the server URL or API key is empty.
var ErrMissingCredentials = errors.New("jellyfin url and api key are required")

// itemTypes maps a queue category to the Jellyfin item types that satisfy it.
var itemTypes = map[models.Category]string{
	models.CategoryMovie: "Movie",
	models.CategoryTV:    "Series",
	models.CategoryMusic: "MusicAlbum,MusicArtist",
}

// StatusError is a non-2xx answer from Jellyfin.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jellyfin request to %s returned status %d", e.URL, e.StatusCode)
}

type item struct {
	Name           string `json:"Name"`
	Type           string `json:"Type"`
	ProductionYear int    `json:"ProductionYear"`
}

type itemsResponse struct {
	Items            []item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// Client queries a Jellyfin server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient validates the credentials and builds a client. A non-positive
// timeout uses DefaultTimeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingCredentials
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("module", "jellyfin").Logger(),
	}, nil
}

// Exists reports whether an item named title (case-insensitive) of the
// category's type is in the library. When releaseYear is set the item's
// production year must match as well.
func (c *Client) Exists(ctx context.Context, title string, category models.Category, releaseYear *int) (bool, error) {
	types, ok := itemTypes[category]
	if !ok {
		return false, errors.Wrapf(models.ErrUnknownCategory, "category %d", int(category))
	}

	params := url.Values{}
	params.Set("searchTerm", title)
	params.Set("IncludeItemTypes", types)
	params.Set("Recursive", "true")

	var body itemsResponse
	if err := c.get(ctx, "Items", params, &body); err != nil {
		return false, err
	}

	for _, it := range body.Items {
		if !stringutils.EqualFold(it.Name, title) {
			continue
		}
		if releaseYear != nil && it.ProductionYear != *releaseYear {
			continue
		}

		c.log.Debug().Str("title", title).Str("type", it.Type).Int("year", it.ProductionYear).Msg("Found in library")
		return true, nil
	}

	return false, nil
}

// Refresh asks Jellyfin to rescan all libraries.
func (c *Client) Refresh(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.baseURL, "Library", "Refresh")
	if err != nil {
		return errors.Wrap(err, "build jellyfin refresh url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build jellyfin refresh request")
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "jellyfin library refresh failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	c.log.Debug().Msg("Library refresh requested")
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return errors.Wrapf(err, "build jellyfin %s url", path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrapf(err, "build jellyfin %s request", path)
	}
	req.URL.RawQuery = params.Encode()
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "jellyfin %s request failed", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return errors.Wrapf(err, "decode jellyfin %s response", path)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set(tokenHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
}
