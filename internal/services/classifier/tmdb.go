// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package classifier

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
	"unicode"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/buildinfo"
	"github.com/phantomfetch/phantomfetch/internal/models"
)

// DefaultTMDbURL is the public TMDb v3 API root.
const DefaultTMDbURL = "https://api.themoviedb.org/3"

type tvSearchResponse struct {
	Results []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

type tvDetailsResponse struct {
	NumberOfSeasons int `json:"number_of_seasons"`
}

type multiSearchResponse struct {
	Results []struct {
		ID        int    `json:"id"`
		MediaType string `json:"media_type"`
		Title     string `json:"title"`
		Name      string `json:"name"`
	} `json:"results"`
}

// TMDbClassifier uses the media type of the top TMDb multi-search hit. It also
// looks up season counts for shows.
type TMDbClassifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewTMDbClassifier returns nil when apiKey is empty. An empty baseURL uses DefaultTMDbURL.
func NewTMDbClassifier(apiKey, baseURL string, timeout time.Duration) *TMDbClassifier {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = DefaultTMDbURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &TMDbClassifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("module", "classifier").Str("classifier", "tmdb").Logger(),
	}
}

func (c *TMDbClassifier) Classify(ctx context.Context, title string) (models.Category, error) {
	if c == nil {
		return models.CategoryUnknown, nil
	}

	params := url.Values{}
	params.Set("query", title)
	params.Set("include_adult", "false")

	var body multiSearchResponse
	if err := c.get(ctx, params, &body, "search", "multi"); err != nil {
		return models.CategoryUnknown, err
	}

	if len(body.Results) == 0 {
		c.log.Debug().Str("title", title).Msg("No TMDb results")
		return models.CategoryUnknown, nil
	}

	first := body.Results[0]
	switch first.MediaType {
	case "movie":
		c.log.Debug().Str("title", title).Str("match", first.Title).Int("tmdbId", first.ID).Msg("Classified as movie")
		return models.CategoryMovie, nil
	case "tv":
		c.log.Debug().Str("title", title).Str("match", first.Name).Int("tmdbId", first.ID).Msg("Classified as tv")
		return models.CategoryTV, nil
	default:
		return models.CategoryUnknown, nil
	}
}

// SeasonCount returns the number of seasons of the show whose name matches
// show. A trailing "(year)" narrows the search to that first air year. Zero
// means no matching show was found.
func (c *TMDbClassifier) SeasonCount(ctx context.Context, show string) (int, error) {
	if c == nil {
		return 0, nil
	}

	name, year := models.SplitYear(show)
	params := url.Values{}
	params.Set("query", name)
	if year != nil {
		params.Set("first_air_date_year", strconv.Itoa(*year))
	}

	var results tvSearchResponse
	if err := c.get(ctx, params, &results, "search", "tv"); err != nil {
		return 0, err
	}

	want := matchKey(name)
	for _, r := range results.Results {
		if matchKey(r.Name) != want {
			continue
		}

		var details tvDetailsResponse
		if err := c.get(ctx, url.Values{}, &details, "tv", strconv.Itoa(r.ID)); err != nil {
			return 0, err
		}
		c.log.Debug().Str("show", show).Int("tmdbId", r.ID).Int("seasons", details.NumberOfSeasons).Msg("Found season count")
		return details.NumberOfSeasons, nil
	}

	c.log.Debug().Str("show", show).Msg("No TMDb show with a matching name")
	return 0, nil
}

func (c *TMDbClassifier) get(ctx context.Context, params url.Values, out any, elem ...string) error {
	endpoint, err := url.JoinPath(c.baseURL, elem...)
	if err != nil {
		return errors.Wrap(err, "build tmdb url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build tmdb request")
	}
	params.Set("api_key", c.apiKey)
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "tmdb request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("tmdb %s returned status %d", strings.Join(elem, "/"), resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return errors.Wrap(err, "decode tmdb response")
	}
	return nil
}

// matchKey compares show names ignoring case, punctuation and extra spaces.
func matchKey(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, name)
	return strings.Join(strings.Fields(name), " ")
}
