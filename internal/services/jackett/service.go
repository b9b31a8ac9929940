// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jackett

import (
	"context"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/pkg/retry"
)

var (
	// ErrMissingCredentials is returned when the Jackett URL or API key is not configured.
	ErrMissingCredentials = errors.New("jackett url and api key are required")
	// ErrMissingCategory is returned when a queue category has no indexer category id.
	ErrMissingCategory = errors.New("jackett category id not configured")
	// ErrInvalidFilter is returned when the result filter expression does not compile.
	ErrInvalidFilter = errors.New("invalid result filter")
)

const (
	DefaultMinSeeders  = 5
	DefaultRetries     = 3
	DefaultBackoffBase = 2 * time.Second
)

// DefaultCategoryIDs are the standard Torznab category ids.
var DefaultCategoryIDs = map[models.Category]int{
	models.CategoryMovie: 2000,
	models.CategoryTV:    5000,
	models.CategoryMusic: 3000,
}

var trailingYearSuffix = regexp.MustCompile(`\s*\(\d{4}\)\s*$`)

// Config configures the search service.
type Config struct {
	URL            string
	APIKey         string
	TimeoutSeconds int
	CategoryIDs    map[models.Category]int
	MinSeeders     int
	Retries        uint
	BackoffBase    time.Duration
	// Filter is an optional boolean expression evaluated against FilterEnv.
	Filter string
}

// Searcher performs the raw indexer query.
type Searcher interface {
	SearchAll(ctx context.Context, query string, categories []int) (*SearchResponse, error)
}

// Service finds the best magnet for a requested title.
type Service struct {
	searcher    Searcher
	cache       *FailureCache
	categoryIDs map[models.Category]int
	minSeeders  int
	policy      retry.Policy
	filter      *vm.Program
	now         func() time.Time
	log         zerolog.Logger
}

// NewService validates cfg and builds a service backed by the Jackett HTTP API.
func NewService(cfg Config, cache *FailureCache) (*Service, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredentials
	}
	return NewServiceWithSearcher(cfg, NewClient(cfg.URL, cfg.APIKey, cfg.TimeoutSeconds), cache)
}

// NewServiceWithSearcher builds a service around an arbitrary searcher.
func NewServiceWithSearcher(cfg Config, searcher Searcher, cache *FailureCache) (*Service, error) {
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}

	categoryIDs := cfg.CategoryIDs
	if categoryIDs == nil {
		categoryIDs = DefaultCategoryIDs
	}
	for _, c := range models.Categories {
		if categoryIDs[c] <= 0 {
			return nil, errors.Wrapf(ErrMissingCategory, "category %s", c)
		}
	}

	if cache == nil {
		cache = NewFailureCache(DefaultFailureTTL)
	}

	minSeeders := cfg.MinSeeders
	if minSeeders <= 0 {
		minSeeders = DefaultMinSeeders
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	backoff := cfg.BackoffBase
	if backoff <= 0 {
		backoff = DefaultBackoffBase
	}

	s := &Service{
		searcher:    searcher,
		cache:       cache,
		categoryIDs: categoryIDs,
		minSeeders:  minSeeders,
		now:         time.Now,
		log:         log.With().Str("module", "jackett").Logger(),
	}

	s.policy = retry.ExponentialPolicy(retries, backoff)
	s.policy.RetryIf = isTransient
	s.policy.OnRetry = func(attempt uint, err error) {
		s.log.Warn().Err(err).Uint("attempt", attempt).Dur("backoff", s.policy.DelayFor(attempt)).Msg("Jackett search failed, retrying")
	}

	if expression := strings.TrimSpace(cfg.Filter); expression != "" {
		program, err := expr.Compile(expression, expr.Env(FilterEnv{}), expr.AsBool())
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidFilter, "%s: %v", expression, err)
		}
		s.filter = program
	}

	return s, nil
}

// Cache exposes the failure cache for status reporting.
func (s *Service) Cache() *FailureCache {
	return s.cache
}

// MinSeeders returns the eligibility threshold.
func (s *Service) MinSeeders() int {
	return s.minSeeders
}

// Search returns the best eligible candidate for query. Timeouts, transport
// errors and empty result sets are reported as ok == false and recorded in the
// failure cache; the next lookup of the same query within the TTL is answered
// without a network call.
func (s *Service) Search(ctx context.Context, query string, category models.Category) (*models.CandidateResult, bool) {
	l := s.log.With().Str("query", query).Str("category", category.String()).Logger()

	if s.cache.IsRecentlyFailed(query) {
		l.Debug().Msg("Skipping search due to recent failure")
		return nil, false
	}

	categoryID, ok := s.categoryIDs[category]
	if !ok {
		l.Error().Msg("No indexer category configured")
		return nil, false
	}

	formatted := FormatQuery(query, category)
	if formatted == "" {
		l.Warn().Msg("Query is empty after formatting")
		s.cache.RecordFailure(query)
		return nil, false
	}

	var resp *SearchResponse
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var searchErr error
		resp, searchErr = s.searcher.SearchAll(ctx, formatted, []int{categoryID})
		return searchErr
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown is not a search failure.
			l.Debug().Err(err).Msg("Search cancelled")
			return nil, false
		}
		l.Error().Err(err).Msg("Jackett search error")
		s.cache.RecordFailure(query)
		return nil, false
	}

	for _, idx := range resp.Indexers {
		if idx.Error != "" {
			l.Debug().Str("indexer", idx.Name).Str("error", idx.Error).Msg("Indexer reported an error")
		}
	}

	best, ok := s.selectBest(resp.Results)
	if !ok {
		l.Info().Int("results", len(resp.Results)).Int("minSeeders", s.minSeeders).Msg("No suitable results found")
		s.cache.RecordFailure(query)
		return nil, false
	}

	l.Info().Str("release", best.Title).Int("seeders", best.Seeders).Str("indexer", best.Indexer).Msg("Selected torrent")
	return best, true
}

// selectBest keeps eligible results and returns the one with the most seeders.
// Equal seeder counts keep the provider's order.
func (s *Service) selectBest(results []Result) (*models.CandidateResult, bool) {
	eligible := make([]models.CandidateResult, 0, len(results))

	for _, r := range results {
		if r.Seeders < s.minSeeders || r.MagnetURI == "" {
			continue
		}

		magnet, err := metainfo.ParseMagnetUri(r.MagnetURI)
		if err != nil || magnet.InfoHash == (metainfo.Hash{}) {
			s.log.Debug().Err(err).Str("release", r.Title).Msg("Ignoring result with invalid magnet")
			continue
		}

		if s.filter != nil && !s.accepts(r) {
			continue
		}

		eligible = append(eligible, models.CandidateResult{
			Title:     r.Title,
			Seeders:   r.Seeders,
			MagnetURI: r.MagnetURI,
			Size:      r.Size,
			Indexer:   r.Tracker,
			InfoHash:  magnet.InfoHash.HexString(),
		})
	}

	if len(eligible) == 0 {
		return nil, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Seeders > eligible[j].Seeders
	})

	best := eligible[0]
	return &best, true
}

func (s *Service) accepts(r Result) bool {
	env := FilterEnv{
		Title:     r.Title,
		Tracker:   r.Tracker,
		Size:      r.Size,
		Seeders:   r.Seeders,
		Peers:     r.Peers,
		Freeleech: r.Freeleech,
	}
	if !r.PublishDate.IsZero() {
		env.AgeHours = s.now().Sub(r.PublishDate).Hours()
	}

	out, err := expr.Run(s.filter, env)
	if err != nil {
		s.log.Debug().Err(err).Str("release", r.Title).Msg("Result filter failed")
		return false
	}
	accepted, _ := out.(bool)
	return accepted
}

// FormatQuery prepares a queued title for the indexer.
//   - Movie: "Inception (2010)" → "Inception"
//   - all categories: "Schindler's List" → "Schindlers List"
func FormatQuery(query string, category models.Category) string {
	if category == models.CategoryMovie {
		query = trailingYearSuffix.ReplaceAllString(query, "")
	}

	query = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), r == '_':
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, query)

	return strings.Join(strings.Fields(query), " ")
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Per-request client timeouts surface as url.Error wrapping a net timeout, not ctx errors.
		var netErr net.Error
		return errors.As(err, &netErr) && netErr.Timeout()
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return true
}
