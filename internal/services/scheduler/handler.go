// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/pkg/mediapath"
)

// Handler describes how the entries of one category are fulfilled. The
// scheduler visits handlers in order, one per tick.
type Handler interface {
	Category() models.Category
	// LibraryQuery returns the name and optional year to look up in the library.
	LibraryQuery(title string) (string, *int)
	// Destination returns the save path for a submission; empty leaves it to the client.
	Destination(title string) string
}

// SeasonCounter looks up how many seasons a show has. Zero means unknown.
type SeasonCounter interface {
	SeasonCount(ctx context.Context, show string) (int, error)
}

// seasonal handlers fetch an entry one season per visit.
type seasonal interface {
	Seasons(ctx context.Context, title string) int
	SeasonQuery(title string, season int) string
	SeasonDestination(title string, season int) string
}

type movieHandler struct{ roots mediapath.Roots }

func (movieHandler) Category() models.Category { return models.CategoryMovie }

func (movieHandler) LibraryQuery(title string) (string, *int) { return models.SplitYear(title) }

func (h movieHandler) Destination(title string) string { return h.roots.MovieDir(title) }

type tvHandler struct {
	roots   mediapath.Roots
	seasons SeasonCounter
}

func (tvHandler) Category() models.Category { return models.CategoryTV }

func (tvHandler) LibraryQuery(title string) (string, *int) { return title, nil }

func (h tvHandler) Destination(title string) string { return h.roots.TVDir(title) }

// Seasons returns the season count of title, or 0 to fetch the show as one
// submission.
func (h tvHandler) Seasons(ctx context.Context, title string) int {
	if h.seasons == nil {
		return 0
	}
	n, err := h.seasons.SeasonCount(ctx, title)
	if err != nil {
		log.Warn().Err(err).Str("module", "scheduler").Str("title", title).Msg("Season lookup failed, searching the whole show")
		return 0
	}
	return max(n, 0)
}

// SeasonQuery returns "<show> S01" style queries.
func (tvHandler) SeasonQuery(title string, season int) string {
	name, _ := models.SplitYear(title)
	return fmt.Sprintf("%s S%02d", name, season)
}

func (h tvHandler) SeasonDestination(title string, season int) string {
	return h.roots.SeasonDir(title, season)
}

type musicHandler struct{ roots mediapath.Roots }

func (musicHandler) Category() models.Category { return models.CategoryMusic }

func (musicHandler) LibraryQuery(title string) (string, *int) { return title, nil }

func (h musicHandler) Destination(title string) string { return h.roots.MusicDir(title) }

// DefaultOrder is the category rotation used when none is configured.
var DefaultOrder = []models.Category{models.CategoryTV, models.CategoryMovie, models.CategoryMusic}

// NewHandlers builds the handler rotation for order. An empty order uses
// DefaultOrder. With a nil seasons every show is fetched as one submission.
func NewHandlers(order []models.Category, roots mediapath.Roots, seasons SeasonCounter) ([]Handler, error) {
	if len(order) == 0 {
		order = DefaultOrder
	}

	seen := make(map[models.Category]struct{}, len(order))
	handlers := make([]Handler, 0, len(order))
	for _, c := range order {
		if _, dup := seen[c]; dup {
			return nil, errors.Errorf("category %s listed twice", c)
		}
		seen[c] = struct{}{}

		switch c {
		case models.CategoryMovie:
			handlers = append(handlers, movieHandler{roots: roots})
		case models.CategoryTV:
			handlers = append(handlers, tvHandler{roots: roots, seasons: seasons})
		case models.CategoryMusic:
			handlers = append(handlers, musicHandler{roots: roots})
		default:
			return nil, errors.Wrapf(models.ErrUnknownCategory, "handler for %d", int(c))
		}
	}
	return handlers, nil
}
