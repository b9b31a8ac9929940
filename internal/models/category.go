// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Category is the kind of media a request asks for.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryMovie
	CategoryTV
	CategoryMusic
)

// ErrUnknownCategory is returned when a category name cannot be parsed.
var ErrUnknownCategory = errors.New("unknown category")

// Categories lists the queueable categories in default scheduling order.
var Categories = []Category{CategoryTV, CategoryMovie, CategoryMusic}

var categoryAliases = map[string]Category{
	"movie":  CategoryMovie,
	"movies": CategoryMovie,
	"film":   CategoryMovie,
	"films":  CategoryMovie,
	"tv":     CategoryTV,
	"tvshow": CategoryTV,
	"show":   CategoryTV,
	"shows":  CategoryTV,
	"series": CategoryTV,
	"music":  CategoryMusic,
	"audio":  CategoryMusic,
	"album":  CategoryMusic,
}

// ParseCategory parses a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(key)
	if c, ok := categoryAliases[key]; ok {
		return c, nil
	}
	return CategoryUnknown, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ParseCategories parses an ordered list of category names, rejecting duplicates.
func ParseCategories(names []string) ([]Category, error) {
	seen := make(map[Category]bool, len(names))
	out := make([]Category, 0, len(names))
	for _, name := range names {
		c, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, fmt.Errorf("category %q listed twice", name)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

func (c Category) String() string {
	switch c {
	case CategoryMovie:
		return "movie"
	case CategoryTV:
		return "tv"
	case CategoryMusic:
		return "music"
	default:
		return "unknown"
	}
}

// Label is the human readable name used in logs and prompts.
func (c Category) Label() string {
	switch c {
	case CategoryMovie:
		return "Movie"
	case CategoryTV:
		return "TV Show"
	case CategoryMusic:
		return "Music"
	default:
		return "Unknown"
	}
}

// Valid reports whether c is a queueable category.
func (c Category) Valid() bool {
	return c == CategoryMovie || c == CategoryTV || c == CategoryMusic
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.EqualFold(s, "unknown") {
		*c = CategoryUnknown
		return nil
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
