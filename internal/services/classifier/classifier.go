// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package classifier guesses which queue a free-form request title belongs to.
package classifier

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
)

// Classifier maps a title to a category. It returns models.CategoryUnknown
// when it cannot decide.
type Classifier interface {
	Classify(ctx context.Context, title string) (models.Category, error)
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, title string) (models.Category, error)

func (f Func) Classify(ctx context.Context, title string) (models.Category, error) {
	return f(ctx, title)
}

// Chain asks each classifier in order and returns the first decisive answer.
// A failing classifier is skipped; an error is returned only if every
// classifier failed.
type Chain []Classifier

func (c Chain) Classify(ctx context.Context, title string) (models.Category, error) {
	var errs []error
	for _, cl := range c {
		if cl == nil {
			continue
		}

		category, err := cl.Classify(ctx, title)
		if err != nil {
			log.Warn().Err(err).Str("module", "classifier").Str("title", title).Msg("Classifier failed")
			errs = append(errs, err)
			continue
		}
		if category != models.CategoryUnknown {
			return category, nil
		}
	}

	if len(errs) > 0 && len(errs) == len(c) {
		return models.CategoryUnknown, errors.Join(errs...)
	}
	return models.CategoryUnknown, nil
}
