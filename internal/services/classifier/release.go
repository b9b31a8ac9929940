// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package classifier

import (
	"context"
	"regexp"

	"github.com/moistari/rls"

	"github.com/phantomfetch/phantomfetch/internal/models"
)

var (
	seasonPattern = regexp.MustCompile(`(?i)\b(season\s*\d{1,2}|complete\s+series|s\d{1,2}(e\d{1,3})?)\b`)
	audioPattern  = regexp.MustCompile(`(?i)\b(flac|mp3|alac|aac|320\s*kbps|v0|discography|album|ep|lp)\b`)
)

// ReleaseClassifier decides offline from the title's own shape: season
// markers, audio format tags and the release-name parser.
type ReleaseClassifier struct{}

func NewReleaseClassifier() *ReleaseClassifier {
	return &ReleaseClassifier{}
}

func (ReleaseClassifier) Classify(_ context.Context, title string) (models.Category, error) {
	switch {
	case seasonPattern.MatchString(title):
		return models.CategoryTV, nil
	case audioPattern.MatchString(title):
		return models.CategoryMusic, nil
	}

	r := rls.ParseString(title)
	switch r.Type {
	case rls.Series, rls.Episode:
		return models.CategoryTV, nil
	case rls.Movie:
		return models.CategoryMovie, nil
	case rls.Music:
		return models.CategoryMusic, nil
	}

	if r.Series > 0 || r.Episode > 0 {
		return models.CategoryTV, nil
	}
	return models.CategoryUnknown, nil
}
