// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/phantomfetch/phantomfetch/pkg/stringutils"
)

var trailingYear = regexp.MustCompile(`\s*\((\d{4})\)\s*$`)

// RequestEntry is a single title waiting in a category queue.
type RequestEntry struct {
	Title    string   `json:"title"`
	Category Category `json:"category"`
}

// Key is the identity of the entry within its category.
func (e RequestEntry) Key() string {
	return stringutils.FoldKey(e.Title)
}

// SplitYear separates a trailing "(yyyy)" from a title.
//   - "Inception (2010)" → "Inception", 2010
//   - "Inception" → "Inception", nil
func SplitYear(title string) (string, *int) {
	m := trailingYear.FindStringSubmatchIndex(title)
	if m == nil {
		return strings.TrimSpace(title), nil
	}
	year, err := strconv.Atoi(title[m[2]:m[3]])
	if err != nil {
		return strings.TrimSpace(title), nil
	}
	return strings.TrimSpace(title[:m[0]]), &year
}

// CandidateResult is one search hit from the indexer.
type CandidateResult struct {
	Title     string `json:"title"`
	Seeders   int    `json:"seeders"`
	MagnetURI string `json:"magnetUri"`
	Size      int64  `json:"size"`
	Indexer   string `json:"indexer"`
	InfoHash  string `json:"infoHash"`
}

// ActiveDownloadSnapshot is the set of downloads in progress at a point in time.
type ActiveDownloadSnapshot struct {
	Count   int       `json:"count"`
	Hashes  []string  `json:"hashes"`
	TakenAt time.Time `json:"takenAt"`
}
