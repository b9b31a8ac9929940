// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mediapath computes library destination folders for requested titles.
package mediapath

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/phantomfetch/phantomfetch/pkg/stringutils"
)

const (
	// DigitFolder holds titles starting with a digit.
	DigitFolder = "#"
	// MiscFolder holds titles starting with anything other than a letter or digit.
	MiscFolder = "Misc"
)

var (
	leadingArticle = regexp.MustCompile(`(?i)^(a|an|the)\s+`)
	forbiddenChars = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// Sanitize removes characters that are not allowed in folder names on common filesystems.
func Sanitize(name string) string {
	cleaned := forbiddenChars.ReplaceAllString(name, "")
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	return strings.TrimRight(strings.TrimSpace(cleaned), ".")
}

// LetterFolder returns the alphabetical bucket for title, ignoring a leading article.
func LetterFolder(title string) string {
	trimmed := strings.TrimSpace(title)
	if stripped := strings.TrimSpace(leadingArticle.ReplaceAllString(trimmed, "")); stripped != "" {
		trimmed = stripped
	}

	folded := stringutils.NormalizeUnicode(trimmed)
	for _, r := range folded {
		switch {
		case unicode.IsDigit(r):
			return DigitFolder
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			return strings.ToUpper(string(r))
		default:
			return MiscFolder
		}
	}
	return MiscFolder
}

// Roots holds the library root directory of each media kind.
type Roots struct {
	Movies string
	TV     string
	Music  string
}

// MovieDir returns <movies>/<letter>/<title>.
func (r Roots) MovieDir(title string) string {
	return lettered(r.Movies, title)
}

// TVDir returns <tv>/<letter>/<title>.
func (r Roots) TVDir(title string) string {
	return lettered(r.TV, title)
}

// SeasonDir returns <tv>/<letter>/<title>/Season <n>.
func (r Roots) SeasonDir(title string, season int) string {
	show := r.TVDir(title)
	if show == "" || season < 1 {
		return show
	}
	return filepath.Join(show, "Season "+strconv.Itoa(season))
}

// MusicDir returns <music>/<title>.
func (r Roots) MusicDir(title string) string {
	name := Sanitize(title)
	if r.Music == "" || name == "" {
		return ""
	}
	return filepath.Join(r.Music, name)
}

func lettered(root, title string) string {
	name := Sanitize(title)
	if root == "" || name == "" {
		return ""
	}
	return filepath.Join(root, LetterFolder(name), name)
}
