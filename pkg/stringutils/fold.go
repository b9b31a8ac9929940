// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldKey returns the identity key used to compare request titles: surrounding
// whitespace trimmed and full Unicode case folding applied.
//   - "Inception (2010)" → "inception (2010)"
//   - "STRASSE" and "Straße" fold to the same key
func FoldKey(s string) string {
	// cases.Caser is stateful, build one per call.
	return cases.Fold().String(strings.TrimSpace(s))
}

// EqualFold reports whether two titles share an identity key.
func EqualFold(a, b string) bool {
	return FoldKey(a) == FoldKey(b)
}

// NormalizeUnicode removes diacritics and decomposes ligatures.
//   - "Amélie" → "Amelie"
//   - "Björk" → "Bjork"
//   - "Æon Flux" → "AEon Flux"
func NormalizeUnicode(s string) string {
	// NFKD leaves these as distinct letters.
	s = strings.NewReplacer(
		"æ", "ae", "Æ", "AE",
		"œ", "oe", "Œ", "OE",
		"ø", "o", "Ø", "O",
		"ß", "ss",
		"ð", "d", "Ð", "D",
		"þ", "th", "Þ", "TH",
	).Replace(s)

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
