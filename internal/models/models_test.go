// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    Category
		wantErr bool
	}{
		{input: "movie", want: CategoryMovie},
		{input: "Movies", want: CategoryMovie},
		{input: "FILM", want: CategoryMovie},
		{input: "tv", want: CategoryTV},
		{input: "TV Show", want: CategoryTV},
		{input: "tv-show", want: CategoryTV},
		{input: "series", want: CategoryTV},
		{input: " music ", want: CategoryMusic},
		{input: "audio", want: CategoryMusic},
		{input: "books", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCategory(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownCategory)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCategories(t *testing.T) {
	got, err := ParseCategories([]string{"tv", "movie", "music"})
	require.NoError(t, err)
	assert.Equal(t, []Category{CategoryTV, CategoryMovie, CategoryMusic}, got)

	_, err = ParseCategories([]string{"tv", "show"})
	require.Error(t, err, "aliases of the same category are duplicates")

	_, err = ParseCategories([]string{"tv", "podcast"})
	require.Error(t, err)
}

func TestCategory_JSON(t *testing.T) {
	data, err := json.Marshal(RequestEntry{Title: "Dark", Category: CategoryTV})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Dark","category":"tv"}`, string(data))

	var entry RequestEntry
	require.NoError(t, json.Unmarshal([]byte(`{"title":"Inception","category":"Movies"}`), &entry))
	assert.Equal(t, CategoryMovie, entry.Category)

	require.Error(t, json.Unmarshal([]byte(`{"title":"x","category":"podcast"}`), &entry))
}

func TestCategory_Valid(t *testing.T) {
	assert.True(t, CategoryMovie.Valid())
	assert.True(t, CategoryTV.Valid())
	assert.True(t, CategoryMusic.Valid())
	assert.False(t, CategoryUnknown.Valid())
	assert.Equal(t, "TV Show", CategoryTV.Label())
}

func TestRequestEntry_Key(t *testing.T) {
	a := RequestEntry{Title: "  Inception (2010) ", Category: CategoryMovie}
	b := RequestEntry{Title: "INCEPTION (2010)", Category: CategoryMovie}
	assert.Equal(t, a.Key(), b.Key())
}

func TestSplitYear(t *testing.T) {
	tests := []struct {
		title    string
		wantName string
		wantYear int
	}{
		{title: "Inception (2010)", wantName: "Inception", wantYear: 2010},
		{title: "Blade Runner 2049 (2017)", wantName: "Blade Runner 2049", wantYear: 2017},
		{title: "1917", wantName: "1917"},
		{title: "Dune (Part Two)", wantName: "Dune (Part Two)"},
		{title: "  Heat (1995)  ", wantName: "Heat", wantYear: 1995},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			name, year := SplitYear(tt.title)
			assert.Equal(t, tt.wantName, name)
			if tt.wantYear == 0 {
				assert.Nil(t, year)
				return
			}
			require.NotNil(t, year)
			assert.Equal(t, tt.wantYear, *year)
		})
	}
}

func TestNormalizeServiceURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "HTTP URL with port", input: "http://localhost:9117", expected: "http://localhost:9117"},
		{name: "HTTPS URL with path", input: "https://example.com:8920/jellyfin", expected: "https://example.com:8920/jellyfin"},
		{name: "URL without protocol", input: "localhost:8080", expected: "http://localhost:8080"},
		{name: "URL with whitespace", input: "  http://localhost:8096  ", expected: "http://localhost:8096"},
		{name: "Private IP address", input: "192.168.1.100:9091", expected: "http://192.168.1.100:9091"},
		{name: "IPv6 address", input: "[2001:db8::1]:8080", expected: "http://[2001:db8::1]:8080"},
		{name: "Invalid URL scheme", input: "ftp://localhost:8080", wantErr: true},
		{name: "Empty URL", input: "", wantErr: true},
		{name: "Invalid URL format", input: "http://", wantErr: true},
		{name: "JavaScript scheme", input: "javascript:alert(1)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeServiceURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "expected error for input %q", tt.input)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
