// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantomfetch/phantomfetch/internal/models"
)

func validConfig() Config {
	return Config{
		Port:                   7480,
		JackettURL:             "http://jackett:9117",
		JackettAPIKey:          "key",
		QBittorrentHost:        "http://qbittorrent:8080",
		JellyfinURL:            "http://jellyfin:8096",
		JellyfinAPIKey:         "key",
		MaxConcurrentDownloads: 15,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
		wantMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing jackett key", mutate: func(c *Config) { c.JackettAPIKey = "" }, wantErr: ErrMissingJackett},
		{name: "missing qbittorrent", mutate: func(c *Config) { c.QBittorrentHost = " " }, wantErr: ErrMissingQBittorrent},
		{name: "missing jellyfin url", mutate: func(c *Config) { c.JellyfinURL = "" }, wantErr: ErrMissingJellyfin},
		{name: "zero capacity", mutate: func(c *Config) { c.MaxConcurrentDownloads = 0 }, wantMsg: "maxConcurrentDownloads"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantMsg: "port"},
		{name: "bad category", mutate: func(c *Config) { c.CategoryOrder = []string{"tv", "books"} }, wantErr: models.ErrUnknownCategory},
		{name: "duplicate category", mutate: func(c *Config) { c.CategoryOrder = []string{"tv", "shows"} }, wantMsg: "listed twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)

			err := c.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantMsg)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateReportsEverything(t *testing.T) {
	c := Config{Port: 7480, MaxConcurrentDownloads: 1}
	err := c.Validate()
	assert.ErrorIs(t, err, ErrMissingJackett)
	assert.ErrorIs(t, err, ErrMissingQBittorrent)
	assert.ErrorIs(t, err, ErrMissingJellyfin)
}

func TestConfig_Categories(t *testing.T) {
	c := validConfig()
	order, err := c.Categories()
	require.NoError(t, err)
	assert.Nil(t, order)

	c.CategoryOrder = []string{"Music", "movies"}
	order, err = c.Categories()
	require.NoError(t, err)
	assert.Equal(t, []models.Category{models.CategoryMusic, models.CategoryMovie}, order)
}

func TestConfig_JackettCategoryIDs(t *testing.T) {
	c := Config{JackettCategoryMovie: 2000, JackettCategoryTV: 5000, JackettCategoryMusic: 3000}
	assert.Equal(t, map[models.Category]int{
		models.CategoryMovie: 2000,
		models.CategoryTV:    5000,
		models.CategoryMusic: 3000,
	}, c.JackettCategoryIDs())
}
