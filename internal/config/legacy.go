// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/phantomfetch/phantomfetch/internal/models"
)

var ErrConfigExists = errors.New("config file already exists")

// LegacyConfig is the YAML layout used by the older Torrenter scripts.
// Sections other than these (Spotify, MicrosoftGraph, Database) are ignored.
type LegacyConfig struct {
	QBittorrent struct {
		Host     string `yaml:"host"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"qBittorrent"`
	Jackett struct {
		ServerURL  string            `yaml:"server_url"`
		APIKey     string            `yaml:"api_key"`
		Categories map[string]string `yaml:"categories"`
	} `yaml:"Jackett"`
	Jellyfin struct {
		ServerURL string `yaml:"server_url"`
		APIKey    string `yaml:"api_key"`
	} `yaml:"Jellyfin"`
	TMDb struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"TMDb"`
	Paths struct {
		Movies  string `yaml:"movies"`
		TVShows string `yaml:"tv_shows"`
		Music   string `yaml:"music"`
	} `yaml:"Paths"`
}

// legacySettings is the subset of config keys a legacy file can populate.
type legacySettings struct {
	JackettURL           string `toml:"jackettUrl,omitempty"`
	JackettAPIKey        string `toml:"jackettApiKey,omitempty"`
	JackettCategoryMovie int    `toml:"jackettCategoryMovie,omitempty"`
	JackettCategoryTV    int    `toml:"jackettCategoryTv,omitempty"`
	JackettCategoryMusic int    `toml:"jackettCategoryMusic,omitempty"`

	QBittorrentHost     string `toml:"qbittorrentHost,omitempty"`
	QBittorrentUsername string `toml:"qbittorrentUsername,omitempty"`
	QBittorrentPassword string `toml:"qbittorrentPassword,omitempty"`

	JellyfinURL    string `toml:"jellyfinUrl,omitempty"`
	JellyfinAPIKey string `toml:"jellyfinApiKey,omitempty"`

	TMDbAPIKey string `toml:"tmdbApiKey,omitempty"`

	MoviesPath string `toml:"moviesPath,omitempty"`
	TVPath     string `toml:"tvPath,omitempty"`
	MusicPath  string `toml:"musicPath,omitempty"`
}

// ParseLegacyConfig decodes a legacy YAML config.
func ParseLegacyConfig(r io.Reader) (*LegacyConfig, error) {
	var lc LegacyConfig
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&lc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("legacy config is empty")
		}
		return nil, errors.Wrap(err, "decode legacy config")
	}
	return &lc, nil
}

func (lc *LegacyConfig) settings() (*legacySettings, error) {
	s := &legacySettings{
		JackettURL:          strings.TrimSpace(lc.Jackett.ServerURL),
		JackettAPIKey:       strings.TrimSpace(lc.Jackett.APIKey),
		QBittorrentHost:     normalizeHost(lc.QBittorrent.Host),
		QBittorrentUsername: lc.QBittorrent.Username,
		QBittorrentPassword: lc.QBittorrent.Password,
		JellyfinURL:         strings.TrimSpace(lc.Jellyfin.ServerURL),
		JellyfinAPIKey:      strings.TrimSpace(lc.Jellyfin.APIKey),
		TMDbAPIKey:          strings.TrimSpace(lc.TMDb.APIKey),
		MoviesPath:          lc.Paths.Movies,
		TVPath:              lc.Paths.TVShows,
		MusicPath:           lc.Paths.Music,
	}

	for name, raw := range lc.Jackett.Categories {
		cat, err := models.ParseCategory(name)
		if err != nil {
			log.Warn().Str("category", name).Msg("Skipping unknown Jackett category in legacy config")
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "jackett category %q", name)
		}
		switch cat {
		case models.CategoryMovie:
			s.JackettCategoryMovie = id
		case models.CategoryTV:
			s.JackettCategoryTV = id
		case models.CategoryMusic:
			s.JackettCategoryMusic = id
		}
	}

	return s, nil
}

// normalizeHost adds a scheme to bare host:port values. Values that are not
// valid URLs are kept as written so validation can report them.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	normalized, err := models.NormalizeServiceURL(host)
	if err != nil {
		return host
	}
	return normalized
}

// RenderLegacyConfig converts a legacy config into TOML config keys.
func RenderLegacyConfig(lc *LegacyConfig) ([]byte, error) {
	s, err := lc.settings()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("# Imported from a legacy YAML config\n\n")
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(s); err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	return buf.Bytes(), nil
}

// ImportLegacyConfig reads the YAML file at src and writes an equivalent
// config.toml to dst. An existing dst is only replaced when overwrite is set.
func ImportLegacyConfig(src, dst string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, dst)
		}
	}

	f, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open legacy config")
	}
	defer f.Close()

	lc, err := ParseLegacyConfig(f)
	if err != nil {
		return err
	}

	out, err := RenderLegacyConfig(lc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	if err := os.WriteFile(dst, out, 0600); err != nil {
		return errors.Wrap(err, "write config")
	}

	log.Info().Str("source", src).Str("path", dst).Msg("Imported legacy config")
	return nil
}
