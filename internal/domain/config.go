// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phantomfetch/phantomfetch/internal/models"
)

// Config represents the application configuration
type Config struct {
	Version               string
	Host                  string `toml:"host" mapstructure:"host"`
	Port                  int    `toml:"port" mapstructure:"port"`
	BaseURL               string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel              string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath               string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize            int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups         int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir               string `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	// QueueDir holds the per-category queue files. Empty means <dataDir>/requests.
	QueueDir string `toml:"queueDir" mapstructure:"queueDir"`

	JackettURL           string        `toml:"jackettUrl" mapstructure:"jackettUrl"`
	JackettAPIKey        string        `toml:"jackettApiKey" mapstructure:"jackettApiKey"`
	JackettTimeout       int           `toml:"jackettTimeout" mapstructure:"jackettTimeout"`
	JackettCategoryMovie int           `toml:"jackettCategoryMovie" mapstructure:"jackettCategoryMovie"`
	JackettCategoryTV    int           `toml:"jackettCategoryTv" mapstructure:"jackettCategoryTv"`
	JackettCategoryMusic int           `toml:"jackettCategoryMusic" mapstructure:"jackettCategoryMusic"`
	MinSeeders           int           `toml:"minSeeders" mapstructure:"minSeeders"`
	SearchRetries        uint          `toml:"searchRetries" mapstructure:"searchRetries"`
	SearchBackoffBase    time.Duration `toml:"searchBackoffBase" mapstructure:"searchBackoffBase"`
	SearchCacheTTL       time.Duration `toml:"searchCacheTtl" mapstructure:"searchCacheTtl"`
	// ResultFilter is an optional expression every search result must satisfy.
	ResultFilter string `toml:"resultFilter" mapstructure:"resultFilter"`

	QBittorrentHost          string        `toml:"qbittorrentHost" mapstructure:"qbittorrentHost"`
	QBittorrentUsername      string        `toml:"qbittorrentUsername" mapstructure:"qbittorrentUsername"`
	QBittorrentPassword      string        `toml:"qbittorrentPassword" mapstructure:"qbittorrentPassword"`
	QBittorrentBasicUser     string        `toml:"qbittorrentBasicUser" mapstructure:"qbittorrentBasicUser"`
	QBittorrentBasicPass     string        `toml:"qbittorrentBasicPass" mapstructure:"qbittorrentBasicPass"`
	QBittorrentTLSSkipVerify bool          `toml:"qbittorrentTlsSkipVerify" mapstructure:"qbittorrentTlsSkipVerify"`
	QBittorrentLaunchCommand string        `toml:"qbittorrentLaunchCommand" mapstructure:"qbittorrentLaunchCommand"`
	QBittorrentSettleDelay   time.Duration `toml:"qbittorrentSettleDelay" mapstructure:"qbittorrentSettleDelay"`
	QBittorrentMaxRetries    uint          `toml:"qbittorrentMaxRetries" mapstructure:"qbittorrentMaxRetries"`
	QBittorrentRetryDelay    time.Duration `toml:"qbittorrentRetryDelay" mapstructure:"qbittorrentRetryDelay"`
	ReapSchedule             string        `toml:"reapSchedule" mapstructure:"reapSchedule"`
	ReapDeleteFiles          bool          `toml:"reapDeleteFiles" mapstructure:"reapDeleteFiles"`

	JellyfinURL                string `toml:"jellyfinUrl" mapstructure:"jellyfinUrl"`
	JellyfinAPIKey             string `toml:"jellyfinApiKey" mapstructure:"jellyfinApiKey"`
	JellyfinRefreshAfterSubmit bool   `toml:"jellyfinRefreshAfterSubmit" mapstructure:"jellyfinRefreshAfterSubmit"`

	TMDbAPIKey string `toml:"tmdbApiKey" mapstructure:"tmdbApiKey"`

	MaxConcurrentDownloads int           `toml:"maxConcurrentDownloads" mapstructure:"maxConcurrentDownloads"`
	TickDelay              time.Duration `toml:"tickDelay" mapstructure:"tickDelay"`
	AttemptTimeout         time.Duration `toml:"attemptTimeout" mapstructure:"attemptTimeout"`
	VerifyInterval         time.Duration `toml:"verifyInterval" mapstructure:"verifyInterval"`
	MissDeferral           time.Duration `toml:"missDeferral" mapstructure:"missDeferral"`
	SubmissionStaleAfter   time.Duration `toml:"submissionStaleAfter" mapstructure:"submissionStaleAfter"`
	CategoryOrder          []string      `toml:"categoryOrder" mapstructure:"categoryOrder"`

	MoviesPath string `toml:"moviesPath" mapstructure:"moviesPath"`
	TVPath     string `toml:"tvPath" mapstructure:"tvPath"`
	MusicPath  string `toml:"musicPath" mapstructure:"musicPath"`
}

var (
	ErrMissingJackett     = errors.New("jackettUrl and jackettApiKey are required")
	ErrMissingQBittorrent = errors.New("qbittorrentHost is required")
	ErrMissingJellyfin    = errors.New("jellyfinUrl and jellyfinApiKey are required")
)

// Validate checks the settings the fulfillment loop cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.JackettURL) == "" || strings.TrimSpace(c.JackettAPIKey) == "" {
		errs = append(errs, ErrMissingJackett)
	}
	if strings.TrimSpace(c.QBittorrentHost) == "" {
		errs = append(errs, ErrMissingQBittorrent)
	}
	if strings.TrimSpace(c.JellyfinURL) == "" || strings.TrimSpace(c.JellyfinAPIKey) == "" {
		errs = append(errs, ErrMissingJellyfin)
	}
	if c.MaxConcurrentDownloads <= 0 {
		errs = append(errs, fmt.Errorf("maxConcurrentDownloads must be positive, got %d", c.MaxConcurrentDownloads))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := c.Categories(); err != nil {
		errs = append(errs, fmt.Errorf("categoryOrder: %w", err))
	}

	return errors.Join(errs...)
}

// Categories returns the parsed scheduling order. Empty means the default order.
func (c *Config) Categories() ([]models.Category, error) {
	if len(c.CategoryOrder) == 0 {
		return nil, nil
	}
	return models.ParseCategories(c.CategoryOrder)
}

// JackettCategoryIDs returns the Torznab category id of each queue.
func (c *Config) JackettCategoryIDs() map[models.Category]int {
	return map[models.Category]int{
		models.CategoryMovie: c.JackettCategoryMovie,
		models.CategoryTV:    c.JackettCategoryTV,
		models.CategoryMusic: c.JackettCategoryMusic,
	}
}
