// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantomfetch/phantomfetch/internal/domain"
)

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, envDataDir string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				content := "host = \"localhost\"\nport = 8080\n"
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, "", filepath.Join(tmpDir, "phantomfetch.db")
			},
		},
		{
			name: "explicit_data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				dataDir := filepath.Join(tmpDir, "data")
				require.NoError(t, os.MkdirAll(dataDir, 0o755))
				content := fmt.Sprintf("host = \"localhost\"\nport = 8080\ndataDir = %q\n", dataDir)
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, "", filepath.Join(dataDir, "phantomfetch.db")
			},
		},
		{
			name: "env_var_override",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				configDataDir := filepath.Join(tmpDir, "config-data")
				envDataDir := filepath.Join(tmpDir, "env-data")
				require.NoError(t, os.MkdirAll(configDataDir, 0o755))
				require.NoError(t, os.MkdirAll(envDataDir, 0o755))
				content := fmt.Sprintf("host = \"localhost\"\nport = 8080\ndataDir = %q\n", configDataDir)
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, envDataDir, filepath.Join(envDataDir, "phantomfetch.db")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, envValue, expectedDBPath := tt.prepare(t, tmpDir)
			if envValue != "" {
				t.Setenv(envPrefix+"DATA_DIR", envValue)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, filepath.Clean(expectedDBPath), filepath.Clean(cfg.GetDatabasePath()))
		})
	}
}

func TestQueueDirResolution(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("port = 8080\n"), 0o644))

	cfg, err := New(configPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "requests"), cfg.GetQueueDir())

	queueDir := filepath.Join(tmpDir, "queues")
	t.Setenv(envPrefix+"QUEUE_DIR", queueDir)
	cfg, err = New(configPath)
	require.NoError(t, err)
	assert.Equal(t, queueDir, cfg.GetQueueDir())
}

func TestNew_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("jackettUrl = \"http://jackett:9117\"\n"), 0o644))

	cfg, err := New(configPath, "1.2.3")
	require.NoError(t, err)

	c := cfg.Config
	assert.Equal(t, "1.2.3", c.Version)
	assert.Equal(t, 7480, c.Port)
	assert.Equal(t, "http://jackett:9117", c.JackettURL)
	assert.Equal(t, 30, c.JackettTimeout)
	assert.Equal(t, map[string]int{"movie": 2000, "tv": 5000, "music": 3000}, map[string]int{
		"movie": c.JackettCategoryMovie,
		"tv":    c.JackettCategoryTV,
		"music": c.JackettCategoryMusic,
	})
	assert.Equal(t, 5, c.MinSeeders)
	assert.Equal(t, uint(3), c.SearchRetries)
	assert.Equal(t, 2*time.Second, c.SearchBackoffBase)
	assert.Equal(t, time.Hour, c.SearchCacheTTL)
	assert.Equal(t, 10*time.Second, c.QBittorrentSettleDelay)
	assert.Equal(t, uint(3), c.QBittorrentMaxRetries)
	assert.Equal(t, 5*time.Second, c.QBittorrentRetryDelay)
	assert.Equal(t, "@every 5m", c.ReapSchedule)
	assert.True(t, c.JellyfinRefreshAfterSubmit)
	assert.Equal(t, 15, c.MaxConcurrentDownloads)
	assert.Equal(t, time.Second, c.TickDelay)
	assert.Equal(t, 5*time.Minute, c.AttemptTimeout)
	assert.Zero(t, c.VerifyInterval, "submitted entries are checked on every visit")
	assert.Zero(t, c.MissDeferral, "missed entries are searched on every visit")
	assert.Equal(t, 72*time.Hour, c.SubmissionStaleAfter)
	assert.Equal(t, []string{"tv", "movie", "music"}, c.CategoryOrder)
}

func TestNew_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("maxConcurrentDownloads = 4\n"), 0o644))

	t.Setenv(envPrefix+"MAX_CONCURRENT_DOWNLOADS", "9")
	t.Setenv(envPrefix+"TICK_DELAY", "250ms")
	t.Setenv(envPrefix+"QBITTORRENT_HOST", "http://qbt:8080")

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Config.MaxConcurrentDownloads)
	assert.Equal(t, 250*time.Millisecond, cfg.Config.TickDelay)
	assert.Equal(t, "http://qbt:8080", cfg.Config.QBittorrentHost)
}

func TestNew_SecretsFromFile(t *testing.T) {
	tests := []struct {
		env  string
		read func(c *domain.Config) string
	}{
		{env: "JACKETT_API_KEY", read: func(c *domain.Config) string { return c.JackettAPIKey }},
		{env: "QBITTORRENT_PASSWORD", read: func(c *domain.Config) string { return c.QBittorrentPassword }},
		{env: "JELLYFIN_API_KEY", read: func(c *domain.Config) string { return c.JellyfinAPIKey }},
		{env: "TMDB_API_KEY", read: func(c *domain.Config) string { return c.TMDbAPIKey }},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.toml")
			require.NoError(t, os.WriteFile(configPath, []byte("port = 8080\n"), 0o644))

			secretPath := filepath.Join(tmpDir, "secret")
			require.NoError(t, os.WriteFile(secretPath, []byte("s3cret\n"), 0o600))
			t.Setenv(envPrefix+tt.env+"_FILE", secretPath)

			cfg, err := New(configPath)
			require.NoError(t, err)
			assert.Equal(t, "s3cret", tt.read(cfg.Config))
		})
	}
}

func TestNew_SecretFileMissing(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("port = 8080\n"), 0o644))
	t.Setenv(envPrefix+"JACKETT_API_KEY_FILE", filepath.Join(tmpDir, "missing"))

	_, err := New(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JACKETT_API_KEY_FILE")
}

func TestNew_WritesDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := New(tmpDir)
	require.NoError(t, err)

	configPath := filepath.Join(tmpDir, "config.toml")
	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "port = 7480")
	assert.Contains(t, string(content), "jackettApiKey")
	assert.Equal(t, configPath, cfg.GetConfigPath())
	assert.Equal(t, filepath.Join(tmpDir, "phantomfetch.db"), cfg.GetDatabasePath())
}

func TestWriteDefaultConfig_KeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 1\n"), 0o644))

	require.NoError(t, WriteDefaultConfig(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "port = 1\n", string(content))
}

func TestReloadListener(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("port = 8080\n"), 0o644))

	cfg, err := New(configPath)
	require.NoError(t, err)

	got := make(chan *domain.Config, 1)
	cfg.RegisterReloadListener(func(c *domain.Config) { got <- c })
	cfg.Config.MaxConcurrentDownloads = 3
	cfg.notifyListeners()

	select {
	case c := <-got:
		assert.Equal(t, 3, c.MaxConcurrentDownloads)
		assert.NotSame(t, cfg.Config, c)
	default:
		t.Fatal("listener not called")
	}
}

func TestSetupLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "phantomfetch.log")
	w, err := setupLogFile(path, os.Stderr, 0, -1)
	require.NoError(t, err)
	require.NotNil(t, w)

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestIsDevBuild(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"", true},
		{"dev", true},
		{"1.0.0-dev", true},
		{"1.0.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isDevBuild(tt.version), tt.version)
	}
}
