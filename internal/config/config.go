// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/phantomfetch/phantomfetch/internal/domain"
)

var envPrefix = "PHANTOMFETCH__"

const appName = "phantomfetch"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	// Set defaults
	c.defaults()

	// Load from config file
	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	// Override with environment variables
	if err := c.loadFromEnv(); err != nil {
		return nil, err
	}

	// Unmarshal the configuration
	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	// Resolve data directory after config is unmarshaled
	c.resolveDataDir()

	// Watch for config changes
	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	// Detect if running in container
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9075)
	c.viper.SetDefault("metricsBasicAuthUsers", "")
	c.viper.SetDefault("queueDir", "")

	c.viper.SetDefault("jackettUrl", "")
	c.viper.SetDefault("jackettApiKey", "")
	c.viper.SetDefault("jackettTimeout", 30)
	c.viper.SetDefault("jackettCategoryMovie", 2000)
	c.viper.SetDefault("jackettCategoryTv", 5000)
	c.viper.SetDefault("jackettCategoryMusic", 3000)
	c.viper.SetDefault("minSeeders", 5)
	c.viper.SetDefault("searchRetries", 3)
	c.viper.SetDefault("searchBackoffBase", "2s")
	c.viper.SetDefault("searchCacheTtl", "1h")
	c.viper.SetDefault("resultFilter", "")

	c.viper.SetDefault("qbittorrentHost", "")
	c.viper.SetDefault("qbittorrentUsername", "")
	c.viper.SetDefault("qbittorrentPassword", "")
	c.viper.SetDefault("qbittorrentBasicUser", "")
	c.viper.SetDefault("qbittorrentBasicPass", "")
	c.viper.SetDefault("qbittorrentTlsSkipVerify", false)
	c.viper.SetDefault("qbittorrentLaunchCommand", "")
	c.viper.SetDefault("qbittorrentSettleDelay", "10s")
	c.viper.SetDefault("qbittorrentMaxRetries", 3)
	c.viper.SetDefault("qbittorrentRetryDelay", "5s")
	c.viper.SetDefault("reapSchedule", "@every 5m")
	c.viper.SetDefault("reapDeleteFiles", false)

	c.viper.SetDefault("jellyfinUrl", "")
	c.viper.SetDefault("jellyfinApiKey", "")
	c.viper.SetDefault("jellyfinRefreshAfterSubmit", true)

	c.viper.SetDefault("tmdbApiKey", "")

	c.viper.SetDefault("maxConcurrentDownloads", 15)
	c.viper.SetDefault("tickDelay", "1s")
	c.viper.SetDefault("attemptTimeout", "5m")
	c.viper.SetDefault("verifyInterval", "0s")
	c.viper.SetDefault("missDeferral", "0s")
	c.viper.SetDefault("submissionStaleAfter", "72h")
	c.viper.SetDefault("categoryOrder", []string{"tv", "movie", "music"})

	c.viper.SetDefault("moviesPath", "")
	c.viper.SetDefault("tvPath", "")
	c.viper.SetDefault("musicPath", "")
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		// Determine if this is a directory or file path
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		// Try to read the config
		if err := c.viper.ReadInConfig(); err != nil {
			// A missing explicit file surfaces as an os error rather than ConfigFileNotFoundError
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if notFound || os.IsNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				// Re-read after creating
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		// Search for config in standard locations
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")                   // Current directory
		c.viper.AddConfigPath(GetDefaultConfigDir()) // OS-specific config directory

		// Try to read existing config
		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				// No config found, create in OS-specific location
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

// envBinding maps a config key to its environment variable suffix. Secrets
// may also be read from the file named by <VAR>_FILE.
type envBinding struct {
	key    string
	env    string
	secret bool
}

var envBindings = []envBinding{
	{key: "host", env: "HOST"},
	{key: "port", env: "PORT"},
	{key: "baseUrl", env: "BASE_URL"},
	{key: "logLevel", env: "LOG_LEVEL"},
	{key: "logPath", env: "LOG_PATH"},
	{key: "logMaxSize", env: "LOG_MAX_SIZE"},
	{key: "logMaxBackups", env: "LOG_MAX_BACKUPS"},
	{key: "dataDir", env: "DATA_DIR"},
	{key: "metricsEnabled", env: "METRICS_ENABLED"},
	{key: "metricsHost", env: "METRICS_HOST"},
	{key: "metricsPort", env: "METRICS_PORT"},
	{key: "metricsBasicAuthUsers", env: "METRICS_BASIC_AUTH_USERS", secret: true},
	{key: "queueDir", env: "QUEUE_DIR"},

	{key: "jackettUrl", env: "JACKETT_URL"},
	{key: "jackettApiKey", env: "JACKETT_API_KEY", secret: true},
	{key: "jackettTimeout", env: "JACKETT_TIMEOUT"},
	{key: "jackettCategoryMovie", env: "JACKETT_CATEGORY_MOVIE"},
	{key: "jackettCategoryTv", env: "JACKETT_CATEGORY_TV"},
	{key: "jackettCategoryMusic", env: "JACKETT_CATEGORY_MUSIC"},
	{key: "minSeeders", env: "MIN_SEEDERS"},
	{key: "searchRetries", env: "SEARCH_RETRIES"},
	{key: "searchBackoffBase", env: "SEARCH_BACKOFF_BASE"},
	{key: "searchCacheTtl", env: "SEARCH_CACHE_TTL"},
	{key: "resultFilter", env: "RESULT_FILTER"},

	{key: "qbittorrentHost", env: "QBITTORRENT_HOST"},
	{key: "qbittorrentUsername", env: "QBITTORRENT_USERNAME"},
	{key: "qbittorrentPassword", env: "QBITTORRENT_PASSWORD", secret: true},
	{key: "qbittorrentBasicUser", env: "QBITTORRENT_BASIC_USER"},
	{key: "qbittorrentBasicPass", env: "QBITTORRENT_BASIC_PASS", secret: true},
	{key: "qbittorrentTlsSkipVerify", env: "QBITTORRENT_TLS_SKIP_VERIFY"},
	{key: "qbittorrentLaunchCommand", env: "QBITTORRENT_LAUNCH_COMMAND"},
	{key: "qbittorrentSettleDelay", env: "QBITTORRENT_SETTLE_DELAY"},
	{key: "qbittorrentMaxRetries", env: "QBITTORRENT_MAX_RETRIES"},
	{key: "qbittorrentRetryDelay", env: "QBITTORRENT_RETRY_DELAY"},
	{key: "reapSchedule", env: "REAP_SCHEDULE"},
	{key: "reapDeleteFiles", env: "REAP_DELETE_FILES"},

	{key: "jellyfinUrl", env: "JELLYFIN_URL"},
	{key: "jellyfinApiKey", env: "JELLYFIN_API_KEY", secret: true},
	{key: "jellyfinRefreshAfterSubmit", env: "JELLYFIN_REFRESH_AFTER_SUBMIT"},

	{key: "tmdbApiKey", env: "TMDB_API_KEY", secret: true},

	{key: "maxConcurrentDownloads", env: "MAX_CONCURRENT_DOWNLOADS"},
	{key: "tickDelay", env: "TICK_DELAY"},
	{key: "attemptTimeout", env: "ATTEMPT_TIMEOUT"},
	{key: "verifyInterval", env: "VERIFY_INTERVAL"},
	{key: "missDeferral", env: "MISS_DEFERRAL"},
	{key: "submissionStaleAfter", env: "SUBMISSION_STALE_AFTER"},
	{key: "categoryOrder", env: "CATEGORY_ORDER"},

	{key: "moviesPath", env: "MOVIES_PATH"},
	{key: "tvPath", env: "TV_PATH"},
	{key: "musicPath", env: "MUSIC_PATH"},
}

func (c *AppConfig) loadFromEnv() error {
	// DO NOT use AutomaticEnv() - it reads ALL env vars and causes conflicts with K8s
	// Instead, explicitly bind only the environment variables we want

	// Use double underscore to avoid conflicts with K8s deployment_PORT patterns
	for _, b := range envBindings {
		if b.secret {
			if err := c.bindOrReadFromFile(b.key, envPrefix+b.env); err != nil {
				return err
			}
			continue
		}
		_ = c.viper.BindEnv(b.key, envPrefix+b.env)
	}
	return nil
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		// Reload configuration
		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		// Apply dynamic changes
		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP of the queue API
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7480
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /phantomfetch/ to serve in subdirectory.
#baseUrl = "/phantomfetch/"

# Log file path
# If not defined, logs to stdout
#logPath = "log/phantomfetch.log"

# Maximum log file size in megabytes before rotation
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# The submission ledger (phantomfetch.db) is created inside this directory
#dataDir = "/var/lib/phantomfetch"

# Directory holding movie.txt, tv.txt and music.txt
# Default: <dataDir>/requests
#queueDir = "/var/lib/phantomfetch/requests"

# Log level
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus metrics on a separate port
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9075
# Format: "user:bcrypt_hash" or "user1:hash1,user2:hash2"
#metricsBasicAuthUsers = ""

# Jackett
jackettUrl = ""
jackettApiKey = ""
#jackettTimeout = 30
#jackettCategoryMovie = 2000
#jackettCategoryTv = 5000
#jackettCategoryMusic = 3000
#minSeeders = 5
#searchRetries = 3
#searchBackoffBase = "2s"
# Failed searches are not repeated for this long
#searchCacheTtl = "1h"
# Optional expression every result must satisfy, eg: Seeders >= 10 && Size < 60 * GiB
#resultFilter = ""

# qBittorrent
qbittorrentHost = ""
qbittorrentUsername = ""
qbittorrentPassword = ""
#qbittorrentBasicUser = ""
#qbittorrentBasicPass = ""
#qbittorrentTlsSkipVerify = false
# Command used to start qBittorrent when it is unreachable
#qbittorrentLaunchCommand = "qbittorrent-nox --webui-port=8080"
#qbittorrentSettleDelay = "10s"
#qbittorrentMaxRetries = 3
#qbittorrentRetryDelay = "5s"
# Finished torrents are removed on this schedule
#reapSchedule = "@every 5m"
#reapDeleteFiles = false

# Jellyfin
jellyfinUrl = ""
jellyfinApiKey = ""
#jellyfinRefreshAfterSubmit = true

# TMDb, optional, improves classification of new requests
# With a TMDb key, shows are fetched one season per visit into "Season N" folders.
#tmdbApiKey = ""

# Scheduler
#maxConcurrentDownloads = 15
#tickDelay = "1s"
#attemptTimeout = "5m"
# Skip the library check of a submitted entry checked less than this long ago.
# "0s" checks on every visit.
#verifyInterval = "0s"
# Hold an entry whose search found nothing for this long. "0s" searches on every visit.
#missDeferral = "0s"
#submissionStaleAfter = "72h"
#categoryOrder = ["tv", "movie", "music"]

# Library roots used as download destinations
#moviesPath = "/media/movies"
#tvPath = "/media/tv"
#musicPath = "/media/music"
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":          c.viper.GetString("host"),
		"port":          c.viper.GetInt("port"),
		"logLevel":      c.viper.GetString("logLevel"),
		"logMaxSize":    c.viper.GetInt("logMaxSize"),
		"logMaxBackups": c.viper.GetInt("logMaxBackups"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// First check if XDG_CONFIG_HOME is set (Docker containers set this to /config)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, appName)
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

func detectContainer() bool {
	// Check Docker
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	// Check LXC
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	// Check if running as init
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.dataDir != "":
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the submission ledger
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, appName+".db")
}

// GetQueueDir returns the directory holding the queue files.
func (c *AppConfig) GetQueueDir() string {
	if c.Config.QueueDir != "" {
		return c.Config.QueueDir
	}
	return filepath.Join(c.dataDir, "requests")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

// GetConfigPath returns the config file in use.
func (c *AppConfig) GetConfigPath() string {
	return c.viper.ConfigFileUsed()
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// bindOrReadFromFile sets the key from the file named by <envVar>_FILE when
// present, and binds envVar otherwise.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) error {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("could not read %s: %w", envVarFile, err)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return nil
	}
	return c.viper.BindEnv(viperVar, envVar)
}
