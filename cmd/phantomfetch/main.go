// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phantomfetch/phantomfetch/internal/api"
	"github.com/phantomfetch/phantomfetch/internal/buildinfo"
	"github.com/phantomfetch/phantomfetch/internal/config"
	"github.com/phantomfetch/phantomfetch/internal/database"
	"github.com/phantomfetch/phantomfetch/internal/domain"
	"github.com/phantomfetch/phantomfetch/internal/metrics"
	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/internal/qbittorrent"
	"github.com/phantomfetch/phantomfetch/internal/queue"
	"github.com/phantomfetch/phantomfetch/internal/services/admission"
	"github.com/phantomfetch/phantomfetch/internal/services/classifier"
	"github.com/phantomfetch/phantomfetch/internal/services/jackett"
	"github.com/phantomfetch/phantomfetch/internal/services/jellyfin"
	"github.com/phantomfetch/phantomfetch/internal/services/reaper"
	"github.com/phantomfetch/phantomfetch/internal/services/scheduler"
	"github.com/phantomfetch/phantomfetch/pkg/mediapath"
)

const shutdownTimeout = 30 * time.Second

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "phantomfetch",
		Short: "Fulfil queued media requests through Jackett, qBittorrent and Jellyfin",
		Long: `phantomfetch - works through plain text request queues for movies, TV
shows and music. Each title is checked against the Jellyfin library, searched
on Jackett and handed to qBittorrent until it shows up in the library.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunImportLegacyConfigCommand())
	rootCmd.AddCommand(RunReapCommand())
	rootCmd.AddCommand(RunQueueCommand())
	rootCmd.AddCommand(RunRequestCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the fulfillment loop and the queue API",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/phantomfetch/ or %APPDATA%\\phantomfetch\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database and queue files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		if err := app.runServer(); err != nil {
			log.Error().Err(err).Msg("Server stopped with error")
			os.Exit(1)
		}
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of phantomfetch",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

// configFilePath resolves --config-dir to the config.toml it refers to.
func configFilePath(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/phantomfetch/config.toml
- Windows: %APPDATA%\phantomfetch\config.toml

You can specify either a directory path or a direct file path:
- Directory: phantomfetch generate-config --config-dir /path/to/config/
- File: phantomfetch generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := configFilePath(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func RunImportLegacyConfigCommand() *cobra.Command {
	var configDir, from string
	var force bool

	command := &cobra.Command{
		Use:   "import-legacy-config",
		Short: "Convert a legacy YAML config into config.toml",
		Long: `Read the YAML config used by the older Torrenter scripts and write the
equivalent settings to config.toml. The qBittorrent, Jackett, Jellyfin, TMDb
and Paths sections are imported; everything else keeps its default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := configFilePath(configDir)

			if err := config.ImportLegacyConfig(from, configPath, force); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return fmt.Errorf("%w (use --force to replace it)", err)
				}
				return err
			}

			cmd.Printf("Configuration imported to: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&from, "from", "", "path to the legacy config.yaml")
	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().BoolVar(&force, "force", false, "replace an existing config file")
	_ = command.MarkFlagRequired("from")

	return command
}

func RunReapCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "reap",
		Short: "Remove finished torrents from qBittorrent once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg.ApplyLogConfig()

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			client, err := newTorrentClient(cfg.Config)
			if err != nil {
				return err
			}

			svc, err := reaper.New(reaper.Config{
				Schedule:  cfg.Config.ReapSchedule,
				Retention: reaper.DefaultRetention,
			}, client, models.NewReapStore(db), nil)
			if err != nil {
				return err
			}

			result, err := svc.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			for _, t := range result.Reaped {
				cmd.Printf("%s\t%s\t%s\n", t.InfoHash, t.State, t.Name)
			}
			cmd.Printf("Removed %d torrent(s)\n", len(result.Reaped))
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func newTorrentClient(c *domain.Config) (*qbittorrent.Client, error) {
	client, err := qbittorrent.NewClient(qbittorrent.Config{
		Host:          c.QBittorrentHost,
		Username:      c.QBittorrentUsername,
		Password:      c.QBittorrentPassword,
		BasicUser:     c.QBittorrentBasicUser,
		BasicPass:     c.QBittorrentBasicPass,
		TLSSkipVerify: c.QBittorrentTLSSkipVerify,
		LaunchCommand: c.QBittorrentLaunchCommand,
		SettleDelay:   c.QBittorrentSettleDelay,
		MaxRetries:    c.QBittorrentMaxRetries,
		RetryDelay:    c.QBittorrentRetryDelay,
		DeleteFiles:   c.ReapDeleteFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize qBittorrent client: %w", err)
	}
	return client, nil
}

// newClassifier chains the offline release-name heuristics with TMDb when a key is set.
func newClassifier(c *domain.Config) classifier.Classifier {
	chain := classifier.Chain{classifier.NewReleaseClassifier()}
	if tmdb := classifier.NewTMDbClassifier(c.TMDbAPIKey, "", 0); tmdb != nil {
		chain = append(chain, tmdb)
	}
	return chain
}

// newSeasonCounter returns TMDb when a key is set so shows are fetched per season.
func newSeasonCounter(c *domain.Config) scheduler.SeasonCounter {
	if tmdb := classifier.NewTMDbClassifier(c.TMDbAPIKey, "", 0); tmdb != nil {
		return tmdb
	}
	return nil
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() error {
	// Initialize configuration
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting phantomfetch")

	c := cfg.Config
	if err := c.Validate(); err != nil {
		log.Fatal().Err(err).Str("config", cfg.GetConfigPath()).Msg("Invalid configuration")
	}
	order, _ := c.Categories()

	// Initialize database
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	submissionStore := models.NewSubmissionStore(db)
	reapStore := models.NewReapStore(db)

	queueStore, err := queue.NewStore(cfg.GetQueueDir())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize queue store")
	}
	log.Info().Str("dir", cfg.GetQueueDir()).Msg("Queue store ready")

	// Initialize services
	failureCache := jackett.NewFailureCache(c.SearchCacheTTL)
	defer failureCache.Close()

	jackettService, err := jackett.NewService(jackett.Config{
		URL:            c.JackettURL,
		APIKey:         c.JackettAPIKey,
		TimeoutSeconds: c.JackettTimeout,
		CategoryIDs:    c.JackettCategoryIDs(),
		MinSeeders:     c.MinSeeders,
		Retries:        c.SearchRetries,
		BackoffBase:    c.SearchBackoffBase,
		Filter:         c.ResultFilter,
	}, failureCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Jackett service")
	}

	torrentClient, err := newTorrentClient(c)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize qBittorrent client")
	}

	library, err := jellyfin.NewClient(c.JellyfinURL, c.JellyfinAPIKey, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Jellyfin client")
	}

	admissionController := admission.NewController(torrentClient, c.MaxConcurrentDownloads)

	handlers, err := scheduler.NewHandlers(order, mediapath.Roots{
		Movies: c.MoviesPath,
		TV:     c.TVPath,
		Music:  c.MusicPath,
	}, newSeasonCounter(c))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build category handlers")
	}

	// Observers stay untyped nil when metrics are off.
	var (
		attemptObserver scheduler.Observer
		reapedObserver  reaper.Observer
		metricsServer   *metrics.Server
	)
	if c.MetricsEnabled {
		metricsManager := metrics.NewManager(metrics.Sources{
			Queues:  queueStore,
			Active:  torrentClient,
			Pending: submissionStore,
		}, failureCache)
		attemptObserver = metricsManager
		reapedObserver = metricsManager
		metricsServer = metrics.NewServer(metricsManager, c.MetricsHost, c.MetricsPort, c.MetricsBasicAuthUsers)
	}

	loop, err := scheduler.New(scheduler.Config{
		TickDelay:            c.TickDelay,
		AttemptTimeout:       c.AttemptTimeout,
		VerifyInterval:       c.VerifyInterval,
		MissDeferral:         c.MissDeferral,
		SubmissionStaleAfter: c.SubmissionStaleAfter,
		RefreshAfterSubmit:   c.JellyfinRefreshAfterSubmit,
	}, scheduler.Deps{
		Queue:     queueStore,
		Verifier:  library,
		Refresher: library,
		Searcher:  jackettService,
		Admission: admissionController,
		Submitter: torrentClient,
		Ledger:    submissionStore,
		Handlers:  handlers,
		Observer:  attemptObserver,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	defer loop.Close()

	reaperService, err := reaper.New(reaper.Config{
		Schedule:  c.ReapSchedule,
		Retention: reaper.DefaultRetention,
	}, torrentClient, reapStore, reapedObserver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize reaper")
	}

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		admissionController.SetLimit(conf.MaxConcurrentDownloads)
	})

	httpServer := api.NewServer(&api.Dependencies{
		Host:        c.Host,
		Port:        c.Port,
		BaseURL:     c.BaseURL,
		Queue:       queueStore,
		Classifier:  newClassifier(c),
		Scheduler:   loop,
		Downloads:   torrentClient,
		Submissions: submissionStore,
		Reaper:      reaperService,
		Limit:       admissionController.Limit,
	})

	// Start profiling server if enabled
	if app.pprofFlag {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	go func() {
		capCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := torrentClient.RefreshCapabilities(capCtx); err != nil {
			log.Warn().Err(err).Msg("Could not read qBittorrent capabilities; will retry on first submission")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if err := reaperService.Start(gctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info().Msg("Got signal, shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		reaperService.Stop()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
