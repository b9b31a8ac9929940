// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/pkg/retry"
)

var (
	renameTorrentMinVersion = semver.MustParse("2.0.0")
	setTagsMinVersion       = semver.MustParse("2.6.2")
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultSettleDelay = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 5 * time.Second

	// SubmissionTag is attached to every torrent added by the scheduler.
	SubmissionTag = "phantomfetch"
)

// terminalStates are the torrent states ReapCompleted removes.
var terminalStates = map[qbt.TorrentState]struct{}{
	qbt.TorrentStateUploading: {},
	qbt.TorrentStateStalledUp: {},
	qbt.TorrentStateQueuedUp:  {},
	qbt.TorrentStateForcedUp:  {},
	qbt.TorrentStatePausedUp:  {},
	qbt.TorrentStateStoppedUp: {},
	qbt.TorrentStateStalledDl: {},
}

// Backend is the subset of the qBittorrent WebAPI the client uses.
type Backend interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	AddTorrentFromUrlCtx(ctx context.Context, url string, options map[string]string) error
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
}

// Config configures the fulfillment client.
type Config struct {
	Host          string
	Username      string
	Password      string
	BasicUser     string
	BasicPass     string
	TLSSkipVerify bool
	Timeout       time.Duration

	// LaunchCommand starts qBittorrent when it is not reachable. Empty disables recovery.
	LaunchCommand string
	SettleDelay   time.Duration

	MaxRetries uint
	RetryDelay time.Duration

	// DeleteFiles removes downloaded data together with reaped torrents.
	DeleteFiles bool
}

// Client submits magnets to a single qBittorrent instance and keeps it
// running. It is safe for concurrent use.
type Client struct {
	backend  Backend
	launcher Launcher
	host     string

	settleDelay time.Duration
	deleteFiles bool
	policy      retry.Policy

	launches singleflight.Group
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	mu                    sync.RWMutex
	webAPIVersion         string
	supportsRenameTorrent bool
	supportsSetTags       bool

	healthMu        sync.RWMutex
	isHealthy       bool
	lastHealthCheck time.Time

	log zerolog.Logger
}

// NewClient builds a client for cfg.Host. It does not contact qBittorrent;
// the service may legitimately be down until the first submission.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("qbittorrent host is required")
	}
	host, err := models.NormalizeServiceURL(cfg.Host)
	if err != nil {
		return nil, errors.Wrap(err, "qbittorrent host")
	}
	cfg.Host = host

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	backend := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
		BasicUser:     cfg.BasicUser,
		BasicPass:     cfg.BasicPass,
	})

	var launcher Launcher
	commandLauncher, err := NewCommandLauncher(cfg.LaunchCommand)
	if err != nil {
		return nil, err
	}
	if commandLauncher != nil {
		launcher = commandLauncher
	}

	return NewClientWithBackend(cfg, backend, launcher), nil
}

// NewClientWithBackend builds a client around an arbitrary backend. launcher may be nil.
func NewClientWithBackend(cfg Config, backend Backend, launcher Launcher) *Client {
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	c := &Client{
		backend:     backend,
		launcher:    launcher,
		host:        cfg.Host,
		settleDelay: settle,
		deleteFiles: cfg.DeleteFiles,
		sleep:       sleepCtx,
		now:         time.Now,
		log:         log.With().Str("module", "qbittorrent").Str("host", cfg.Host).Logger(),
	}

	c.policy = retry.FixedPolicy(retries, delay)
	c.policy.RetryIf = func(err error) bool {
		return !isBanError(err)
	}

	return c
}

// IsReachable logs in and probes the WebAPI version.
func (c *Client) IsReachable(ctx context.Context) bool {
	if err := c.probe(ctx); err != nil {
		c.log.Debug().Err(err).Msg("qBittorrent not reachable")
		return false
	}
	return true
}

func (c *Client) probe(ctx context.Context) error {
	if err := c.backend.LoginCtx(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "login")
	}
	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return err
	}
	c.updateHealthStatus(true)
	return nil
}

// EnsureRunning returns true once qBittorrent answers, launching it if
// needed. Concurrent callers share a single launch.
func (c *Client) EnsureRunning(ctx context.Context) bool {
	if c.IsReachable(ctx) {
		return true
	}
	if c.launcher == nil {
		c.log.Warn().Msg("qBittorrent is down and no launch command is configured")
		return false
	}

	v, _, _ := c.launches.Do("launch", func() (any, error) {
		c.log.Info().Dur("settleDelay", c.settleDelay).Msg("Starting qBittorrent")
		if err := c.launcher.Launch(); err != nil {
			c.log.Error().Err(err).Msg("Failed to launch qBittorrent")
			return false, nil
		}
		if err := c.sleep(ctx, c.settleDelay); err != nil {
			return false, nil
		}
		return c.IsReachable(ctx), nil
	})

	up, _ := v.(bool)
	if !up {
		c.log.Warn().Msg("qBittorrent still unreachable after launch")
	}
	return up
}

// Submit adds magnet with destination as save path and displayName as the
// torrent name. If qBittorrent cannot be brought up nothing is sent and a
// ServiceUnavailableError is returned.
func (c *Client) Submit(ctx context.Context, magnet, destination, displayName string) error {
	if !c.EnsureRunning(ctx) {
		return &ServiceUnavailableError{Host: c.host, Op: "submit", Err: errUnreachable}
	}

	options := map[string]string{}
	if destination != "" {
		options["savepath"] = destination
		options["autoTMM"] = "false"
	}
	if displayName != "" && c.SupportsRenameTorrent() {
		options["rename"] = displayName
	}
	if c.SupportsSetTags() {
		options["tags"] = SubmissionTag
	}

	err := c.do(ctx, "submit", func(ctx context.Context) error {
		return c.backend.AddTorrentFromUrlCtx(ctx, magnet, options)
	})
	if err != nil {
		return err
	}

	c.log.Info().Str("name", displayName).Str("destination", destination).Msg("Submitted torrent")
	return nil
}

// ActiveCount returns the number of torrents in the downloading filter.
func (c *Client) ActiveCount(ctx context.Context) (int, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snapshot.Count, nil
}

// Snapshot lists the torrents currently downloading.
func (c *Client) Snapshot(ctx context.Context) (models.ActiveDownloadSnapshot, error) {
	var torrents []qbt.Torrent
	err := c.do(ctx, "list downloading", func(ctx context.Context) error {
		var listErr error
		torrents, listErr = c.backend.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Filter: qbt.TorrentFilterDownloading})
		return listErr
	})
	if err != nil {
		return models.ActiveDownloadSnapshot{}, err
	}

	hashes := make([]string, 0, len(torrents))
	for _, t := range torrents {
		hashes = append(hashes, t.Hash)
	}

	return models.ActiveDownloadSnapshot{
		Count:   len(torrents),
		Hashes:  hashes,
		TakenAt: c.now(),
	}, nil
}

// ReapCompleted removes seeding, completed and stalled torrents and returns
// how many were removed.
func (c *Client) ReapCompleted(ctx context.Context) (int, error) {
	reaped, err := c.Reap(ctx)
	return len(reaped), err
}

// Reap is ReapCompleted returning the removed torrents.
func (c *Client) Reap(ctx context.Context) ([]models.ReapedTorrent, error) {
	var torrents []qbt.Torrent
	err := c.do(ctx, "list torrents", func(ctx context.Context) error {
		var listErr error
		torrents, listErr = c.backend.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Filter: qbt.TorrentFilterAll})
		return listErr
	})
	if err != nil {
		return nil, err
	}

	now := c.now()
	var (
		hashes []string
		reaped []models.ReapedTorrent
	)
	for _, t := range torrents {
		if _, ok := terminalStates[t.State]; !ok {
			continue
		}
		hashes = append(hashes, t.Hash)
		reaped = append(reaped, models.ReapedTorrent{
			InfoHash: strings.ToLower(t.Hash),
			Name:     t.Name,
			State:    string(t.State),
			ReapedAt: now,
		})
	}

	if len(hashes) == 0 {
		return nil, nil
	}

	err = c.do(ctx, "delete torrents", func(ctx context.Context) error {
		return c.backend.DeleteTorrentsCtx(ctx, hashes, c.deleteFiles)
	})
	if err != nil {
		return nil, err
	}

	c.log.Info().Int("count", len(hashes)).Bool("deleteFiles", c.deleteFiles).Msg("Removed finished torrents")
	return reaped, nil
}

// do runs fn under the retry policy. Every retry first makes sure the
// service is up again.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var attempts uint
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 && !c.EnsureRunning(ctx) {
			return errUnreachable
		}
		return fn(ctx)
	})
	if err == nil {
		return nil
	}

	c.log.Error().Err(err).Str("op", op).Uint("attempts", attempts).Msg("qBittorrent operation failed")
	return &OperationFailedError{Op: op, Attempts: attempts, Err: err}
}

// RefreshCapabilities fetches the WebAPI version and recalculates feature flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.backend.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return errors.Wrap(err, "get webapi version")
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	c.mu.Lock()
	previous := c.webAPIVersion
	c.applyCapabilitiesLocked(version)
	c.mu.Unlock()

	if previous != version {
		c.log.Debug().
			Str("webAPIVersion", version).
			Bool("supportsRenameTorrent", c.SupportsRenameTorrent()).
			Bool("supportsSetTags", c.SupportsSetTags()).
			Msg("Refreshed qBittorrent capabilities")
	}
	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		c.log.Warn().
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsRenameTorrent = !v.LessThan(renameTorrentMinVersion)
	c.supportsSetTags = !v.LessThan(setTagsMinVersion)
}

func (c *Client) SupportsRenameTorrent() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsRenameTorrent
}

func (c *Client) SupportsSetTags() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsSetTags
}

func (c *Client) GetWebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) updateHealthStatus(healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = c.now()
}

// IsHealthy reports the outcome of the most recent probe.
func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

func (c *Client) GetLastHealthCheck() time.Time {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastHealthCheck
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
