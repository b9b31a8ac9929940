// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reaper periodically removes finished torrents from the client so
// the active download count reflects real work.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
)

const (
	DefaultSchedule  = "@every 5m"
	DefaultRetention = 7 * 24 * time.Hour
)

// Reaper removes torrents in a terminal state and returns them.
type Reaper interface {
	Reap(ctx context.Context) ([]models.ReapedTorrent, error)
}

// History keeps the reaped torrents.
type History interface {
	Record(ctx context.Context, torrents []models.ReapedTorrent) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Observer is told how many torrents each run removed.
type Observer interface {
	ObserveReaped(n int)
}

// Config controls the cadence and how long history is kept. A zero Retention
// keeps history forever.
type Config struct {
	Schedule  string
	Retention time.Duration
}

// Result is the outcome of one run.
type Result struct {
	Reaped []models.ReapedTorrent `json:"reaped"`
	Pruned int64                  `json:"pruned"`
}

// Status describes the last run.
type Status struct {
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"lastRun"`
	LastCount int       `json:"lastCount"`
	LastError string    `json:"lastError,omitempty"`
	Total     int       `json:"total"`
}

// Service runs the reaper on a cron schedule.
type Service struct {
	cfg      Config
	reaper   Reaper
	history  History
	observer Observer

	cron *cron.Cron
	now  func() time.Time

	mu     sync.Mutex
	status Status

	log zerolog.Logger
}

// New validates the schedule and builds a service. history and observer may be nil.
func New(cfg Config, reaper Reaper, history History, observer Observer) (*Service, error) {
	if reaper == nil {
		return nil, errors.New("reaper: client is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, errors.Wrapf(err, "invalid reap schedule %q", cfg.Schedule)
	}

	l := log.With().Str("module", "reaper").Logger()
	cl := cronLogger{log: l}

	return &Service{
		cfg:      cfg,
		reaper:   reaper,
		history:  history,
		observer: observer,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		now:      time.Now,
		status:   Status{Schedule: cfg.Schedule},
		log:      l,
	}, nil
}

// Start registers the job and starts the cron runner. Runs use ctx.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return errors.Wrap(err, "schedule reaper")
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.cfg.Schedule).Msg("Reaper started")
	return nil
}

// Stop stops the runner and waits for a run in progress.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Reaper stopped")
}

// RunOnce reaps finished torrents, records them and prunes old history.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	reaped, err := s.reaper.Reap(ctx)
	s.finish(len(reaped), err)
	if err != nil {
		s.log.Warn().Err(err).Msg("Reap failed")
		return res, err
	}
	res.Reaped = reaped

	if s.observer != nil {
		s.observer.ObserveReaped(len(reaped))
	}

	if s.history == nil {
		return res, nil
	}

	if len(reaped) > 0 {
		if err := s.history.Record(ctx, reaped); err != nil {
			s.log.Error().Err(err).Int("count", len(reaped)).Msg("Could not record reaped torrents")
		}
	}

	if s.cfg.Retention > 0 {
		pruned, err := s.history.Prune(ctx, s.now().Add(-s.cfg.Retention))
		if err != nil {
			s.log.Warn().Err(err).Msg("Could not prune reap history")
		}
		res.Pruned = pruned
	}

	if len(reaped) > 0 {
		s.log.Info().Int("count", len(reaped)).Int64("pruned", res.Pruned).Msg("Reap finished")
	}
	return res, nil
}

func (s *Service) finish(count int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.LastRun = s.now()
	s.status.LastCount = count
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
		return
	}
	s.status.Total += count
}

// Status returns a copy of the last run's outcome.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
