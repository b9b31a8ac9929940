// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/internal/services/scheduler"
)

// CacheHits reports how many searches were suppressed by the failure cache.
type CacheHits interface {
	Hits() uint64
}

// Manager owns the registry and the event-driven metrics.
type Manager struct {
	registry       *prometheus.Registry
	stateCollector *StateCollector

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	fulfilled       *prometheus.CounterVec
	reaped          prometheus.Counter
}

// NewManager registers the runtime collectors, the state collector and the
// scheduler counters. cache may be nil.
func NewManager(sources Sources, cache CacheHits) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry:       registry,
		stateCollector: NewStateCollector(sources),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phantomfetch_scheduler_attempts_total",
			Help: "Scheduler attempts by category and outcome",
		}, []string{"category", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phantomfetch_scheduler_attempt_duration_seconds",
			Help:    "Duration of scheduler attempts by category",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}, []string{"category"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phantomfetch_submissions_total",
			Help: "Torrents handed to the client by category",
		}, []string{"category"}),
		fulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phantomfetch_requests_removed_total",
			Help: "Requests removed from their queue after a library hit, by category",
		}, []string{"category"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phantomfetch_reaped_torrents_total",
			Help: "Finished torrents removed from the client",
		}),
	}

	registry.MustRegister(m.stateCollector, m.attempts, m.attemptDuration, m.submissions, m.fulfilled, m.reaped)

	if cache != nil {
		registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "phantomfetch_search_cache_hits_total",
			Help: "Searches skipped because the query failed recently",
		}, func() float64 { return float64(cache.Hits()) }))
	}

	for _, c := range models.Categories {
		for _, o := range scheduler.Outcomes {
			m.attempts.WithLabelValues(c.String(), string(o))
		}
	}

	log.Info().Msg("Metrics manager initialized")
	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt records one scheduler attempt.
func (m *Manager) ObserveAttempt(category models.Category, outcome scheduler.Outcome, duration time.Duration) {
	label := category.String()
	m.attempts.WithLabelValues(label, string(outcome)).Inc()
	m.attemptDuration.WithLabelValues(label).Observe(duration.Seconds())

	switch {
	case outcome == scheduler.OutcomeSubmitted:
		m.submissions.WithLabelValues(label).Inc()
	case outcome.Removed():
		m.fulfilled.WithLabelValues(label).Inc()
	}
}

// ObserveReaped records a reaper run.
func (m *Manager) ObserveReaped(n int) {
	if n > 0 {
		m.reaped.Add(float64(n))
	}
}
