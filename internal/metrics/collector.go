// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
)

const collectTimeout = 10 * time.Second

// QueueCounter reports the number of queued entries per category.
type QueueCounter interface {
	Counts() (map[models.Category]int, error)
}

// ActiveCounter reports the downloads currently in progress.
type ActiveCounter interface {
	ActiveCount(ctx context.Context) (int, error)
}

// PendingCounter reports submissions awaiting library confirmation.
type PendingCounter interface {
	Count(ctx context.Context) (int, error)
}

// Sources are read on every scrape. Any of them may be nil.
type Sources struct {
	Queues  QueueCounter
	Active  ActiveCounter
	Pending PendingCounter
}

// StateCollector exports point-in-time gauges read from the sources.
type StateCollector struct {
	sources Sources

	queueDepthDesc      *prometheus.Desc
	activeDownloadsDesc *prometheus.Desc
	clientUpDesc        *prometheus.Desc
	pendingDesc         *prometheus.Desc
}

func NewStateCollector(sources Sources) *StateCollector {
	return &StateCollector{
		sources: sources,

		queueDepthDesc: prometheus.NewDesc(
			"phantomfetch_queue_depth",
			"Number of queued requests by category",
			[]string{"category"},
			nil,
		),
		activeDownloadsDesc: prometheus.NewDesc(
			"phantomfetch_active_downloads",
			"Number of downloads in progress in the torrent client",
			nil,
			nil,
		),
		clientUpDesc: prometheus.NewDesc(
			"phantomfetch_torrent_client_up",
			"Whether the torrent client answered the last scrape (1=up, 0=down)",
			nil,
			nil,
		),
		pendingDesc: prometheus.NewDesc(
			"phantomfetch_pending_submissions",
			"Submissions waiting to show up in the library",
			nil,
			nil,
		),
	}
}

func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepthDesc
	ch <- c.activeDownloadsDesc
	ch <- c.clientUpDesc
	ch <- c.pendingDesc
}

func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	if c.sources.Queues != nil {
		counts, err := c.sources.Queues.Counts()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count queues for metrics")
		}
		for _, category := range models.Categories {
			ch <- prometheus.MustNewConstMetric(
				c.queueDepthDesc,
				prometheus.GaugeValue,
				float64(counts[category]),
				category.String(),
			)
		}
	}

	if c.sources.Active != nil {
		active, err := c.sources.Active.ActiveCount(ctx)
		up := 1.0
		if err != nil {
			log.Debug().Err(err).Msg("Torrent client unavailable for metrics")
			up = 0
		} else {
			ch <- prometheus.MustNewConstMetric(c.activeDownloadsDesc, prometheus.GaugeValue, float64(active))
		}
		ch <- prometheus.MustNewConstMetric(c.clientUpDesc, prometheus.GaugeValue, up)
	}

	if c.sources.Pending != nil {
		pending, err := c.sources.Pending.Count(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count pending submissions for metrics")
			return
		}
		ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue, float64(pending))
	}
}
