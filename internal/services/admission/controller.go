// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package admission caps the number of concurrent downloads.
package admission

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxConcurrentDownloads is used when no limit is configured.
const DefaultMaxConcurrentDownloads = 15

// ActiveCounter reports how many downloads are in progress.
type ActiveCounter interface {
	ActiveCount(ctx context.Context) (int, error)
}

// Controller grants a submission slot while active downloads are below the limit.
type Controller struct {
	counter ActiveCounter
	limit   atomic.Int64
	log     zerolog.Logger
}

func NewController(counter ActiveCounter, limit int) *Controller {
	if limit <= 0 {
		limit = DefaultMaxConcurrentDownloads
	}
	c := &Controller{
		counter: counter,
		log:     log.With().Str("module", "admission").Logger(),
	}
	c.limit.Store(int64(limit))
	return c
}

// Limit returns the concurrent download cap.
func (c *Controller) Limit() int {
	return int(c.limit.Load())
}

// SetLimit changes the cap, ignoring non-positive values.
func (c *Controller) SetLimit(limit int) {
	if limit <= 0 {
		return
	}
	if old := c.limit.Swap(int64(limit)); old != int64(limit) {
		c.log.Info().Int64("old", old).Int("limit", limit).Msg("Download limit changed")
	}
}

// HasCapacity is true iff the active count is below the limit. A count that
// cannot be obtained means no capacity.
func (c *Controller) HasCapacity(ctx context.Context) bool {
	active, err := c.counter.ActiveCount(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not count active downloads; withholding slot")
		return false
	}

	limit := c.Limit()
	if active >= limit {
		c.log.Debug().Int("active", active).Int("limit", limit).Msg("Download limit reached")
		return false
	}
	return true
}
