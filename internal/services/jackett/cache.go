// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jackett

import (
	"sync/atomic"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
)

// DefaultFailureTTL is how long a failed query is suppressed.
const DefaultFailureTTL = time.Hour

// FailureCache remembers queries that recently produced no usable result.
// Successes are never stored, so pending titles are searched again each round
// once their failure has aged out.
//
// Expiry is evaluated on lookup against the injected clock. The backing cache
// also drops entries in the background, which only bounds memory.
type FailureCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries *ttlcache.Cache[string, time.Time]

	hits atomic.Uint64
}

// NewFailureCache creates a cache; a non-positive ttl uses DefaultFailureTTL.
func NewFailureCache(ttl time.Duration) *FailureCache {
	if ttl <= 0 {
		ttl = DefaultFailureTTL
	}

	return &FailureCache{
		ttl:     ttl,
		now:     time.Now,
		entries: ttlcache.New(ttlcache.Options[string, time.Time]{}.SetDefaultTTL(ttl)),
	}
}

// IsRecentlyFailed reports whether query failed within the TTL window.
func (c *FailureCache) IsRecentlyFailed(query string) bool {
	failedAt, ok := c.entries.Get(query)
	if !ok {
		return false
	}
	if c.now().Sub(failedAt) >= c.ttl {
		return false
	}
	c.hits.Add(1)
	return true
}

// RecordFailure stores or refreshes the failure time for query.
func (c *FailureCache) RecordFailure(query string) {
	c.entries.Set(query, c.now(), ttlcache.DefaultTTL)
}

// FailedAt returns when query last failed, if it is still cached.
func (c *FailureCache) FailedAt(query string) (time.Time, bool) {
	failedAt, ok := c.entries.Get(query)
	if !ok || c.now().Sub(failedAt) >= c.ttl {
		return time.Time{}, false
	}
	return failedAt, true
}

// Hits returns how many lookups were answered from the cache.
func (c *FailureCache) Hits() uint64 {
	return c.hits.Load()
}

// TTL returns the failure window.
func (c *FailureCache) TTL() time.Duration {
	return c.ttl
}

// Close stops background expiry.
func (c *FailureCache) Close() {
	c.entries.Close()
}
