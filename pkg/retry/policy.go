// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package retry provides an explicit retry policy that can be composed around
// any call site talking to an external service.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go"
)

// Backoff selects how the delay between attempts grows.
type Backoff int

const (
	// Fixed waits Delay between every attempt.
	Fixed Backoff = iota
	// Exponential waits Delay, 2*Delay, 4*Delay, ... capped by MaxDelay when set.
	Exponential
)

func (b Backoff) String() string {
	switch b {
	case Exponential:
		return "exponential"
	default:
		return "fixed"
	}
}

// Policy describes how often and how patiently an operation is retried.
// The zero value runs the operation exactly once.
type Policy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
	Backoff  Backoff

	// RetryIf decides whether an error is worth another attempt. Nil retries every error.
	RetryIf func(error) bool
	// OnRetry is called after a failed attempt that will be retried. Attempts are 1-based.
	OnRetry func(attempt uint, err error)
}

// FixedPolicy returns a policy with a constant delay between attempts.
func FixedPolicy(attempts uint, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Backoff: Fixed}
}

// ExponentialPolicy returns a policy whose delay doubles after every attempt.
func ExponentialPolicy(attempts uint, base time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: base, Backoff: Exponential}
}

// DelayFor returns the wait after the given 1-based failed attempt.
func (p Policy) DelayFor(attempt uint) time.Duration {
	if attempt == 0 || p.Delay <= 0 {
		return 0
	}

	d := p.Delay
	if p.Backoff == Exponential {
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d = p.Delay << shift
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, the attempts are exhausted, a non-retryable or
// Unrecoverable error is returned, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.LastErrorOnly(true),
		retrygo.Delay(p.Delay),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			// retry-go counts from zero.
			return p.DelayFor(n + 1)
		}),
	}
	if p.RetryIf != nil {
		opts = append(opts, retrygo.RetryIf(func(err error) bool {
			return retrygo.IsRecoverable(err) && p.RetryIf(err)
		}))
	}
	if p.OnRetry != nil {
		opts = append(opts, retrygo.OnRetry(func(n uint, err error) {
			// retry-go also reports the final failed attempt.
			if n+1 >= attempts {
				return
			}
			p.OnRetry(n+1, err)
		}))
	}

	return retrygo.Do(func() error {
		if err := ctx.Err(); err != nil {
			return retrygo.Unrecoverable(err)
		}
		return fn(ctx)
	}, opts...)
}

// Unrecoverable marks err so that Do stops retrying immediately.
func Unrecoverable(err error) error {
	return retrygo.Unrecoverable(err)
}
