// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_DelayFor(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt uint
		want    time.Duration
	}{
		{name: "fixed first", policy: FixedPolicy(3, 5*time.Second), attempt: 1, want: 5 * time.Second},
		{name: "fixed third", policy: FixedPolicy(3, 5*time.Second), attempt: 3, want: 5 * time.Second},
		{name: "exponential first", policy: ExponentialPolicy(3, 2*time.Second), attempt: 1, want: 2 * time.Second},
		{name: "exponential second", policy: ExponentialPolicy(3, 2*time.Second), attempt: 2, want: 4 * time.Second},
		{name: "exponential third", policy: ExponentialPolicy(3, 2*time.Second), attempt: 3, want: 8 * time.Second},
		{
			name:    "exponential capped",
			policy:  Policy{Attempts: 10, Delay: time.Second, MaxDelay: 3 * time.Second, Backoff: Exponential},
			attempt: 5,
			want:    3 * time.Second,
		},
		{name: "zero attempt", policy: FixedPolicy(3, time.Second), attempt: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.DelayFor(tt.attempt))
		})
	}
}

func TestPolicy_DoSucceedsAfterFailures(t *testing.T) {
	var calls int
	var retried []uint

	p := FixedPolicy(3, time.Millisecond)
	p.OnRetry = func(attempt uint, err error) {
		retried = append(retried, attempt)
	}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []uint{1, 2}, retried)
}

func TestPolicy_DoReturnsLastError(t *testing.T) {
	var calls int
	lastErr := errors.New("third failure")

	err := FixedPolicy(3, time.Millisecond).Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return errors.New("earlier failure")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, lastErr)
	assert.Equal(t, 3, calls)
}

func TestPolicy_ZeroValueRunsOnce(t *testing.T) {
	var calls int
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_RetryIfStopsEarly(t *testing.T) {
	permanent := errors.New("bad credentials")
	var calls int

	p := FixedPolicy(5, time.Millisecond)
	p.RetryIf = func(err error) bool { return !errors.Is(err, permanent) }

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_UnrecoverableStopsEarly(t *testing.T) {
	var calls int
	err := FixedPolicy(5, time.Millisecond).Do(context.Background(), func(context.Context) error {
		calls++
		return Unrecoverable(errors.New("stop"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := FixedPolicy(3, time.Millisecond).Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, calls)
}
