// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type counterFunc func(ctx context.Context) (int, error)

func (f counterFunc) ActiveCount(ctx context.Context) (int, error) { return f(ctx) }

func TestController_HasCapacity(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		active int
		err    error
		want   bool
	}{
		{name: "idle", limit: 15, active: 0, want: true},
		{name: "one below limit", limit: 15, active: 14, want: true},
		{name: "at limit", limit: 15, active: 15, want: false},
		{name: "above limit", limit: 15, active: 20, want: false},
		{name: "count error", limit: 15, err: errors.New("unreachable"), want: false},
		{name: "default limit", limit: 0, active: 14, want: true},
		{name: "default limit reached", limit: 0, active: 15, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(counterFunc(func(context.Context) (int, error) {
				return tt.active, tt.err
			}), tt.limit)
			assert.Equal(t, tt.want, c.HasCapacity(context.Background()))
		})
	}
}

func TestController_Limit(t *testing.T) {
	assert.Equal(t, DefaultMaxConcurrentDownloads, NewController(nil, -1).Limit())
	assert.Equal(t, 3, NewController(nil, 3).Limit())
}

func TestController_SetLimit(t *testing.T) {
	c := NewController(counterFunc(func(context.Context) (int, error) { return 4, nil }), 4)
	assert.False(t, c.HasCapacity(context.Background()))

	c.SetLimit(5)
	assert.Equal(t, 5, c.Limit())
	assert.True(t, c.HasCapacity(context.Background()))

	c.SetLimit(0)
	assert.Equal(t, 5, c.Limit())
}
