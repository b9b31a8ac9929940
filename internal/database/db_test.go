// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesMigrations(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "phantomfetch.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"submissions", "reaped_torrents", "migrations"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations").Scan(&applied))
	assert.Equal(t, 3, applied)
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "phantomfetch.db")

	db, err := New(dbPath)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO submissions (category, title_key, title, magnet, submitted_at)
		VALUES ('movie', 'inception', 'Inception', 'magnet:?xt=urn:btih:abc', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM submissions").Scan(&count))
	assert.Equal(t, 1, count)

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations").Scan(&applied))
	assert.Equal(t, 3, applied)
}

func TestClose_Twice(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "phantomfetch.db"))
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}
