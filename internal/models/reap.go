// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/phantomfetch/phantomfetch/internal/dbinterface"
)

// ReapedTorrent is a torrent removed from the client after reaching a terminal state.
type ReapedTorrent struct {
	InfoHash string    `json:"infoHash"`
	Name     string    `json:"name"`
	State    string    `json:"state"`
	ReapedAt time.Time `json:"reapedAt"`
}

// ReapStore keeps a history of reaped torrents.
type ReapStore struct {
	db dbinterface.Querier
}

func NewReapStore(db dbinterface.Querier) *ReapStore {
	return &ReapStore{db: db}
}

func (s *ReapStore) Record(ctx context.Context, torrents []ReapedTorrent) error {
	for _, t := range torrents {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO reaped_torrents (info_hash, name, state, reaped_at) VALUES (?, ?, ?, ?)
		`, t.InfoHash, t.Name, t.State, t.ReapedAt.UTC()); err != nil {
			return errors.Wrapf(err, "could not record reaped torrent %s", t.InfoHash)
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *ReapStore) Recent(ctx context.Context, limit int) ([]ReapedTorrent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT info_hash, name, state, reaped_at FROM reaped_torrents
		ORDER BY reaped_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "could not list reaped torrents")
	}
	defer rows.Close()

	var out []ReapedTorrent
	for rows.Next() {
		var t ReapedTorrent
		if err := rows.Scan(&t.InfoHash, &t.Name, &t.State, &t.ReapedAt); err != nil {
			return nil, errors.Wrap(err, "could not scan reaped torrent")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes history older than cutoff.
func (s *ReapStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM reaped_torrents WHERE reaped_at < ?", cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "could not prune reaped torrents")
	}
	return res.RowsAffected()
}
