// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/phantomfetch/phantomfetch/internal/dbinterface"
	"github.com/phantomfetch/phantomfetch/pkg/stringutils"
)

var ErrSubmissionNotFound = errors.New("submission not found")

// Submission records that a title was handed to the torrent client and is
// awaiting confirmation from the library.
//
// Shows fetched season by season carry Seasons > 0 and the last season handled
// in Season. Magnet is empty until one of those seasons was found.
type Submission struct {
	Category    Category   `json:"category"`
	Title       string     `json:"title"`
	Magnet      string     `json:"magnet"`
	InfoHash    string     `json:"infoHash"`
	Destination string     `json:"destination"`
	Season      int        `json:"season,omitempty"`
	Seasons     int        `json:"seasons,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
}

// Complete reports whether every part of the title has been handled.
func (s *Submission) Complete() bool {
	return s.Season >= s.Seasons
}

// SubmissionStore persists submissions keyed by category and folded title.
type SubmissionStore struct {
	db dbinterface.Querier
}

func NewSubmissionStore(db dbinterface.Querier) *SubmissionStore {
	return &SubmissionStore{db: db}
}

// Record inserts or replaces the submission for the title.
func (s *SubmissionStore) Record(ctx context.Context, sub Submission) error {
	if !sub.Category.Valid() {
		return errors.Wrapf(ErrUnknownCategory, "record submission %q", sub.Title)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (category, title_key, title, magnet, info_hash, destination, season, seasons, submitted_at, last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (category, title_key) DO UPDATE SET
			title = excluded.title,
			magnet = excluded.magnet,
			info_hash = excluded.info_hash,
			destination = excluded.destination,
			season = excluded.season,
			seasons = excluded.seasons,
			submitted_at = excluded.submitted_at,
			last_checked = NULL
	`,
		sub.Category.String(),
		stringutils.FoldKey(sub.Title),
		sub.Title,
		sub.Magnet,
		sub.InfoHash,
		sub.Destination,
		sub.Season,
		sub.Seasons,
		sub.SubmittedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "could not record submission")
	}
	return nil
}

// Get returns the submission for the title or ErrSubmissionNotFound.
func (s *SubmissionStore) Get(ctx context.Context, category Category, title string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT category, title, magnet, info_hash, destination, season, seasons, submitted_at, last_checked
		FROM submissions
		WHERE category = ? AND title_key = ?
	`, category.String(), stringutils.FoldKey(title))

	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, errors.Wrap(err, "could not get submission")
	}
	return sub, nil
}

// List returns all submissions for a category, oldest first. CategoryUnknown lists every category.
func (s *SubmissionStore) List(ctx context.Context, category Category) ([]*Submission, error) {
	query := `
		SELECT category, title, magnet, info_hash, destination, season, seasons, submitted_at, last_checked
		FROM submissions
	`
	var args []any
	if category != CategoryUnknown {
		query += " WHERE category = ?"
		args = append(args, category.String())
	}
	query += " ORDER BY submitted_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "could not list submissions")
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, errors.Wrap(err, "could not scan submission")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "could not list submissions")
	}
	return subs, nil
}

// MarkChecked stamps the last library check time.
func (s *SubmissionStore) MarkChecked(ctx context.Context, category Category, title string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET last_checked = ? WHERE category = ? AND title_key = ?
	`, at.UTC(), category.String(), stringutils.FoldKey(title))
	if err != nil {
		return errors.Wrap(err, "could not update submission")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// Delete removes the submission for the title. Deleting a missing row is not an error.
func (s *SubmissionStore) Delete(ctx context.Context, category Category, title string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM submissions WHERE category = ? AND title_key = ?
	`, category.String(), stringutils.FoldKey(title))
	if err != nil {
		return errors.Wrap(err, "could not delete submission")
	}
	return nil
}

// Count returns the number of pending submissions.
func (s *SubmissionStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM submissions").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "could not count submissions")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		category    string
		sub         Submission
		lastChecked sql.NullTime
	)

	if err := row.Scan(
		&category,
		&sub.Title,
		&sub.Magnet,
		&sub.InfoHash,
		&sub.Destination,
		&sub.Season,
		&sub.Seasons,
		&sub.SubmittedAt,
		&lastChecked,
	); err != nil {
		return nil, err
	}

	c, err := ParseCategory(category)
	if err != nil {
		return nil, err
	}
	sub.Category = c

	if lastChecked.Valid {
		t := lastChecked.Time
		sub.LastChecked = &t
	}
	return &sub, nil
}
