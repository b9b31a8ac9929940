// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package queue persists the per-category request queues as plain text files.
//
// FILE FORMAT:
//
// One file per category (<dir>/<category>.txt), UTF-8, one title per line.
// Readers strip trailing whitespace and ignore blank lines. Writers emit
// "title\n" for every entry. Titles never contain line breaks.
//
// CONCURRENCY:
//
// Every mutation is a read-modify-write of the whole file, persisted by writing
// a temporary file, syncing it and renaming it over the original. Readers never
// observe a partially written file. There is no locking: two writers mutating the
// same category at the same time (the scheduler and an API caller, or two
// processes) race, and the last rename wins. An append interleaved with a
// removal can therefore be lost. Callers that need stronger guarantees must
// serialize access themselves.
package queue

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/pkg/stringutils"
)

var (
	// ErrInvalidTitle is returned for empty titles or titles containing line breaks.
	ErrInvalidTitle = errors.New("invalid title")
	// ErrEntryNotFound is returned by Edit when the title is not queued.
	ErrEntryNotFound = errors.New("entry not found")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StorageError reports an unreadable, unwritable or corrupt queue file.
type StorageError struct {
	Category models.Category
	Path     string
	Op       string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("queue %s: %s %s: %v", e.Category, e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DuplicateError is returned when a title is already queued in the category.
type DuplicateError struct {
	Category models.Category
	Title    string
	Existing string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%q is already queued in %s as %q", e.Title, e.Category, e.Existing)
}

// Store reads and writes queue files below a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir, creating the directory if needed.
// An unusable directory is reported here so callers can fail at startup.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("queue directory is not configured")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create queue directory %s", dir)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, errors.Wrapf(err, "queue directory %s is not writable", dir)
	}
	probe.Close()
	_ = os.Remove(probe.Name())

	return &Store{dir: dir}, nil
}

// Dir returns the directory holding the queue files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing a category queue.
func (s *Store) Path(category models.Category) string {
	return filepath.Join(s.dir, category.String()+".txt")
}

// List returns the queued titles in order. A missing file is an empty queue.
func (s *Store) List(category models.Category) ([]string, error) {
	if !category.Valid() {
		return nil, errors.Wrapf(models.ErrUnknownCategory, "list %s", category)
	}

	path := s.Path(category)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, &StorageError{Category: category, Path: path, Op: "read", Err: err}
	}

	titles, err := parse(data)
	if err != nil {
		return nil, &StorageError{Category: category, Path: path, Op: "parse", Err: err}
	}
	return titles, nil
}

// Peek returns the head of the queue.
func (s *Store) Peek(category models.Category) (string, bool, error) {
	titles, err := s.List(category)
	if err != nil {
		return "", false, err
	}
	if len(titles) == 0 {
		return "", false, nil
	}
	return titles[0], true, nil
}

// Append adds title to the tail of the queue unless an equal title is present.
func (s *Store) Append(category models.Category, title string) error {
	title, err := cleanTitle(title)
	if err != nil {
		return err
	}

	titles, err := s.List(category)
	if err != nil {
		return err
	}

	if i := indexOf(titles, title); i >= 0 {
		return &DuplicateError{Category: category, Title: title, Existing: titles[i]}
	}

	if err := s.write(category, append(titles, title)); err != nil {
		return err
	}

	log.Debug().Str("category", category.String()).Str("title", title).Msg("Queued request")
	return nil
}

// RemoveFirstMatch removes the first title equal to title. It reports whether
// anything was removed. A missing title leaves the file untouched.
func (s *Store) RemoveFirstMatch(category models.Category, title string) (bool, error) {
	titles, err := s.List(category)
	if err != nil {
		return false, err
	}

	i := indexOf(titles, title)
	if i < 0 {
		return false, nil
	}

	remaining := make([]string, 0, len(titles)-1)
	remaining = append(remaining, titles[:i]...)
	remaining = append(remaining, titles[i+1:]...)

	if err := s.write(category, remaining); err != nil {
		return false, err
	}

	log.Debug().Str("category", category.String()).Str("title", titles[i]).Msg("Removed request")
	return true, nil
}

// Edit replaces oldTitle with newTitle in place.
func (s *Store) Edit(category models.Category, oldTitle, newTitle string) error {
	newTitle, err := cleanTitle(newTitle)
	if err != nil {
		return err
	}

	titles, err := s.List(category)
	if err != nil {
		return err
	}

	i := indexOf(titles, oldTitle)
	if i < 0 {
		return errors.Wrapf(ErrEntryNotFound, "%q in %s", oldTitle, category)
	}

	if j := indexOf(titles, newTitle); j >= 0 && j != i {
		return &DuplicateError{Category: category, Title: newTitle, Existing: titles[j]}
	}

	titles[i] = newTitle
	return s.write(category, titles)
}

// Find returns queued titles fuzzily matching term, best match first.
func (s *Store) Find(category models.Category, term string) ([]string, error) {
	titles, err := s.List(category)
	if err != nil {
		return nil, err
	}

	term = strings.TrimSpace(term)
	if term == "" {
		return titles, nil
	}

	ranks := fuzzy.RankFindNormalizedFold(term, titles)
	// Ranks sort by distance; keep queue order for ties.
	sortRanks(ranks)

	out := make([]string, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, r.Target)
	}
	return out, nil
}

// Counts returns the queue depth of every category.
func (s *Store) Counts() (map[models.Category]int, error) {
	counts := make(map[models.Category]int, len(models.Categories))
	for _, c := range models.Categories {
		titles, err := s.List(c)
		if err != nil {
			return nil, err
		}
		counts[c] = len(titles)
	}
	return counts, nil
}

func (s *Store) write(category models.Category, titles []string) error {
	path := s.Path(category)

	var buf bytes.Buffer
	for _, t := range titles {
		buf.WriteString(t)
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(s.dir, "."+category.String()+"-*.tmp")
	if err != nil {
		return &StorageError{Category: category, Path: path, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		cleanup()
		return &StorageError{Category: category, Path: path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return &StorageError{Category: category, Path: path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &StorageError{Category: category, Path: path, Op: "close", Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return &StorageError{Category: category, Path: path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return &StorageError{Category: category, Path: path, Op: "rename", Err: err}
	}

	syncDir(s.dir)
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

func parse(data []byte) ([]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, errors.New("file is not valid UTF-8")
	}

	titles := []string{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRightFunc(scanner.Text(), isTrailingSpace)
		if strings.TrimSpace(line) == "" {
			continue
		}
		titles = append(titles, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return titles, nil
}

func isTrailingSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\v' || r == '\f' || r == 0x85 || r == 0xA0
}

func cleanTitle(title string) (string, error) {
	if strings.ContainsAny(title, "\r\n") {
		return "", errors.Wrap(ErrInvalidTitle, "title contains a line break")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errors.Wrap(ErrInvalidTitle, "title is empty")
	}
	return title, nil
}

func sortRanks(ranks fuzzy.Ranks) {
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].Distance != ranks[j].Distance {
			return ranks[i].Distance < ranks[j].Distance
		}
		return ranks[i].OriginalIndex < ranks[j].OriginalIndex
	})
}

func indexOf(titles []string, title string) int {
	key := stringutils.FoldKey(title)
	if key == "" {
		return -1
	}
	for i, t := range titles {
		if stringutils.FoldKey(t) == key {
			return i
		}
	}
	return -1
}
