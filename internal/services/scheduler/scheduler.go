// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler runs the round-robin fulfillment loop over the request
// queues.
//
// Each tick visits the next category handler and performs exactly one
// attempt for the head entry of that category:
//
//	Queued    -> library check -> present: removed
//	                           -> absent: search -> not found: stays queued
//	                                             -> found: admission -> no slot: stays queued
//	                                                                 -> slot: submit -> ok: Submitted
//	Submitted -> library check -> present: removed
//	                           -> absent: stays Submitted
//
// Shows with a known season count are searched one season per visit; the
// entry becomes Submitted once every season has been tried.
//
// Submitted entries are tracked in a persistent ledger so a restart never
// resubmits them. An entry leaves its queue only on a confirmed library hit,
// and a head entry that is not removed stays the next candidate.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/pkg/stringutils"
)

// Queue is the persisted request list of each category.
type Queue interface {
	List(category models.Category) ([]string, error)
	RemoveFirstMatch(category models.Category, title string) (bool, error)
}

// Verifier answers whether a title is already in the media library.
type Verifier interface {
	Exists(ctx context.Context, title string, category models.Category, releaseYear *int) (bool, error)
}

// Refresher triggers a library rescan.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Searcher finds the best candidate for a queued title.
type Searcher interface {
	Search(ctx context.Context, query string, category models.Category) (*models.CandidateResult, bool)
}

// Admission gates submissions on the concurrent download cap.
type Admission interface {
	HasCapacity(ctx context.Context) bool
}

// Submitter hands a magnet to the torrent client.
type Submitter interface {
	Submit(ctx context.Context, magnet, destination, displayName string) error
}

// Ledger remembers which entries were submitted.
type Ledger interface {
	Record(ctx context.Context, sub models.Submission) error
	List(ctx context.Context, category models.Category) ([]*models.Submission, error)
	MarkChecked(ctx context.Context, category models.Category, title string, at time.Time) error
	Delete(ctx context.Context, category models.Category, title string) error
}

// Observer receives the outcome of every attempt.
type Observer interface {
	ObserveAttempt(category models.Category, outcome Outcome, duration time.Duration)
}

// Outcome is the result of a single tick.
type Outcome string

const (
	OutcomeIdle           Outcome = "idle"
	OutcomeStorageError   Outcome = "storage_error"
	OutcomeAlreadyPresent Outcome = "already_present"
	OutcomeVerifyFailed   Outcome = "verify_failed"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeNoCapacity     Outcome = "no_capacity"
	OutcomeSubmitFailed   Outcome = "submit_failed"
	OutcomeSubmitted      Outcome = "submitted"
	OutcomePending        Outcome = "pending"
	OutcomeFulfilled      Outcome = "fulfilled"
	OutcomeDeferred       Outcome = "deferred"
)

// Outcomes lists every outcome, for metric initialisation.
var Outcomes = []Outcome{
	OutcomeIdle, OutcomeStorageError, OutcomeAlreadyPresent, OutcomeVerifyFailed, OutcomeNotFound,
	OutcomeNoCapacity, OutcomeSubmitFailed, OutcomeSubmitted, OutcomePending, OutcomeFulfilled,
	OutcomeDeferred,
}

// Removed reports whether the outcome took the entry off its queue.
func (o Outcome) Removed() bool {
	return o == OutcomeAlreadyPresent || o == OutcomeFulfilled
}

// ActivityEvent records one attempt.
type ActivityEvent struct {
	Category  models.Category `json:"category"`
	Title     string          `json:"title,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Reason    string          `json:"reason,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stats is a point-in-time view of the loop.
type Stats struct {
	Ticks    uint64             `json:"ticks"`
	Outcomes map[Outcome]uint64 `json:"outcomes"`
	LastTick time.Time          `json:"lastTick"`
	Running  bool               `json:"running"`
	Order    []models.Category  `json:"order"`
	Deferred int                `json:"deferred"`
	History  []ActivityEvent    `json:"history"`
}

// Config holds the loop tunables.
type Config struct {
	TickDelay      time.Duration
	AttemptTimeout time.Duration
	// VerifyInterval holds back the library check of a submitted head entry
	// checked less than this long ago. Zero checks on every visit.
	VerifyInterval time.Duration
	// MissDeferral holds back a head entry whose search missed less than this
	// long ago. Zero searches again on every visit.
	MissDeferral         time.Duration
	SubmissionStaleAfter time.Duration
	RefreshAfterSubmit   bool
	HistorySize          int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		TickDelay:            time.Second,
		AttemptTimeout:       5 * time.Minute,
		SubmissionStaleAfter: 72 * time.Hour,
		RefreshAfterSubmit:   true,
		HistorySize:          defaultHistorySize,
	}
}

const defaultHistorySize = 50

// Deps are the collaborators of the loop. Refresher and Observer are optional.
type Deps struct {
	Queue     Queue
	Verifier  Verifier
	Refresher Refresher
	Searcher  Searcher
	Admission Admission
	Submitter Submitter
	Ledger    Ledger
	Handlers  []Handler
	Observer  Observer
}

// Scheduler is the fulfillment loop.
type Scheduler struct {
	cfg  Config
	deps Deps

	deferred *ttlcache.Cache[string, time.Time]
	// unrecorded holds submissions the ledger failed to store, keyed like deferred.
	unrecorded map[string]models.Submission

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	next     int
	ticks    uint64
	outcomes map[Outcome]uint64
	lastTick time.Time
	running  bool
	history  []ActivityEvent

	log zerolog.Logger
}

// New validates deps and builds a scheduler. Zero config values take their
// defaults, except VerifyInterval and MissDeferral where zero disables them.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("scheduler: queue is required")
	case deps.Verifier == nil:
		return nil, errors.New("scheduler: verifier is required")
	case deps.Searcher == nil:
		return nil, errors.New("scheduler: searcher is required")
	case deps.Admission == nil:
		return nil, errors.New("scheduler: admission is required")
	case deps.Submitter == nil:
		return nil, errors.New("scheduler: submitter is required")
	case deps.Ledger == nil:
		return nil, errors.New("scheduler: ledger is required")
	case len(deps.Handlers) == 0:
		return nil, errors.New("scheduler: at least one handler is required")
	}

	def := DefaultConfig()
	if cfg.TickDelay <= 0 {
		cfg.TickDelay = def.TickDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	cfg.VerifyInterval = max(cfg.VerifyInterval, 0)
	cfg.MissDeferral = max(cfg.MissDeferral, 0)
	if cfg.SubmissionStaleAfter <= 0 {
		cfg.SubmissionStaleAfter = def.SubmissionStaleAfter
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}

	s := &Scheduler{
		cfg:        cfg,
		deps:       deps,
		unrecorded: make(map[string]models.Submission),
		now:        time.Now,
		sleep:      sleepCtx,
		outcomes:   make(map[Outcome]uint64, len(Outcomes)),
		log:        log.With().Str("module", "scheduler").Logger(),
	}
	if cfg.MissDeferral > 0 {
		s.deferred = ttlcache.New(ttlcache.Options[string, time.Time]{}.SetDefaultTTL(cfg.MissDeferral))
	}
	return s, nil
}

// Run ticks until ctx is cancelled. The attempt in flight when ctx is
// cancelled is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	s.log.Info().
		Int("handlers", len(s.deps.Handlers)).
		Dur("tickDelay", s.cfg.TickDelay).
		Msg("Scheduler started")

	for {
		if ctx.Err() != nil {
			break
		}

		s.Tick(ctx)

		if err := s.sleep(ctx, s.cfg.TickDelay); err != nil {
			break
		}
	}

	s.log.Info().Msg("Scheduler stopped")
	return nil
}

// Close releases background resources.
func (s *Scheduler) Close() {
	if s.deferred != nil {
		s.deferred.Close()
	}
}

// Tick advances to the next handler and runs one attempt for it.
func (s *Scheduler) Tick(ctx context.Context) ActivityEvent {
	s.mu.Lock()
	handler := s.deps.Handlers[s.next]
	s.next = (s.next + 1) % len(s.deps.Handlers)
	s.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AttemptTimeout)
	defer cancel()

	start := s.now()
	event := s.attempt(attemptCtx, handler)
	event.Category = handler.Category()
	event.Timestamp = start
	event.Duration = s.now().Sub(start)

	s.record(event)
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveAttempt(event.Category, event.Outcome, event.Duration)
	}
	return event
}

func (s *Scheduler) attempt(ctx context.Context, h Handler) ActivityEvent {
	category := h.Category()
	l := s.log.With().Str("category", category.String()).Logger()

	titles, err := s.deps.Queue.List(category)
	if err != nil {
		l.Error().Err(err).Msg("Could not read queue, skipping category")
		return ActivityEvent{Outcome: OutcomeStorageError, Reason: err.Error()}
	}

	submissions, err := s.ledger(ctx, category, titles)
	if err != nil {
		l.Error().Err(err).Msg("Could not read submission ledger, skipping category")
		return ActivityEvent{Outcome: OutcomeStorageError, Reason: err.Error()}
	}

	if len(titles) == 0 {
		return ActivityEvent{Outcome: OutcomeIdle}
	}

	title := titles[0]
	key := stringutils.FoldKey(title)
	l = l.With().Str("title", title).Logger()

	sub, ok := submissions[key]
	if !ok {
		sub, ok = s.retryUnrecorded(ctx, category, key, l)
	}
	if ok {
		return s.resume(ctx, h, title, sub, l)
	}

	if s.isDeferred(category, key) {
		l.Debug().Msg("Search missed recently, holding entry")
		return ActivityEvent{Title: title, Outcome: OutcomeDeferred, Reason: "recent search miss"}
	}
	return s.fulfill(ctx, h, title, l)
}

// resume continues an entry that already has a submission.
func (s *Scheduler) resume(ctx context.Context, h Handler, title string, sub *models.Submission, l zerolog.Logger) ActivityEvent {
	if !sub.Complete() {
		return s.nextSeason(ctx, h, title, sub, l)
	}

	now := s.now()
	if now.Sub(sub.SubmittedAt) >= s.cfg.SubmissionStaleAfter {
		l.Warn().Time("submittedAt", sub.SubmittedAt).Msg("Submission never reached the library, queueing again")
		if err := s.forget(ctx, h.Category(), title); err != nil {
			l.Error().Err(err).Msg("Could not drop stale submission")
			return ActivityEvent{Title: title, Outcome: OutcomeStorageError, Reason: err.Error()}
		}
		return s.fulfill(ctx, h, title, l)
	}

	if s.cfg.VerifyInterval > 0 && sub.LastChecked != nil && now.Sub(*sub.LastChecked) < s.cfg.VerifyInterval {
		return ActivityEvent{Title: title, Outcome: OutcomeDeferred, Reason: "checked recently"}
	}
	return s.verifySubmitted(ctx, h, title, l)
}

// ledger loads the category's submissions keyed by folded title and drops
// rows whose entry is no longer queued.
func (s *Scheduler) ledger(ctx context.Context, category models.Category, titles []string) (map[string]*models.Submission, error) {
	subs, err := s.deps.Ledger.List(ctx, category)
	if err != nil {
		return nil, err
	}

	queued := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		queued[stringutils.FoldKey(t)] = struct{}{}
	}
	s.pruneUnrecorded(category, queued)

	if len(subs) == 0 {
		return nil, nil
	}

	out := make(map[string]*models.Submission, len(subs))
	for _, sub := range subs {
		key := stringutils.FoldKey(sub.Title)
		if _, ok := queued[key]; !ok {
			if err := s.deps.Ledger.Delete(ctx, category, sub.Title); err != nil {
				s.log.Warn().Err(err).Str("title", sub.Title).Msg("Could not drop submission for removed entry")
			}
			continue
		}
		out[key] = sub
	}
	return out, nil
}

func (s *Scheduler) fulfill(ctx context.Context, h Handler, title string, l zerolog.Logger) ActivityEvent {
	category := h.Category()

	name, year := h.LibraryQuery(title)
	present, err := s.deps.Verifier.Exists(ctx, name, category, year)
	if err != nil {
		l.Warn().Err(err).Msg("Library check failed")
		return ActivityEvent{Title: title, Outcome: OutcomeVerifyFailed, Reason: err.Error()}
	}
	if present {
		if outcome, ok := s.remove(category, title, OutcomeAlreadyPresent, l); !ok {
			return outcome
		}
		l.Info().Msg("Already in library, removed from queue")
		return ActivityEvent{Title: title, Outcome: OutcomeAlreadyPresent}
	}

	if sh, ok := h.(seasonal); ok {
		if n := sh.Seasons(ctx, title); n > 0 {
			return s.nextSeason(ctx, h, title, &models.Submission{
				Category:    category,
				Title:       title,
				Destination: h.Destination(title),
				Seasons:     n,
			}, l)
		}
	}

	candidate, found := s.deps.Searcher.Search(ctx, title, category)
	if !found {
		s.deferEntry(category, stringutils.FoldKey(title))
		return ActivityEvent{Title: title, Outcome: OutcomeNotFound}
	}

	if !s.deps.Admission.HasCapacity(ctx) {
		l.Debug().Msg("No download slot available")
		return ActivityEvent{Title: title, Outcome: OutcomeNoCapacity}
	}

	destination := h.Destination(title)
	if err := s.deps.Submitter.Submit(ctx, candidate.MagnetURI, destination, title); err != nil {
		l.Warn().Err(err).Msg("Submission failed, entry stays queued")
		return ActivityEvent{Title: title, Outcome: OutcomeSubmitFailed, Reason: err.Error()}
	}

	s.persist(ctx, models.Submission{
		Category:    category,
		Title:       title,
		Magnet:      candidate.MagnetURI,
		InfoHash:    candidate.InfoHash,
		Destination: destination,
		SubmittedAt: s.now(),
	}, l)
	s.refresh(ctx, l)

	l.Info().
		Str("release", candidate.Title).
		Int("seeders", candidate.Seeders).
		Str("destination", destination).
		Msg("Submitted")
	return ActivityEvent{Title: title, Outcome: OutcomeSubmitted, Reason: candidate.Title}
}

// nextSeason searches and submits the season after sub.Season. A season with
// no release is skipped. When no season had a release the entry is queued
// again from the first season.
func (s *Scheduler) nextSeason(ctx context.Context, h Handler, title string, sub *models.Submission, l zerolog.Logger) ActivityEvent {
	category := h.Category()
	sh, ok := h.(seasonal)
	if !ok {
		return s.verifySubmitted(ctx, h, title, l)
	}

	season := sub.Season + 1
	query := sh.SeasonQuery(title, season)
	progress := fmt.Sprintf("season %d/%d", season, sub.Seasons)
	l = l.With().Int("season", season).Int("seasons", sub.Seasons).Logger()

	next := *sub
	next.Season = season

	candidate, found := s.deps.Searcher.Search(ctx, query, category)
	if found {
		if !s.deps.Admission.HasCapacity(ctx) {
			l.Debug().Msg("No download slot available")
			return ActivityEvent{Title: title, Outcome: OutcomeNoCapacity, Reason: progress}
		}

		destination := sh.SeasonDestination(title, season)
		if err := s.deps.Submitter.Submit(ctx, candidate.MagnetURI, destination, query); err != nil {
			l.Warn().Err(err).Msg("Season submission failed, retrying next round")
			return ActivityEvent{Title: title, Outcome: OutcomeSubmitFailed, Reason: err.Error()}
		}
		next.Magnet = candidate.MagnetURI
		next.InfoHash = candidate.InfoHash
		next.SubmittedAt = s.now()
	} else {
		l.Info().Str("query", query).Msg("No release for season, skipping it")
	}

	if next.Complete() && next.Magnet == "" {
		if err := s.forget(ctx, category, title); err != nil {
			l.Error().Err(err).Msg("Could not reset season progress")
			return ActivityEvent{Title: title, Outcome: OutcomeStorageError, Reason: err.Error()}
		}
		s.deferEntry(category, stringutils.FoldKey(title))
		l.Info().Msg("No season had a release, entry stays queued")
		return ActivityEvent{Title: title, Outcome: OutcomeNotFound, Reason: progress}
	}

	if next.SubmittedAt.IsZero() {
		next.SubmittedAt = s.now()
	}
	s.persist(ctx, next, l)

	if !found {
		return ActivityEvent{Title: title, Outcome: OutcomeNotFound, Reason: progress}
	}
	s.refresh(ctx, l)

	l.Info().
		Str("release", candidate.Title).
		Int("seeders", candidate.Seeders).
		Msg("Submitted season")
	return ActivityEvent{Title: title, Outcome: OutcomeSubmitted, Reason: progress + ": " + candidate.Title}
}

func (s *Scheduler) verifySubmitted(ctx context.Context, h Handler, title string, l zerolog.Logger) ActivityEvent {
	category := h.Category()

	name, year := h.LibraryQuery(title)
	present, err := s.deps.Verifier.Exists(ctx, name, category, year)
	if err != nil {
		l.Warn().Err(err).Msg("Library check failed")
		return ActivityEvent{Title: title, Outcome: OutcomeVerifyFailed, Reason: err.Error()}
	}

	if !present {
		if err := s.deps.Ledger.MarkChecked(ctx, category, title, s.now()); err != nil {
			l.Warn().Err(err).Msg("Could not stamp submission check")
		}
		l.Debug().Msg("Submitted entry not in library yet")
		return ActivityEvent{Title: title, Outcome: OutcomePending}
	}

	if outcome, ok := s.remove(category, title, OutcomeFulfilled, l); !ok {
		return outcome
	}
	if err := s.forget(ctx, category, title); err != nil {
		l.Warn().Err(err).Msg("Could not drop fulfilled submission")
	}

	l.Info().Msg("Request fulfilled, removed from queue")
	return ActivityEvent{Title: title, Outcome: OutcomeFulfilled}
}

func (s *Scheduler) remove(category models.Category, title string, outcome Outcome, l zerolog.Logger) (ActivityEvent, bool) {
	if _, err := s.deps.Queue.RemoveFirstMatch(category, title); err != nil {
		l.Error().Err(err).Str("outcome", string(outcome)).Msg("Could not remove entry from queue")
		return ActivityEvent{Title: title, Outcome: OutcomeStorageError, Reason: err.Error()}, false
	}
	return ActivityEvent{}, true
}

func (s *Scheduler) refresh(ctx context.Context, l zerolog.Logger) {
	if !s.cfg.RefreshAfterSubmit || s.deps.Refresher == nil {
		return
	}
	if err := s.deps.Refresher.Refresh(ctx); err != nil {
		l.Debug().Err(err).Msg("Library refresh failed")
	}
}

// persist records sub in the ledger. A submission the ledger cannot store is
// kept in memory so the next visit does not submit it again.
func (s *Scheduler) persist(ctx context.Context, sub models.Submission, l zerolog.Logger) {
	key := entryKey(sub.Category, stringutils.FoldKey(sub.Title))
	if err := s.deps.Ledger.Record(ctx, sub); err != nil {
		l.Error().Err(err).Msg("Could not record submission, holding it in memory")
		s.mu.Lock()
		s.unrecorded[key] = sub
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	delete(s.unrecorded, key)
	s.mu.Unlock()
}

// retryUnrecorded returns a submission held in memory for the entry and tries
// to store it again.
func (s *Scheduler) retryUnrecorded(ctx context.Context, category models.Category, key string, l zerolog.Logger) (*models.Submission, bool) {
	s.mu.Lock()
	sub, ok := s.unrecorded[entryKey(category, key)]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	s.persist(ctx, sub, l)
	return &sub, true
}

func (s *Scheduler) pruneUnrecorded(category models.Category, queued map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, sub := range s.unrecorded {
		if sub.Category != category {
			continue
		}
		if _, ok := queued[stringutils.FoldKey(sub.Title)]; !ok {
			delete(s.unrecorded, k)
		}
	}
}

// forget drops every trace of a submission for the entry.
func (s *Scheduler) forget(ctx context.Context, category models.Category, title string) error {
	s.mu.Lock()
	delete(s.unrecorded, entryKey(category, stringutils.FoldKey(title)))
	s.mu.Unlock()
	return s.deps.Ledger.Delete(ctx, category, title)
}

func entryKey(category models.Category, key string) string {
	return category.String() + "\x00" + key
}

func (s *Scheduler) deferEntry(category models.Category, key string) {
	if s.deferred == nil {
		return
	}
	s.deferred.Set(entryKey(category, key), s.now(), ttlcache.DefaultTTL)
}

func (s *Scheduler) isDeferred(category models.Category, key string) bool {
	if s.deferred == nil {
		return false
	}
	at, ok := s.deferred.Get(entryKey(category, key))
	return ok && s.now().Sub(at) < s.cfg.MissDeferral
}

func (s *Scheduler) record(event ActivityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	s.outcomes[event.Outcome]++
	s.lastTick = event.Timestamp

	s.history = append(s.history, event)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]ActivityEvent(nil), s.history[over:]...)
	}
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// Stats returns a copy of the loop counters and recent activity, newest first.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make(map[Outcome]uint64, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}

	history := make([]ActivityEvent, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		history = append(history, s.history[i])
	}

	order := make([]models.Category, 0, len(s.deps.Handlers))
	for _, h := range s.deps.Handlers {
		order = append(order, h.Category())
	}

	return Stats{
		Ticks:    s.ticks,
		Outcomes: outcomes,
		LastTick: s.lastTick,
		Running:  s.running,
		Order:    order,
		Deferred: s.deferredCount(),
		History:  history,
	}
}

func (s *Scheduler) deferredCount() int {
	if s.deferred == nil {
		return 0
	}
	n := 0
	now := s.now()
	for _, key := range s.deferred.GetKeys() {
		if at, ok := s.deferred.Get(key); ok && now.Sub(at) < s.cfg.MissDeferral {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
