// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/internal/queue"
)

// QueueStore is the subset of queue.Store the API edits through.
type QueueStore interface {
	List(category models.Category) ([]string, error)
	Peek(category models.Category) (string, bool, error)
	Append(category models.Category, title string) error
	RemoveFirstMatch(category models.Category, title string) (bool, error)
	Edit(category models.Category, oldTitle, newTitle string) error
	Find(category models.Category, term string) ([]string, error)
	Counts() (map[models.Category]int, error)
}

type QueuesHandler struct {
	store QueueStore
}

func NewQueuesHandler(store QueueStore) *QueuesHandler {
	return &QueuesHandler{store: store}
}

type QueueResponse struct {
	Category models.Category `json:"category"`
	Titles   []string        `json:"titles"`
}

type TitleRequest struct {
	Title string `json:"title"`
}

type EditRequest struct {
	Title    string `json:"title"`
	NewTitle string `json:"newTitle"`
}

// Counts returns the depth of every queue.
func (h *QueuesHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Counts()
	if err != nil {
		respondQueueError(w, err, "Failed to count queues")
		return
	}

	out := make(map[string]int, len(counts))
	for c, n := range counts {
		out[c.String()] = n
	}
	RespondJSON(w, http.StatusOK, out)
}

func (h *QueuesHandler) List(w http.ResponseWriter, r *http.Request) {
	category, ok := ParseCategory(w, r)
	if !ok {
		return
	}

	titles, err := h.store.List(category)
	if err != nil {
		respondQueueError(w, err, "Failed to read queue")
		return
	}
	RespondJSON(w, http.StatusOK, QueueResponse{Category: category, Titles: nonNil(titles)})
}

func (h *QueuesHandler) Peek(w http.ResponseWriter, r *http.Request) {
	category, ok := ParseCategory(w, r)
	if !ok {
		return
	}

	title, found, err := h.store.Peek(category)
	if err != nil {
		respondQueueError(w, err, "Failed to read queue")
		return
	}
	if !found {
		RespondError(w, http.StatusNotFound, "Queue is empty")
		return
	}
	RespondJSON(w, http.StatusOK, TitleRequest{Title: title})
}

func (h *QueuesHandler) Search(w http.ResponseWriter, r *http.Request) {
	category, ok := ParseCategory(w, r)
	if !ok {
		return
	}

	titles, err := h.store.Find(category, r.URL.Query().Get("q"))
	if err != nil {
		respondQueueError(w, err, "Failed to search queue")
		return
	}
	RespondJSON(w, http.StatusOK, QueueResponse{Category: category, Titles: nonNil(titles)})
}

func (h *QueuesHandler) Add(w http.ResponseWriter, r *http.Request) {
	category, ok := ParseCategory(w, r)
	if !ok {
		return
	}

	var req TitleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.store.Append(category, req.Title); err != nil {
		respondQueueError(w, err, "Failed to add request")
		return
	}

	log.Info().Str("category", category.String()).Str("title", req.Title).Msg("Request added via API")
	RespondJSON(w, http.StatusCreated, TitleRequest{Title: strings.TrimSpace(req.Title)})
}

func (h *QueuesHandler) Edit(w http.ResponseWriter, r *http.Request) {
	category, ok := ParseCategory(w, r)
	if !ok {
		return
	}

	var req EditRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.store.Edit(category, req.Title, req.NewTitle); err != nil {
		respondQueueError(w, err, "Failed to edit request")
		return
	}
	RespondJSON(w, http.StatusOK, TitleRequest{Title: strings.TrimSpace(req.NewTitle)})
}

func (h *QueuesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	category, ok := ParseCategory(w, r)
	if !ok {
		return
	}

	title := r.URL.Query().Get("title")
	if strings.TrimSpace(title) == "" {
		RespondError(w, http.StatusBadRequest, "title is required")
		return
	}

	removed, err := h.store.RemoveFirstMatch(category, title)
	if err != nil {
		respondQueueError(w, err, "Failed to remove request")
		return
	}
	if !removed {
		RespondError(w, http.StatusNotFound, "Request not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondQueueError(w http.ResponseWriter, err error, fallback string) {
	var dup *queue.DuplicateError
	switch {
	case errors.As(err, &dup):
		RespondError(w, http.StatusConflict, dup.Error())
	case errors.Is(err, queue.ErrInvalidTitle):
		RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrEntryNotFound):
		RespondError(w, http.StatusNotFound, "Request not found")
	default:
		log.Error().Err(err).Msg(fallback)
		RespondError(w, http.StatusInternalServerError, fallback)
	}
}

func nonNil(titles []string) []string {
	if titles == nil {
		return []string{}
	}
	return titles
}
