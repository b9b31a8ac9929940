// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/internal/services/classifier"
)

type RequestsHandler struct {
	store      QueueStore
	classifier classifier.Classifier
}

func NewRequestsHandler(store QueueStore, cl classifier.Classifier) *RequestsHandler {
	return &RequestsHandler{store: store, classifier: cl}
}

type CreateRequest struct {
	Title string `json:"title"`
	// Category skips classification when set.
	Category string `json:"category,omitempty"`
}

// Create classifies a free-form title and queues it.
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		RespondError(w, http.StatusBadRequest, "title is required")
		return
	}

	category := models.CategoryUnknown
	if req.Category != "" {
		c, err := models.ParseCategory(req.Category)
		if err != nil {
			RespondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		category = c
	} else if h.classifier != nil {
		c, err := h.classifier.Classify(r.Context(), req.Title)
		if err != nil {
			log.Warn().Err(err).Str("title", req.Title).Msg("Classification failed")
		}
		category = c
	}

	if category == models.CategoryUnknown {
		RespondError(w, http.StatusUnprocessableEntity, "Could not determine the category of "+req.Title)
		return
	}

	if err := h.store.Append(category, req.Title); err != nil {
		respondQueueError(w, err, "Failed to add request")
		return
	}

	log.Info().Str("category", category.String()).Str("title", req.Title).Msg("Request classified and queued")
	RespondJSON(w, http.StatusCreated, models.RequestEntry{Title: strings.TrimSpace(req.Title), Category: category})
}
