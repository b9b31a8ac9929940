// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/internal/services/reaper"
	"github.com/phantomfetch/phantomfetch/internal/services/scheduler"
)

type SchedulerStats interface {
	Stats() scheduler.Stats
}

type DownloadSnapshotter interface {
	Snapshot(ctx context.Context) (models.ActiveDownloadSnapshot, error)
}

type SubmissionLister interface {
	List(ctx context.Context, category models.Category) ([]*models.Submission, error)
}

type ReaperStatus interface {
	Status() reaper.Status
}

// StatusHandler reports what the loop is doing. Every source is optional.
type StatusHandler struct {
	scheduler   SchedulerStats
	downloads   DownloadSnapshotter
	submissions SubmissionLister
	reaper      ReaperStatus
	limit       func() int
}

func NewStatusHandler(s SchedulerStats, d DownloadSnapshotter, l SubmissionLister, rp ReaperStatus, limit func() int) *StatusHandler {
	return &StatusHandler{scheduler: s, downloads: d, submissions: l, reaper: rp, limit: limit}
}

type AdmissionStatus struct {
	Available bool                           `json:"available"`
	Limit     int                            `json:"limit"`
	Snapshot  *models.ActiveDownloadSnapshot `json:"snapshot,omitempty"`
	Error     string                         `json:"error,omitempty"`
}

type StatusResponse struct {
	Scheduler   *scheduler.Stats     `json:"scheduler,omitempty"`
	Admission   AdmissionStatus      `json:"admission"`
	Submissions []*models.Submission `json:"submissions"`
	Reaper      *reaper.Status       `json:"reaper,omitempty"`
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if h.limit != nil {
		limit = h.limit()
	}

	resp := StatusResponse{
		Admission:   AdmissionStatus{Limit: limit},
		Submissions: []*models.Submission{},
	}

	if h.scheduler != nil {
		stats := h.scheduler.Stats()
		resp.Scheduler = &stats
	}

	if h.downloads != nil {
		snap, err := h.downloads.Snapshot(r.Context())
		if err != nil {
			resp.Admission.Error = err.Error()
		} else {
			resp.Admission.Snapshot = &snap
			resp.Admission.Available = snap.Count < limit
		}
	}

	if h.submissions != nil {
		subs, err := h.submissions.List(r.Context(), models.CategoryUnknown)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list submissions")
			RespondError(w, http.StatusInternalServerError, "Failed to list submissions")
			return
		}
		if subs != nil {
			resp.Submissions = subs
		}
	}

	if h.reaper != nil {
		st := h.reaper.Status()
		resp.Reaper = &st
	}

	RespondJSON(w, http.StatusOK, resp)
}
