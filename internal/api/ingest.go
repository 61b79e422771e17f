/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleIngestJobsList(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	status := r.URL.Query().Get("status")

	jobs, total, err := a.ingest.List(r.Context(), ownerID(r), status, page, pageSize)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":        jobs,
		"total_count": total,
	})
}

func (a *API) handleIngestJobsCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		YoutubeID string `json:"youtube_id"`
		Title     string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.YoutubeID) == "" {
		writeError(w, http.StatusBadRequest, "youtube_id_required")
		return
	}

	job, err := a.ingest.Enqueue(r.Context(), ownerID(r), req.YoutubeID, req.Title, nil)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *API) handleIngestJobsGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.ingest.Get(r.Context(), ownerID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleIngestJobsRetry(w http.ResponseWriter, r *http.Request) {
	job, err := a.ingest.Retry(r.Context(), ownerID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
