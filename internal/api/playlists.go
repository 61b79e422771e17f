/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/playlists"
	"github.com/aiulian25/soundwave/internal/rules"
)

type ruleRequest struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Value2   string `json:"value2,omitempty"`
}

func (r ruleRequest) toRule() rules.Rule {
	return rules.Rule{
		Field:    r.Field,
		Operator: r.Operator,
		Value:    r.Value,
		Value2:   r.Value2,
	}
}

func toRules(reqs []ruleRequest) []rules.Rule {
	out := make([]rules.Rule, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req.toRule())
	}
	return out
}

type playlistCreateRequest struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	MatchMode      string        `json:"match_mode"`
	OrderBy        string        `json:"order_by"`
	OrderDirection string        `json:"order_direction"`
	Limit          *int          `json:"limit"`
	Rules          []ruleRequest `json:"rules"`
}

type playlistUpdateRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	MatchMode      *string `json:"match_mode"`
	OrderBy        *string `json:"order_by"`
	OrderDirection *string `json:"order_direction"`
	Limit          *int    `json:"limit"`
	ClearLimit     bool    `json:"clear_limit"`
}

func (a *API) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	list, err := a.playlists.List(r.Context(), ownerID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": list})
}

func (a *API) handlePlaylistsCreate(w http.ResponseWriter, r *http.Request) {
	var req playlistCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	playlist, err := a.playlists.Create(r.Context(), ownerID(r), playlists.CreateRequest{
		Name:           req.Name,
		Description:    req.Description,
		MatchMode:      models.MatchMode(req.MatchMode),
		OrderBy:        req.OrderBy,
		OrderDirection: req.OrderDirection,
		Limit:          req.Limit,
		Rules:          toRules(req.Rules),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, playlist)
}

func (a *API) handlePlaylistsGet(w http.ResponseWriter, r *http.Request) {
	playlist, err := a.playlists.Get(r.Context(), ownerID(r), chi.URLParam(r, "playlistID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playlist)
}

func (a *API) handlePlaylistsUpdate(w http.ResponseWriter, r *http.Request) {
	var req playlistUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	update := playlists.UpdateRequest{
		Name:           req.Name,
		Description:    req.Description,
		OrderBy:        req.OrderBy,
		OrderDirection: req.OrderDirection,
		Limit:          req.Limit,
		ClearLimit:     req.ClearLimit,
	}
	if req.MatchMode != nil {
		mode := models.MatchMode(*req.MatchMode)
		update.MatchMode = &mode
	}

	playlist, err := a.playlists.Update(r.Context(), ownerID(r), chi.URLParam(r, "playlistID"), update)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playlist)
}

func (a *API) handlePlaylistsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.playlists.Delete(r.Context(), ownerID(r), chi.URLParam(r, "playlistID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlaylistsReplaceRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules []ruleRequest `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	playlist, err := a.playlists.ReplaceRules(r.Context(), ownerID(r), chi.URLParam(r, "playlistID"), toRules(req.Rules))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playlist)
}

func (a *API) handlePlaylistsTracks(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)

	includeTracks := true
	if v := r.URL.Query().Get("ids_only"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			includeTracks = false
		}
	}

	result, err := a.playlists.Evaluate(r.Context(), ownerID(r), chi.URLParam(r, "playlistID"), page, pageSize, includeTracks)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePlaylistsPreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MatchMode      string        `json:"match_mode"`
		OrderBy        string        `json:"order_by"`
		OrderDirection string        `json:"order_direction"`
		Limit          *int          `json:"limit"`
		Rules          []ruleRequest `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	page, pageSize := parsePagination(r)
	result, err := a.playlists.Preview(r.Context(), ownerID(r), playlists.PreviewRequest{
		Rules:          toRules(req.Rules),
		MatchMode:      models.MatchMode(req.MatchMode),
		OrderBy:        req.OrderBy,
		OrderDirection: req.OrderDirection,
		Limit:          req.Limit,
	}, page, pageSize)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
