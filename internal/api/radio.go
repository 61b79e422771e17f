/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/cache"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/radio"
)

type radioStartRequest struct {
	Mode         string `json:"mode"`
	SeedTrackID  string `json:"seed_track_id"`
	VarietyLevel int    `json:"variety_level"`
}

// radioPlaybackReport carries what the client observed about the track it
// is reporting on. Durations are seconds of audio, not wall clock.
type radioPlaybackReport struct {
	TrackID        string  `json:"track_id"`
	FeedbackType   string  `json:"feedback_type,omitempty"`
	ListenDuration float64 `json:"listen_duration_seconds"`
	TrackDuration  float64 `json:"track_duration_seconds"`
}

func (a *API) handleRadioStart(w http.ResponseWriter, r *http.Request) {
	var req radioStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	session, err := a.radio.Start(r.Context(), ownerID(r), radio.StartRequest{
		Mode:         models.RadioMode(req.Mode),
		SeedTrackID:  req.SeedTrackID,
		VarietyLevel: req.VarietyLevel,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleRadioNext(w http.ResponseWriter, r *http.Request) {
	result, err := a.radio.Next(r.Context(), ownerID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRadioSkip(w http.ResponseWriter, r *http.Request) {
	var req radioPlaybackReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.TrackID == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return
	}

	if err := a.radio.Skip(r.Context(), ownerID(r), req.TrackID, req.ListenDuration, req.TrackDuration); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRadioFeedback(w http.ResponseWriter, r *http.Request) {
	var req radioPlaybackReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.TrackID == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return
	}

	err := a.radio.Feedback(r.Context(), ownerID(r), req.TrackID, models.FeedbackType(req.FeedbackType), req.ListenDuration, req.TrackDuration)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRadioStop(w http.ResponseWriter, r *http.Request) {
	if err := a.radio.Stop(r.Context(), ownerID(r)); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRadioSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.radio.Status(r.Context(), ownerID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	// Stopping soft-deactivates the row so history survives, but the
	// endpoint only reports live sessions.
	if !session.Active {
		writeError(w, http.StatusNotFound, "no_active_session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleRadioNowPlaying answers with the current track of the active
// session. Hits come straight from the cache; misses rebuild the entry
// from the session and track rows and prime it. The event listener drops
// the entry whenever the session advances or stops.
func (a *API) handleRadioNowPlaying(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	if entry, ok := a.cache.GetNowPlaying(r.Context(), owner); ok {
		writeJSON(w, http.StatusOK, entry)
		return
	}

	session, err := a.radio.Status(r.Context(), owner)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if !session.Active || session.CurrentTrackID == "" {
		writeError(w, http.StatusNotFound, "nothing_playing")
		return
	}

	var track models.Track
	err = a.db.WithContext(r.Context()).
		First(&track, "id = ? AND owner_id = ?", session.CurrentTrackID, owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "nothing_playing")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("load current track failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	entry := cache.CachedNowPlaying{
		OwnerID:     owner,
		TrackID:     track.ID,
		Title:       track.Title,
		Artist:      track.Artist,
		ChannelName: track.ChannelName,
		Mode:        session.Mode,
		TotalPlayed: session.TotalPlayed,
		StartedAt:   session.UpdatedAt,
	}
	if err := a.cache.SetNowPlaying(r.Context(), &entry); err != nil {
		a.logger.Debug().Err(err).Str("owner_id", owner).Msg("now playing cache write failed")
	}
	writeJSON(w, http.StatusOK, entry)
}
