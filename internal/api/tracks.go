/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/models"
)

const (
	trackPageSize    = 50
	trackPageSizeMax = 200
)

func (a *API) handleTracksList(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	q := r.URL.Query()

	query := a.db.WithContext(r.Context()).Model(&models.Track{}).Where("owner_id = ?", owner)

	if search := strings.TrimSpace(q.Get("search")); search != "" {
		like := "%" + search + "%"
		query = query.Where("title LIKE ? OR artist LIKE ? OR channel_name LIKE ?", like, like, like)
	}
	if channel := strings.TrimSpace(q.Get("channel")); channel != "" {
		query = query.Where("channel_id = ? OR channel_name = ?", channel, channel)
	}
	if fav := q.Get("favorites"); fav != "" {
		if v, err := strconv.ParseBool(fav); err == nil && v {
			query = query.Where("is_favorite = ?", true)
		}
	}
	if status := q.Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		a.logger.Error().Err(err).Msg("count tracks failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	page, pageSize := parsePagination(r)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = trackPageSize
	}
	if pageSize > trackPageSizeMax {
		pageSize = trackPageSizeMax
	}

	var tracks []models.Track
	err := query.
		Order("added_at DESC, id").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tracks).Error
	if err != nil {
		a.logger.Error().Err(err).Msg("list tracks failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tracks":      tracks,
		"total_count": total,
		"page":        page,
		"page_size":   pageSize,
		"has_more":    int64(page*pageSize) < total,
	})
}

func (a *API) handleTracksGet(w http.ResponseWriter, r *http.Request) {
	// Read-through: the cache is keyed on track ID alone, so a hit still
	// has to pass the owner check before it is served.
	if trackID := chi.URLParam(r, "trackID"); trackID != "" {
		if track, ok := a.cache.GetTrack(r.Context(), trackID); ok && track.OwnerID == ownerID(r) {
			writeJSON(w, http.StatusOK, track)
			return
		}
	}

	track, ok := a.loadTrack(w, r)
	if !ok {
		return
	}
	if err := a.cache.SetTrack(r.Context(), track); err != nil {
		a.logger.Debug().Err(err).Str("track_id", track.ID).Msg("track cache write failed")
	}
	writeJSON(w, http.StatusOK, track)
}

func (a *API) handleTracksFavorite(w http.ResponseWriter, r *http.Request) {
	a.setFavorite(w, r, true)
}

func (a *API) handleTracksUnfavorite(w http.ResponseWriter, r *http.Request) {
	a.setFavorite(w, r, false)
}

func (a *API) setFavorite(w http.ResponseWriter, r *http.Request, favorite bool) {
	owner := ownerID(r)
	trackID := chi.URLParam(r, "trackID")

	res := a.db.WithContext(r.Context()).
		Model(&models.Track{}).
		Where("id = ? AND owner_id = ?", trackID, owner).
		Update("is_favorite", favorite)
	if res.Error != nil {
		a.logger.Error().Err(res.Error).Msg("update favorite failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if res.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "track_not_found")
		return
	}

	a.bus.Publish(events.EventTrackFavorited, events.Payload{
		"owner_id": owner,
		"track_id": trackID,
		"favorite": favorite,
	})
	writeJSON(w, http.StatusOK, map[string]any{"id": trackID, "is_favorite": favorite})
}

func (a *API) handleTracksPlayed(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	var req struct {
		Source string `json:"source"`
	}
	if r.Body != nil {
		// Body is optional; a bare POST counts as a library play.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	source := models.PlaySource(req.Source)
	switch source {
	case models.PlaySourceRadio, models.PlaySourcePlaylist, models.PlaySourceLibrary:
	case "":
		source = models.PlaySourceLibrary
	default:
		writeError(w, http.StatusBadRequest, "invalid_source")
		return
	}

	track, ok := a.loadTrack(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	err := a.db.WithContext(r.Context()).
		Model(&models.Track{}).
		Where("id = ?", track.ID).
		Updates(map[string]any{
			"play_count":     gorm.Expr("play_count + 1"),
			"last_played_at": now,
		}).Error
	if err != nil {
		a.logger.Error().Err(err).Msg("record play failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventTrackPlayed, events.Payload{
		"owner_id":   owner,
		"track_id":   track.ID,
		"title":      track.Title,
		"channel_id": track.ChannelID,
		"source":     string(source),
	})

	track.PlayCount++
	track.LastPlayedAt = &now
	writeJSON(w, http.StatusOK, track)
}

func (a *API) handleTracksDelete(w http.ResponseWriter, r *http.Request) {
	track, ok := a.loadTrack(w, r)
	if !ok {
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&models.Track{}, "id = ?", track.ID).Error; err != nil {
		a.logger.Error().Err(err).Msg("delete track failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// The row is gone either way; a stale file gets picked up by verify.
	if track.StoragePath != "" {
		if err := a.media.Delete(r.Context(), track.StoragePath); err != nil {
			a.logger.Warn().Err(err).Str("path", track.StoragePath).Msg("delete audio failed")
		}
	}

	a.bus.Publish(events.EventTrackDeleted, events.Payload{
		"owner_id": track.OwnerID,
		"track_id": track.ID,
		"title":    track.Title,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTracksStream(w http.ResponseWriter, r *http.Request) {
	track, ok := a.loadTrack(w, r)
	if !ok {
		return
	}
	if track.Status != models.TrackReady || track.StoragePath == "" {
		writeError(w, http.StatusConflict, "audio_unavailable")
		return
	}

	// URL-backed storage answers with a redirect to a presigned URL;
	// filesystem storage serves the bytes with range support.
	url, err := a.media.URL(r.Context(), track.StoragePath)
	if err != nil {
		a.logger.Error().Err(err).Str("path", track.StoragePath).Msg("presign failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	if url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	f, err := a.media.Open(r.Context(), track.StoragePath)
	if err != nil {
		a.logger.Error().Err(err).Str("path", track.StoragePath).Msg("open audio failed")
		writeError(w, http.StatusNotFound, "audio_missing")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeForPath(track.StoragePath))
	http.ServeContent(w, r, filepath.Base(track.StoragePath), track.UpdatedAt, f)
}

// loadTrack fetches the track named in the URL, scoped to the caller.
// It writes the error response itself so handlers can bail with one check.
func (a *API) loadTrack(w http.ResponseWriter, r *http.Request) (*models.Track, bool) {
	trackID := chi.URLParam(r, "trackID")
	if trackID == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return nil, false
	}

	var track models.Track
	err := a.db.WithContext(r.Context()).
		First(&track, "id = ? AND owner_id = ?", trackID, ownerID(r)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "track_not_found")
		return nil, false
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("load track failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return &track, true
}

func contentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".opus", ".ogg", ".oga":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
