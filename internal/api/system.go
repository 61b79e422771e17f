/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aiulian25/soundwave/internal/audit"
	"github.com/aiulian25/soundwave/internal/logbuffer"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/version"
)

func (a *API) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := a.stats.Overview(r.Context(), ownerID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// logRing hands back the in-memory ring, failing the request when the
// process runs without one.
func (a *API) logRing(w http.ResponseWriter) (*logbuffer.Buffer, bool) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return nil, false
	}
	return a.logBuffer, true
}

// logQuery translates the query string into ring parameters. Bad values
// fall back to defaults rather than failing the request; logs are a
// debugging surface, not an API contract.
func logQuery(r *http.Request) logbuffer.QueryParams {
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		JobID:      q.Get("job_id"),
		Search:     q.Get("search"),
		Limit:      500,
		Descending: q.Get("order") != "asc",
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		params.Since = t
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		params.Limit = n
	}
	return params
}

func (a *API) handleLogsList(w http.ResponseWriter, r *http.Request) {
	ring, ok := a.logRing(w)
	if !ok {
		return
	}
	entries := ring.Query(logQuery(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogsComponents(w http.ResponseWriter, r *http.Request) {
	ring, ok := a.logRing(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": ring.GetComponents()})
}

func (a *API) handleLogsStats(w http.ResponseWriter, r *http.Request) {
	ring, ok := a.logRing(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ring.Stats())
}

func (a *API) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	ring, ok := a.logRing(w)
	if !ok {
		return
	}
	ring.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// handleCacheFlush wipes every cache entry. Admin-only escape hatch for
// when an invalidation bug leaves stale data behind.
func (a *API) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if !a.cache.IsAvailable() {
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable")
		return
	}

	if err := a.cache.FlushAll(r.Context()); err != nil {
		a.logger.Error().Err(err).Msg("cache flush failed")
		writeError(w, http.StatusInternalServerError, "cache_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flushed": true})
}

func (a *API) handleSystemVersion(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"version":    version.Version,
		"commit":     version.Commit,
		"build_date": version.BuildDate,
	}
	if a.updates != nil {
		resp["update"] = a.updates.Info()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := audit.QueryFilters{Limit: 100}

	if v := q.Get("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := q.Get("action"); v != "" {
		action := models.AuditAction(v)
		filters.Action = &action
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.From = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.To = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filters.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	entries, total, err := a.audit.Query(r.Context(), filters)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":     entries,
		"total_count": total,
	})
}
