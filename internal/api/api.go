/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the REST surface under /api/v1. Handlers stay thin:
// request decoding, owner scoping from the JWT claims, and translation of
// service errors into status codes happen here, everything else lives in
// the service packages.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/audit"
	"github.com/aiulian25/soundwave/internal/auth"
	"github.com/aiulian25/soundwave/internal/cache"
	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/ingest"
	"github.com/aiulian25/soundwave/internal/logbuffer"
	"github.com/aiulian25/soundwave/internal/media"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/playlists"
	"github.com/aiulian25/soundwave/internal/radio"
	"github.com/aiulian25/soundwave/internal/rules"
	"github.com/aiulian25/soundwave/internal/stats"
	"github.com/aiulian25/soundwave/internal/subscriptions"
	"github.com/aiulian25/soundwave/internal/version"
)

// tokenTTL bounds how long a login token stays valid.
const tokenTTL = 24 * time.Hour

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	playlists *playlists.Service
	radio     *radio.Service
	subs      *subscriptions.Service
	ingest    *ingest.Service
	media     *media.Service
	stats     *stats.Service
	audit     *audit.Service
	bus       events.Broker
	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	updates   *version.Checker
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, playlistSvc *playlists.Service, radioSvc *radio.Service, subSvc *subscriptions.Service, ingestSvc *ingest.Service, mediaSvc *media.Service, statsSvc *stats.Service, auditSvc *audit.Service, bus events.Broker, entityCache *cache.Cache, logBuf *logbuffer.Buffer, updates *version.Checker, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		playlists: playlistSvc,
		radio:     radioSvc,
		subs:      subSvc,
		ingest:    ingestSvc,
		media:     mediaSvc,
		stats:     statsSvc,
		audit:     auditSvc,
		bus:       bus,
		cache:     entityCache,
		logBuffer: logBuf,
		updates:   updates,
		logger:    logger,
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleAuthLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Get("/me", a.handleMe)

			pr.Route("/tracks", func(r chi.Router) {
				r.Get("/", a.handleTracksList)
				r.Route("/{trackID}", func(r chi.Router) {
					r.Get("/", a.handleTracksGet)
					r.Delete("/", a.handleTracksDelete)
					r.Put("/favorite", a.handleTracksFavorite)
					r.Delete("/favorite", a.handleTracksUnfavorite)
					r.Post("/played", a.handleTracksPlayed)
					r.Get("/stream", a.handleTracksStream)
				})
			})

			pr.Route("/smart-playlists", func(r chi.Router) {
				r.Get("/", a.handlePlaylistsList)
				r.Post("/", a.handlePlaylistsCreate)
				r.Post("/preview", a.handlePlaylistsPreview)
				r.Route("/{playlistID}", func(r chi.Router) {
					r.Get("/", a.handlePlaylistsGet)
					r.Patch("/", a.handlePlaylistsUpdate)
					r.Delete("/", a.handlePlaylistsDelete)
					r.Put("/rules", a.handlePlaylistsReplaceRules)
					r.Get("/tracks", a.handlePlaylistsTracks)
				})
			})

			pr.Route("/radio", func(r chi.Router) {
				r.Post("/start", a.handleRadioStart)
				r.Post("/next", a.handleRadioNext)
				r.Post("/skip", a.handleRadioSkip)
				r.Post("/feedback", a.handleRadioFeedback)
				r.Post("/stop", a.handleRadioStop)
				r.Get("/session", a.handleRadioSession)
				r.Get("/now-playing", a.handleRadioNowPlaying)
			})

			pr.Route("/subscriptions", func(r chi.Router) {
				r.Get("/", a.handleSubscriptionsList)
				r.Post("/", a.handleSubscriptionsCreate)
				r.Route("/{subscriptionID}", func(r chi.Router) {
					r.Get("/", a.handleSubscriptionsGet)
					r.Patch("/", a.handleSubscriptionsUpdate)
					r.Delete("/", a.handleSubscriptionsDelete)
					r.Post("/refresh", a.handleSubscriptionsRefresh)
				})
			})

			pr.Route("/ingest/jobs", func(r chi.Router) {
				r.Get("/", a.handleIngestJobsList)
				r.Post("/", a.handleIngestJobsCreate)
				r.Route("/{jobID}", func(r chi.Router) {
					r.Get("/", a.handleIngestJobsGet)
					r.Post("/retry", a.handleIngestJobsRetry)
				})
			})

			pr.Get("/stats", a.handleStatsOverview)

			// System routes (admin only)
			pr.Route("/system", func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/logs", a.handleLogsList)
				r.Get("/logs/components", a.handleLogsComponents)
				r.Get("/logs/stats", a.handleLogsStats)
				r.Delete("/logs", a.handleLogsClear)
				r.Get("/audit", a.handleAuditList)
				r.Get("/version", a.handleSystemVersion)
				r.Delete("/cache", a.handleCacheFlush)
			})

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "credentials_required")
		return
	}

	var user models.User
	err := a.db.WithContext(r.Context()).First(&user, "email = ?", req.Email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !auth.CheckPassword(user.Password, req.Password)) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("login lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{UserID: user.ID, IsAdmin: user.IsAdmin}, tokenTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"user":       user,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var user models.User
	if err := a.db.WithContext(r.Context()).First(&user, "id = ?", claims.UserID).Error; err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ownerID returns the authenticated user's id. The empty string only
// happens on routes mounted outside the auth group, which is a bug.
func ownerID(r *http.Request) string {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID
}

// parsePagination reads page/page_size query parameters. Zero values let
// the service apply its own defaults and caps.
func parsePagination(r *http.Request) (page, pageSize int) {
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	return page, pageSize
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeServiceError translates service sentinel errors into status codes;
// anything unrecognized is logged and reported as a 500.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, code)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, playlists.ErrPlaylistNotFound):
		return http.StatusNotFound, "playlist_not_found"
	case errors.Is(err, playlists.ErrSystemPlaylistImmutable):
		return http.StatusForbidden, "system_playlist_immutable"
	case errors.Is(err, playlists.ErrDuplicateName):
		return http.StatusConflict, "name_in_use"
	case errors.Is(err, radio.ErrSessionNotFound):
		return http.StatusNotFound, "no_active_session"
	case errors.Is(err, radio.ErrNoTracksAvailable):
		return http.StatusConflict, "no_tracks_available"
	case errors.Is(err, radio.ErrTrackNotFound):
		return http.StatusNotFound, "track_not_found"
	case errors.Is(err, radio.ErrInvalidMode):
		return http.StatusBadRequest, "invalid_mode"
	case errors.Is(err, radio.ErrInvalidFeedback):
		return http.StatusBadRequest, "invalid_feedback"
	case errors.Is(err, subscriptions.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found"
	case errors.Is(err, subscriptions.ErrDuplicateSubscription):
		return http.StatusConflict, "subscription_exists"
	case errors.Is(err, ingest.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, ingest.ErrTrackExists):
		return http.StatusConflict, "track_already_in_library"
	case errors.Is(err, ingest.ErrNotRetryable):
		return http.StatusConflict, "job_not_retryable"
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, "not_found"
	}

	// Rule validation errors carry field/operator detail worth echoing.
	var ruleErr *rules.InvalidRuleError
	if errors.As(err, &ruleErr) {
		return http.StatusBadRequest, ruleErr.Error()
	}
	var valueErr *rules.InvalidRuleValueError
	if errors.As(err, &valueErr) {
		return http.StatusBadRequest, valueErr.Error()
	}

	return http.StatusInternalServerError, "internal_error"
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID

		var user models.User
		if err := a.db.Select("email").First(&user, "id = ?", claims.UserID).Error; err == nil {
			payload["user_email"] = user.Email
		}
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}
