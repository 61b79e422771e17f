/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"path"
	"strings"

	"gorm.io/gorm"
)

// eventsWebSocketPath is the one endpoint allowed to authenticate with a
// query-string token, because browsers cannot set headers on WebSocket
// dials.
const eventsWebSocketPath = "/api/v1/events"

// MiddlewareWithJWT authenticates requests. An X-API-Key header wins
// over a Bearer token; with a nil jwtSecret only API keys are accepted.
func MiddlewareWithJWT(db *gorm.DB, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := authenticate(db, jwtSecret, r)
			if claims == nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// authenticate resolves request credentials to claims, or nil. A present
// but invalid API key fails outright rather than falling through to the
// token path.
func authenticate(db *gorm.DB, jwtSecret []byte, r *http.Request) *Claims {
	if key := r.Header.Get("X-API-Key"); key != "" {
		claims, err := ValidateAPIKey(db, key)
		if err != nil {
			return nil
		}
		return claims
	}

	if jwtSecret == nil {
		return nil
	}
	token := bearerToken(r)
	if token == "" {
		return nil
	}
	claims, err := Parse(jwtSecret, token)
	if err != nil {
		return nil
	}
	return claims
}

// RequireAdmin gates a handler on the admin flag. Must run inside an
// authenticated chain.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || !claims.IsAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"admin access required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

// bearerToken pulls the JWT out of the Authorization header, or, for the
// events WebSocket upgrade only, out of the token query parameter.
func bearerToken(r *http.Request) string {
	scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}

	if wantsWebSocket(r) && path.Clean(r.URL.Path) == eventsWebSocketPath {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func wantsWebSocket(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}
