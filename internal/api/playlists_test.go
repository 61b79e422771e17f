package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aiulian25/soundwave/internal/models"
)

func createPlaylist(t *testing.T, env *testEnv, owner string, body map[string]any) models.SmartPlaylist {
	t.Helper()
	rr := httptest.NewRecorder()
	env.api.handlePlaylistsCreate(rr, authed("POST", "/api/v1/smart-playlists", body, owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create playlist: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var playlist models.SmartPlaylist
	decodeBody(t, rr, &playlist)
	return playlist
}

func TestPlaylistsCreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	owner := "owner-a"

	playlist := createPlaylist(t, env, owner, map[string]any{
		"name":       "Synthwave Favorites",
		"match_mode": "all",
		"order_by":   "play_count",
		"order_direction": "desc",
		"rules": []map[string]string{
			{"field": "genre", "operator": "equals", "value": "synthwave"},
			{"field": "is_favorite", "operator": "equals", "value": "true"},
		},
	})
	if playlist.Name != "Synthwave Favorites" || len(playlist.Rules) != 2 {
		t.Fatalf("unexpected playlist %+v", playlist)
	}

	rr := httptest.NewRecorder()
	req := withParam(authed("GET", "/api/v1/smart-playlists/"+playlist.ID, nil, owner), "playlistID", playlist.ID)
	env.api.handlePlaylistsGet(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	// Same name again conflicts.
	rr = httptest.NewRecorder()
	env.api.handlePlaylistsCreate(rr, authed("POST", "/api/v1/smart-playlists", map[string]any{
		"name":       "Synthwave Favorites",
		"match_mode": "all",
	}, owner))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate name: expected 409, got %d", rr.Code)
	}
}

func TestPlaylistsCreateRejectsUnknownField(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.api.handlePlaylistsCreate(rr, authed("POST", "/api/v1/smart-playlists", map[string]any{
		"name":       "Bad",
		"match_mode": "all",
		"rules": []map[string]string{
			{"field": "mood", "operator": "equals", "value": "happy"},
		},
	}, "owner-a"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "mood") {
		t.Fatalf("error should name the offending field, got %s", rr.Body.String())
	}

	var count int64
	env.db.Model(&models.SmartPlaylist{}).Count(&count)
	if count != 0 {
		t.Fatal("rejected playlist was persisted")
	}
}

func TestPlaylistsTracksPaginates(t *testing.T) {
	env := newTestEnv(t)
	owner := "owner-a"
	for i := 0; i < 3; i++ {
		env.seedTrack(t, owner, func(tr *models.Track) {
			tr.Genre = "synthwave"
		})
	}
	env.seedTrack(t, owner, func(tr *models.Track) { tr.Genre = "jazz" })

	playlist := createPlaylist(t, env, owner, map[string]any{
		"name":       "Synthwave",
		"match_mode": "all",
		"rules": []map[string]string{
			{"field": "genre", "operator": "equals", "value": "synthwave"},
		},
	})

	rr := httptest.NewRecorder()
	req := withParam(authed("GET", "/api/v1/smart-playlists/"+playlist.ID+"/tracks?page=1&page_size=2", nil, owner), "playlistID", playlist.ID)
	env.api.handlePlaylistsTracks(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var page struct {
		TrackIDs   []string       `json:"track_ids"`
		Tracks     []models.Track `json:"tracks"`
		TotalCount int64          `json:"total_count"`
		HasMore    bool           `json:"has_more"`
	}
	decodeBody(t, rr, &page)
	if page.TotalCount != 3 || len(page.Tracks) != 2 || !page.HasMore {
		t.Fatalf("unexpected page: total=%d tracks=%d has_more=%v", page.TotalCount, len(page.Tracks), page.HasMore)
	}
	for _, track := range page.Tracks {
		if track.Genre != "synthwave" {
			t.Fatalf("rule leak: %s in results", track.Genre)
		}
	}
}

func TestPlaylistsReplaceRules(t *testing.T) {
	env := newTestEnv(t)
	owner := "owner-a"
	playlist := createPlaylist(t, env, owner, map[string]any{
		"name":       "Rotation",
		"match_mode": "all",
		"rules": []map[string]string{
			{"field": "genre", "operator": "equals", "value": "synthwave"},
		},
	})

	rr := httptest.NewRecorder()
	req := withParam(authed("PUT", "/api/v1/smart-playlists/"+playlist.ID+"/rules", map[string]any{
		"rules": []map[string]string{
			{"field": "play_count", "operator": "greater_than", "value": "10"},
			{"field": "is_favorite", "operator": "equals", "value": "true"},
		},
	}, owner), "playlistID", playlist.ID)
	env.api.handlePlaylistsReplaceRules(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var updated models.SmartPlaylist
	decodeBody(t, rr, &updated)
	if len(updated.Rules) != 2 || updated.Rules[0].Field != "play_count" {
		t.Fatalf("rules not replaced: %+v", updated.Rules)
	}

	// Invalid replacement leaves the stored rules untouched.
	rr = httptest.NewRecorder()
	req = withParam(authed("PUT", "/api/v1/smart-playlists/"+playlist.ID+"/rules", map[string]any{
		"rules": []map[string]string{
			{"field": "mood", "operator": "equals", "value": "happy"},
		},
	}, owner), "playlistID", playlist.ID)
	env.api.handlePlaylistsReplaceRules(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var ruleCount int64
	env.db.Model(&models.SmartPlaylistRule{}).Where("playlist_id = ?", playlist.ID).Count(&ruleCount)
	if ruleCount != 2 {
		t.Fatalf("stored rules changed after invalid replace: %d", ruleCount)
	}
}

func TestPlaylistsPreviewDoesNotPersist(t *testing.T) {
	env := newTestEnv(t)
	owner := "owner-a"
	env.seedTrack(t, owner, func(tr *models.Track) { tr.IsFavorite = true })
	env.seedTrack(t, owner, nil)

	rr := httptest.NewRecorder()
	env.api.handlePlaylistsPreview(rr, authed("POST", "/api/v1/smart-playlists/preview", map[string]any{
		"match_mode": "all",
		"rules": []map[string]string{
			{"field": "is_favorite", "operator": "equals", "value": "true"},
		},
	}, owner))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var page struct {
		TotalCount int64 `json:"total_count"`
	}
	decodeBody(t, rr, &page)
	if page.TotalCount != 1 {
		t.Fatalf("preview matched %d tracks, want 1", page.TotalCount)
	}

	var count int64
	env.db.Model(&models.SmartPlaylist{}).Count(&count)
	if count != 0 {
		t.Fatal("preview persisted a playlist")
	}
}

func TestPlaylistsUpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	owner := "owner-a"
	playlist := createPlaylist(t, env, owner, map[string]any{
		"name":       "Old Name",
		"match_mode": "all",
		"limit":      10,
	})

	rr := httptest.NewRecorder()
	req := withParam(authed("PATCH", "/api/v1/smart-playlists/"+playlist.ID, map[string]any{
		"name":        "New Name",
		"clear_limit": true,
	}, owner), "playlistID", playlist.ID)
	env.api.handlePlaylistsUpdate(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var updated models.SmartPlaylist
	decodeBody(t, rr, &updated)
	if updated.Name != "New Name" {
		t.Fatalf("name not updated: %q", updated.Name)
	}
	if updated.Limit != nil {
		t.Fatalf("limit not cleared: %v", *updated.Limit)
	}

	rr = httptest.NewRecorder()
	req = withParam(authed("DELETE", "/api/v1/smart-playlists/"+playlist.ID, nil, owner), "playlistID", playlist.ID)
	env.api.handlePlaylistsDelete(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = withParam(authed("GET", "/api/v1/smart-playlists/"+playlist.ID, nil, owner), "playlistID", playlist.ID)
	env.api.handlePlaylistsGet(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}
