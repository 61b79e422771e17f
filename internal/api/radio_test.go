package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aiulian25/soundwave/internal/models"
)

func TestRadioLifecycle(t *testing.T) {
	env := newTestEnv(t)
	owner := "owner-a"
	for i := 0; i < 3; i++ {
		env.seedTrack(t, owner, func(tr *models.Track) {
			tr.IsFavorite = true
		})
	}

	// Start a favorites session.
	rr := httptest.NewRecorder()
	env.api.handleRadioStart(rr, authed("POST", "/api/v1/radio/start", map[string]any{
		"mode": "favorites",
	}, owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var session models.RadioSession
	decodeBody(t, rr, &session)
	if session.Mode != models.RadioModeFavorites || !session.Active {
		t.Fatalf("unexpected session %+v", session)
	}

	// Advance twice.
	var next struct {
		Track         models.Track `json:"track"`
		QueuePosition int          `json:"queue_position"`
		TotalPlayed   int          `json:"total_played"`
		Mode          string       `json:"mode"`
		Reason        string       `json:"reason"`
	}
	rr = httptest.NewRecorder()
	env.api.handleRadioNext(rr, authed("POST", "/api/v1/radio/next", nil, owner))
	if rr.Code != http.StatusOK {
		t.Fatalf("next: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &next)
	if next.Track.ID == "" || next.QueuePosition != 1 || next.Mode != "favorites" {
		t.Fatalf("unexpected next result %+v", next)
	}
	firstTrack := next.Track.ID

	rr = httptest.NewRecorder()
	env.api.handleRadioNext(rr, authed("POST", "/api/v1/radio/next", nil, owner))
	if rr.Code != http.StatusOK {
		t.Fatalf("second next: expected 200, got %d", rr.Code)
	}
	decodeBody(t, rr, &next)
	if next.QueuePosition != 2 {
		t.Fatalf("queue position = %d, want 2", next.QueuePosition)
	}

	// Report a skip on the first track.
	rr = httptest.NewRecorder()
	env.api.handleRadioSkip(rr, authed("POST", "/api/v1/radio/skip", map[string]any{
		"track_id":                firstTrack,
		"listen_duration_seconds": 5.0,
		"track_duration_seconds":  200.0,
	}, owner))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("skip: expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Like the current track.
	rr = httptest.NewRecorder()
	env.api.handleRadioFeedback(rr, authed("POST", "/api/v1/radio/feedback", map[string]any{
		"track_id":                next.Track.ID,
		"feedback_type":           "like",
		"listen_duration_seconds": 120.0,
		"track_duration_seconds":  200.0,
	}, owner))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("feedback: expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Session endpoint reflects progress.
	rr = httptest.NewRecorder()
	env.api.handleRadioSession(rr, authed("GET", "/api/v1/radio/session", nil, owner))
	if rr.Code != http.StatusOK {
		t.Fatalf("session: expected 200, got %d", rr.Code)
	}
	decodeBody(t, rr, &session)
	if session.TotalPlayed != 2 {
		t.Fatalf("total played = %d, want 2", session.TotalPlayed)
	}

	// Stop ends the session.
	rr = httptest.NewRecorder()
	env.api.handleRadioStop(rr, authed("POST", "/api/v1/radio/stop", nil, owner))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("stop: expected 204, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.api.handleRadioSession(rr, authed("GET", "/api/v1/radio/session", nil, owner))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after stop, got %d", rr.Code)
	}
}

func TestRadioNextWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.api.handleRadioNext(rr, authed("POST", "/api/v1/radio/next", nil, "owner-a"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRadioNowPlaying(t *testing.T) {
	env := newTestEnv(t)
	owner := "owner-a"
	track := env.seedTrack(t, owner, func(tr *models.Track) {
		tr.Title = "Only Song"
		tr.IsFavorite = true
	})

	// No session yet.
	rr := httptest.NewRecorder()
	env.api.handleRadioNowPlaying(rr, authed("GET", "/api/v1/radio/now-playing", nil, owner))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("before start: expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.api.handleRadioStart(rr, authed("POST", "/api/v1/radio/start", map[string]any{
		"mode": "favorites",
	}, owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", rr.Code)
	}

	// Started but nothing advanced yet.
	rr = httptest.NewRecorder()
	env.api.handleRadioNowPlaying(rr, authed("GET", "/api/v1/radio/now-playing", nil, owner))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("before first next: expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.api.handleRadioNext(rr, authed("POST", "/api/v1/radio/next", nil, owner))
	if rr.Code != http.StatusOK {
		t.Fatalf("next: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	env.api.handleRadioNowPlaying(rr, authed("GET", "/api/v1/radio/now-playing", nil, owner))
	if rr.Code != http.StatusOK {
		t.Fatalf("now playing: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var entry struct {
		TrackID     string `json:"track_id"`
		Title       string `json:"title"`
		Mode        string `json:"mode"`
		TotalPlayed int    `json:"total_played"`
	}
	decodeBody(t, rr, &entry)
	if entry.TrackID != track.ID || entry.Title != "Only Song" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Mode != "favorites" || entry.TotalPlayed != 1 {
		t.Fatalf("unexpected session detail %+v", entry)
	}

	// Stopping clears the answer.
	rr = httptest.NewRecorder()
	env.api.handleRadioStop(rr, authed("POST", "/api/v1/radio/stop", nil, owner))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("stop: expected 204, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.api.handleRadioNowPlaying(rr, authed("GET", "/api/v1/radio/now-playing", nil, owner))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("after stop: expected 404, got %d", rr.Code)
	}
}

func TestRadioStartRejectsUnknownMode(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.api.handleRadioStart(rr, authed("POST", "/api/v1/radio/start", map[string]any{
		"mode": "quantum",
	}, "owner-a"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRadioFeedbackRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	owner := "owner-a"
	track := env.seedTrack(t, owner, func(tr *models.Track) { tr.IsFavorite = true })

	rr := httptest.NewRecorder()
	env.api.handleRadioStart(rr, authed("POST", "/api/v1/radio/start", map[string]any{
		"mode": "favorites",
	}, owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.api.handleRadioFeedback(rr, authed("POST", "/api/v1/radio/feedback", map[string]any{
		"track_id":      track.ID,
		"feedback_type": "meh",
	}, owner))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}
