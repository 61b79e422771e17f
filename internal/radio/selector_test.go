/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package radio

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/aiulian25/soundwave/internal/models"
)

func fixedRng() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestTitleKeywords(t *testing.T) {
	tests := []struct {
		title string
		want  []string
	}{
		{"Midnight City (Official Video)", []string{"midnight", "city"}},
		{"M83 - Midnight City [HD]", []string{"m83", "midnight", "city"}},
		{"Nightcall feat. Lovefoxxx", []string{"nightcall", "lovefoxxx"}},
		{"a of to", nil},
		{"", nil},
		{"Sonne (Offizielles Musikvideo)", []string{"sonne", "offizielles", "musikvideo"}},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got := titleKeywords(tt.title)
			for _, w := range tt.want {
				if _, ok := got[w]; !ok {
					t.Errorf("titleKeywords(%q) missing %q (got %v)", tt.title, w, got)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("titleKeywords(%q) has %d keywords, want %d", tt.title, len(got), len(tt.want))
			}
		})
	}
}

func TestKeywordOverlap(t *testing.T) {
	seed := titleKeywords("Midnight City (Official Video)")
	if got := keywordOverlap(seed, "City of Stars"); got != 1 {
		t.Errorf("overlap with shared keyword = %d, want 1", got)
	}
	if got := keywordOverlap(seed, "Totally Unrelated Song"); got != 0 {
		t.Errorf("overlap with unrelated title = %d, want 0", got)
	}
	if got := keywordOverlap(seed, "Midnight City Remix"); got != 2 {
		t.Errorf("overlap with two shared keywords = %d, want 2", got)
	}
}

func TestExclusionSetWindows(t *testing.T) {
	session := &models.RadioSession{
		SeedTrackID:    "seed",
		CurrentTrackID: "current",
	}
	for i := 0; i < 30; i++ {
		session.PlayedTrackIDs = session.PlayedTrackIDs.PushBounded(fmt.Sprintf("p%d", i), models.MaxPlayedHistory)
	}
	for i := 0; i < 15; i++ {
		session.SkippedTrackIDs = session.SkippedTrackIDs.PushBounded(fmt.Sprintf("s%d", i), models.MaxSkippedHistory)
	}

	excluded := exclusionSet(session)

	if _, ok := excluded["seed"]; !ok {
		t.Error("seed track not excluded")
	}
	if _, ok := excluded["current"]; !ok {
		t.Error("current track not excluded")
	}
	if _, ok := excluded["p29"]; !ok {
		t.Error("most recent play not excluded")
	}
	if _, ok := excluded["p10"]; !ok {
		t.Error("play inside the 20-window not excluded")
	}
	if _, ok := excluded["p9"]; ok {
		t.Error("play outside the 20-window should not be excluded")
	}
	if _, ok := excluded["s14"]; !ok {
		t.Error("most recent skip not excluded")
	}
	if _, ok := excluded["s4"]; ok {
		t.Error("skip outside the 10-window should not be excluded")
	}
}

func TestFilterExcluded(t *testing.T) {
	tracks := []models.Track{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	kept := filterExcluded(tracks, map[string]struct{}{"b": {}})
	if len(kept) != 2 || kept[0].ID != "a" || kept[1].ID != "c" {
		t.Errorf("filterExcluded = %v, want [a c]", kept)
	}
}

func TestDropDisliked(t *testing.T) {
	tracks := []models.Track{
		{ID: "a", ChannelID: "bad"},
		{ID: "b", ChannelID: "good"},
		{ID: "c", ChannelID: "bad"},
	}
	disliked := models.StringList{"bad"}

	if got := dropDisliked(fixedRng(), tracks, disliked, 0); len(got) != 3 {
		t.Errorf("probability 0 dropped tracks: %v", got)
	}
	got := dropDisliked(fixedRng(), tracks, disliked, 1)
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("probability 1 = %v, want only the good-channel track", got)
	}
	if got := dropDisliked(fixedRng(), tracks, nil, 1); len(got) != 3 {
		t.Errorf("no disliked channels should keep everything, got %v", got)
	}
}

func TestDrawWeighted(t *testing.T) {
	if _, ok := drawWeighted(fixedRng(), nil, nil); ok {
		t.Fatal("empty candidate list should not produce a draw")
	}

	only := []Candidate{{Track: models.Track{ID: "solo"}, Reason: "r"}}
	got, ok := drawWeighted(fixedRng(), only, nil)
	if !ok || got.Track.ID != "solo" {
		t.Fatalf("single candidate draw = %v ok=%v", got, ok)
	}

	// A favorite from a liked channel carries weight 3 against weight 1.
	// Over many seeded draws it must win the majority.
	candidates := []Candidate{
		{Track: models.Track{ID: "heavy", ChannelID: "liked", IsFavorite: true}},
		{Track: models.Track{ID: "light", ChannelID: "other"}},
	}
	liked := models.StringList{"liked"}
	rng := fixedRng()
	heavyWins := 0
	for i := 0; i < 1000; i++ {
		pick, _ := drawWeighted(rng, candidates, liked)
		if pick.Track.ID == "heavy" {
			heavyWins++
		}
	}
	if heavyWins < 600 {
		t.Errorf("weight-3 candidate won %d of 1000 draws, expected a clear majority", heavyWins)
	}
}

func TestTrackModeCandidates(t *testing.T) {
	session := &models.RadioSession{
		Mode:          models.RadioModeTrack,
		SeedChannelID: "chan-seed",
		SeedTitle:     "Midnight City",
		LikedChannels: models.StringList{"chan-liked"},
	}
	pool := []models.Track{
		{ID: "same-channel", ChannelID: "chan-seed", ChannelName: "M83"},
		{ID: "similar-title", ChannelID: "chan-x", Title: "City of Stars"},
		{ID: "same-length", ChannelID: "chan-y", DurationSeconds: 230},
		{ID: "liked-channel", ChannelID: "chan-liked"},
		{ID: "unrelated", ChannelID: "chan-z", Title: "Polka Hour", DurationSeconds: 1200},
	}

	candidates := generateCandidates(fixedRng(), session, 200, pool)

	reasons := make(map[string][]string)
	for _, c := range candidates {
		reasons[c.Track.ID] = append(reasons[c.Track.ID], c.Reason)
	}

	if !reflect.DeepEqual(reasons["same-channel"], []string{"More from M83"}) {
		t.Errorf("same-channel reasons = %v", reasons["same-channel"])
	}
	if !reflect.DeepEqual(reasons["similar-title"], []string{"Similar to Midnight City"}) {
		t.Errorf("similar-title reasons = %v", reasons["similar-title"])
	}
	if !reflect.DeepEqual(reasons["same-length"], []string{"About the same length as Midnight City"}) {
		t.Errorf("same-length reasons = %v", reasons["same-length"])
	}
	if !reflect.DeepEqual(reasons["liked-channel"], []string{"From a channel you like"}) {
		t.Errorf("liked-channel reasons = %v", reasons["liked-channel"])
	}
	// Variety 0: no wildcard admissions.
	if len(reasons["unrelated"]) != 0 {
		t.Errorf("unrelated track admitted at variety 0: %v", reasons["unrelated"])
	}
}

func TestArtistModeCandidates(t *testing.T) {
	session := &models.RadioSession{
		Mode:          models.RadioModeArtist,
		SeedChannelID: "chan-seed",
		SeedTitle:     "Midnight City",
	}
	pool := []models.Track{
		{ID: "from-channel", ChannelID: "chan-seed", ChannelName: "M83", Title: "Wait"},
		{ID: "similar", ChannelID: "chan-x", Title: "City Lights"},
		{ID: "unrelated", ChannelID: "chan-y", Title: "Polka Hour"},
	}

	atZero := generateCandidates(fixedRng(), session, 0, pool)
	for _, c := range atZero {
		if c.Track.ID != "from-channel" {
			t.Errorf("variety 0 admitted %q (%s)", c.Track.ID, c.Reason)
		}
	}
	if len(atZero) != 1 {
		t.Fatalf("variety 0 candidates = %d, want 1", len(atZero))
	}

	session.VarietyLevel = 100
	atFull := generateCandidates(fixedRng(), session, 0, pool)
	ids := make(map[string]bool)
	for _, c := range atFull {
		ids[c.Track.ID] = true
	}
	if !ids["from-channel"] || !ids["similar"] {
		t.Errorf("variety 100 candidates = %v, want seed channel plus similar title", ids)
	}
	if ids["unrelated"] {
		t.Error("unrelated title admitted in artist mode")
	}
}

func TestFavoritesModeCandidates(t *testing.T) {
	session := &models.RadioSession{Mode: models.RadioModeFavorites}
	pool := []models.Track{
		{ID: "fav", IsFavorite: true},
		{ID: "plain"},
	}
	candidates := generateCandidates(fixedRng(), session, 0, pool)
	if len(candidates) != 1 || candidates[0].Track.ID != "fav" {
		t.Errorf("favorites mode at variety 0 = %v, want only the favorite", candidates)
	}
}

func TestDiscoveryModeCandidates(t *testing.T) {
	session := &models.RadioSession{Mode: models.RadioModeDiscovery}
	pool := []models.Track{
		{ID: "never", PlayCount: 0},
		{ID: "rare", PlayCount: 2},
		{ID: "worn", PlayCount: 50},
	}

	counts := make(map[string]int)
	for _, c := range generateCandidates(fixedRng(), session, 0, pool) {
		counts[c.Track.ID]++
	}

	if counts["never"] != 3 {
		t.Errorf("never-played occurrences = %d, want 3", counts["never"])
	}
	if counts["rare"] != 2 {
		t.Errorf("rarely-played occurrences = %d, want 2", counts["rare"])
	}
	if counts["worn"] != 0 {
		t.Errorf("worn non-favorite occurrences = %d, want 0", counts["worn"])
	}
}

func TestRecentModeCandidates(t *testing.T) {
	session := &models.RadioSession{Mode: models.RadioModeRecent}
	now := time.Now()
	pool := make([]models.Track, 0, 30)
	for i := 0; i < 30; i++ {
		pool = append(pool, models.Track{
			ID:      fmt.Sprintf("t%d", i),
			AddedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}

	candidates := generateCandidates(fixedRng(), session, 0, pool)
	if len(candidates) != recentlyAddedWindow {
		t.Fatalf("recent mode candidates = %d, want %d", len(candidates), recentlyAddedWindow)
	}
	for _, c := range candidates {
		if c.Reason != "Recently added to your library" {
			t.Errorf("unexpected reason %q", c.Reason)
		}
	}
	ids := make(map[string]bool)
	for _, c := range candidates {
		ids[c.Track.ID] = true
	}
	if !ids["t0"] || ids["t29"] {
		t.Error("recent window should hold the newest tracks and drop the oldest")
	}
}

func TestWithinDuration(t *testing.T) {
	tests := []struct {
		duration int
		seed     int
		want     bool
	}{
		{200, 200, true},
		{260, 200, true},
		{261, 200, false},
		{140, 200, true},
		{139, 200, false},
		{0, 200, false},
	}
	for _, tt := range tests {
		if got := withinDuration(tt.duration, tt.seed); got != tt.want {
			t.Errorf("withinDuration(%d, %d) = %v, want %v", tt.duration, tt.seed, got, tt.want)
		}
	}
}
