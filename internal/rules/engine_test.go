/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aiulian25/soundwave/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Track{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, zerolog.Nop()), db
}

func seedTrack(t *testing.T, db *gorm.DB, track models.Track) models.Track {
	t.Helper()
	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	if track.OwnerID == "" {
		track.OwnerID = "owner-a"
	}
	if track.YoutubeID == "" {
		track.YoutubeID = track.ID
	}
	if track.Status == "" {
		track.Status = models.TrackReady
	}
	if track.AddedAt.IsZero() {
		track.AddedAt = time.Now()
	}
	if err := db.Create(&track).Error; err != nil {
		t.Fatalf("seed track: %v", err)
	}
	return track
}

func timePtr(ts time.Time) *time.Time {
	return &ts
}

func TestEvaluateEmptyRulesAllVsAny(t *testing.T) {
	engine, db := newTestEngine(t)
	for i := 0; i < 3; i++ {
		seedTrack(t, db, models.Track{Title: "Track"})
	}

	allIDs, err := engine.Evaluate(context.Background(), "owner-a", Definition{MatchMode: models.MatchAll})
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if len(allIDs) != 3 {
		t.Fatalf("ALL with no rules should return the full catalog, got %d tracks", len(allIDs))
	}

	anyIDs, err := engine.Evaluate(context.Background(), "owner-a", Definition{MatchMode: models.MatchAny})
	if err != nil {
		t.Fatalf("evaluate any: %v", err)
	}
	if len(anyIDs) != 0 {
		t.Fatalf("ANY with no rules should return nothing, got %d tracks", len(anyIDs))
	}
}

func TestEvaluateScopedToOwner(t *testing.T) {
	engine, db := newTestEngine(t)
	mine := seedTrack(t, db, models.Track{OwnerID: "owner-a", Title: "Shared Song"})
	seedTrack(t, db, models.Track{OwnerID: "owner-b", Title: "Shared Song"})

	ids, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules:     []Rule{{Field: "title", Operator: OpContains, Value: "shared"}},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(ids) != 1 || ids[0] != mine.ID {
		t.Fatalf("expected only the owner's track, got %v", ids)
	}
}

func TestCountWithRandomOrderAndLimit(t *testing.T) {
	engine, db := newTestEngine(t)
	for i := 0; i < 5; i++ {
		seedTrack(t, db, models.Track{Title: "Track"})
	}

	limit := 3
	def := Definition{MatchMode: models.MatchAll, OrderBy: models.OrderRandom, Limit: &limit}

	for i := 0; i < 4; i++ {
		count, err := engine.Count(context.Background(), "owner-a", def)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 3 {
			t.Fatalf("count with limit 3 over 5 matches = %d, want 3", count)
		}
	}

	bigLimit := 10
	def.Limit = &bigLimit
	count, err := engine.Count(context.Background(), "owner-a", def)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Fatalf("count with limit 10 over 5 matches = %d, want 5", count)
	}

	ids, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		MatchMode: models.MatchAll, OrderBy: models.OrderRandom, Limit: &limit, Seed: 7,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("evaluate with limit 3 returned %d ids", len(ids))
	}
}

func TestRandomOrderIsStablePerSeed(t *testing.T) {
	engine, db := newTestEngine(t)
	for i := 0; i < 10; i++ {
		seedTrack(t, db, models.Track{Title: "Track"})
	}

	def := Definition{MatchMode: models.MatchAll, OrderBy: models.OrderRandom, Seed: 99}
	first, err := engine.Evaluate(context.Background(), "owner-a", def)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), "owner-a", def)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if len(first) != 10 || len(second) != 10 {
		t.Fatalf("expected both evaluations to return 10 ids, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed produced different orders at position %d", i)
		}
	}
}

func TestValidateRejectsUnknownFieldAndOperator(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.Validate([]Rule{{Field: "__class__", Operator: OpEquals, Value: "x"}})
	var ruleErr *InvalidRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("unknown field should produce InvalidRuleError, got %v", err)
	}
	if ruleErr.Field != "__class__" {
		t.Fatalf("error should name the submitted field, got %q", ruleErr.Field)
	}

	err = engine.Validate([]Rule{{Field: "title", Operator: "'; DROP TABLE tracks; --", Value: "x"}})
	if !errors.As(err, &ruleErr) {
		t.Fatalf("unknown operator should produce InvalidRuleError, got %v", err)
	}
}

func TestValidateRejectsUnparsableValues(t *testing.T) {
	engine, _ := newTestEngine(t)

	tests := []struct {
		name string
		rule Rule
	}{
		{"numeric garbage", Rule{Field: "year", Operator: OpGreaterThan, Value: "abc"}},
		{"between missing second bound", Rule{Field: "year", Operator: OpBetween, Value: "2000", Value2: ""}},
		{"negative day window", Rule{Field: "last_played", Operator: OpInLastDays, Value: "-5"}},
		{"date garbage", Rule{Field: "added_at", Operator: OpBeforeDate, Value: "notadate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Validate([]Rule{tt.rule})
			var valueErr *InvalidRuleValueError
			if !errors.As(err, &valueErr) {
				t.Fatalf("expected InvalidRuleValueError, got %v", err)
			}
			if valueErr.Field != tt.rule.Field {
				t.Fatalf("error names field %q, want %q", valueErr.Field, tt.rule.Field)
			}
		})
	}
}

func TestTextOperators(t *testing.T) {
	engine, db := newTestEngine(t)
	seedTrack(t, db, models.Track{Title: "Midnight City", Artist: "M83"})
	seedTrack(t, db, models.Track{Title: "City of Stars", Artist: "Ryan Gosling"})
	seedTrack(t, db, models.Track{Title: "Nightcall", Artist: "Kavinsky"})

	tests := []struct {
		name     string
		rule     Rule
		expected int
	}{
		{"contains", Rule{Field: "title", Operator: OpContains, Value: "CITY"}, 2},
		{"not contains", Rule{Field: "title", Operator: OpNotContains, Value: "city"}, 1},
		{"equals case-insensitive", Rule{Field: "title", Operator: OpEquals, Value: "nightcall"}, 1},
		{"not equals", Rule{Field: "title", Operator: OpNotEquals, Value: "Nightcall"}, 2},
		{"starts with", Rule{Field: "title", Operator: OpStartsWith, Value: "night"}, 1},
		{"ends with", Rule{Field: "title", Operator: OpEndsWith, Value: "stars"}, 1},
		{"artist equals", Rule{Field: "artist", Operator: OpEquals, Value: "m83"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := engine.Evaluate(context.Background(), "owner-a", Definition{
				Rules: []Rule{tt.rule}, MatchMode: models.MatchAll,
			})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if len(ids) != tt.expected {
				t.Fatalf("matched %d tracks, want %d", len(ids), tt.expected)
			}
		})
	}
}

func TestNumericOperators(t *testing.T) {
	engine, db := newTestEngine(t)
	for _, year := range []int{1999, 2000, 2005, 2010, 2011} {
		seedTrack(t, db, models.Track{Title: "Track", Year: year})
	}

	tests := []struct {
		name     string
		rule     Rule
		expected int
	}{
		{"greater than", Rule{Field: "year", Operator: OpGreaterThan, Value: "2005"}, 2},
		{"less than", Rule{Field: "year", Operator: OpLessThan, Value: "2005"}, 2},
		{"greater equal", Rule{Field: "year", Operator: OpGreaterEqual, Value: "2005"}, 3},
		{"less equal", Rule{Field: "year", Operator: OpLessEqual, Value: "2005"}, 3},
		{"between is inclusive", Rule{Field: "year", Operator: OpBetween, Value: "2000", Value2: "2010"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := engine.Evaluate(context.Background(), "owner-a", Definition{
				Rules: []Rule{tt.rule}, MatchMode: models.MatchAll,
			})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if len(ids) != tt.expected {
				t.Fatalf("matched %d tracks, want %d", len(ids), tt.expected)
			}
		})
	}
}

func TestDateOperators(t *testing.T) {
	engine, db := newTestEngine(t)
	now := time.Now()
	recent := seedTrack(t, db, models.Track{Title: "Recent", LastPlayedAt: timePtr(now.AddDate(0, 0, -2))})
	stale := seedTrack(t, db, models.Track{Title: "Stale", LastPlayedAt: timePtr(now.AddDate(0, 0, -30))})
	never := seedTrack(t, db, models.Track{Title: "Never"})

	inLast, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules:     []Rule{{Field: "last_played", Operator: OpInLastDays, Value: "7"}},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(inLast) != 1 || inLast[0] != recent.ID {
		t.Fatalf("in_last_days 7 should match only the recent track, got %v", inLast)
	}

	notInLast, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules:     []Rule{{Field: "last_played", Operator: OpNotInLastDays, Value: "7"}},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(notInLast) != 2 {
		t.Fatalf("not_in_last_days 7 should match the stale and never-played tracks, got %v", notInLast)
	}
	got := map[string]bool{}
	for _, id := range notInLast {
		got[id] = true
	}
	if !got[stale.ID] || !got[never.ID] {
		t.Fatalf("not_in_last_days 7 should include the stale and never-played tracks, got %v", notInLast)
	}
}

func TestDateAbsoluteOperators(t *testing.T) {
	engine, db := newTestEngine(t)
	old := seedTrack(t, db, models.Track{Title: "Old", AddedAt: time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)})
	newer := seedTrack(t, db, models.Track{Title: "New", AddedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})

	before, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules:     []Rule{{Field: "added_at", Operator: OpBeforeDate, Value: "2020-01-01"}},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(before) != 1 || before[0] != old.ID {
		t.Fatalf("before_date should match only the old track, got %v", before)
	}

	after, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules:     []Rule{{Field: "added_at", Operator: OpAfterDate, Value: "2020-01-01"}},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(after) != 1 || after[0] != newer.ID {
		t.Fatalf("after_date should match only the newer track, got %v", after)
	}
}

func TestNullnessOperators(t *testing.T) {
	engine, db := newTestEngine(t)
	played := seedTrack(t, db, models.Track{Title: "Played", Artist: "Someone", LastPlayedAt: timePtr(time.Now())})
	unplayed := seedTrack(t, db, models.Track{Title: "Unplayed", Artist: ""})

	isSet, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules:     []Rule{{Field: "last_played", Operator: OpIsSet}},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(isSet) != 1 || isSet[0] != played.ID {
		t.Fatalf("is_set on last_played should match only the played track, got %v", isSet)
	}

	noArtist, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules:     []Rule{{Field: "artist", Operator: OpIsNotSet}},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(noArtist) != 1 || noArtist[0] != unplayed.ID {
		t.Fatalf("is_not_set on artist should match only the empty-artist track, got %v", noArtist)
	}
}

func TestFavoriteRuleOverUnfavoritedCatalog(t *testing.T) {
	engine, db := newTestEngine(t)
	seedTrack(t, db, models.Track{Title: "A", ChannelID: "chan-x"})
	seedTrack(t, db, models.Track{Title: "B", ChannelID: "chan-x"})
	seedTrack(t, db, models.Track{Title: "C", ChannelID: "chan-y"})

	def := Definition{
		Rules:     []Rule{{Field: "is_favorite", Operator: OpIsTrue}},
		MatchMode: models.MatchAll,
	}

	ids, err := engine.Evaluate(context.Background(), "owner-a", def)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("is_true over an unfavorited catalog should be empty, got %v", ids)
	}

	count, err := engine.Count(context.Background(), "owner-a", def)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestAnyModeCombinesWithOr(t *testing.T) {
	engine, db := newTestEngine(t)
	seedTrack(t, db, models.Track{Title: "Jazz Standard", Genre: "jazz"})
	seedTrack(t, db, models.Track{Title: "Rock Anthem", Genre: "rock"})
	seedTrack(t, db, models.Track{Title: "Ambient Drone", Genre: "ambient"})

	ids, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules: []Rule{
			{Field: "genre", Operator: OpEquals, Value: "jazz"},
			{Field: "genre", Operator: OpEquals, Value: "rock"},
		},
		MatchMode: models.MatchAny,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ANY over jazz|rock should match 2 tracks, got %d", len(ids))
	}
}

func TestAllModeCombinesWithAnd(t *testing.T) {
	engine, db := newTestEngine(t)
	seedTrack(t, db, models.Track{Title: "Live in Tokyo", Genre: "jazz", Year: 1975})
	seedTrack(t, db, models.Track{Title: "Studio Session", Genre: "jazz", Year: 1999})
	seedTrack(t, db, models.Track{Title: "Live at Home", Genre: "rock", Year: 1975})

	ids, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules: []Rule{
			{Field: "genre", Operator: OpEquals, Value: "jazz"},
			{Field: "year", Operator: OpLessThan, Value: "1980"},
		},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ALL over jazz+pre-1980 should match 1 track, got %d", len(ids))
	}
}

func TestEvaluateSkipsUnparsableRuleAtReadTime(t *testing.T) {
	engine, db := newTestEngine(t)
	for i := 0; i < 2; i++ {
		seedTrack(t, db, models.Track{Title: "Track"})
	}

	// A stored rule whose value rotted is skipped on reads, not fatal.
	ids, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		Rules:     []Rule{{Field: "year", Operator: OpGreaterThan, Value: "corrupted"}},
		MatchMode: models.MatchAll,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("unparsable rule should be skipped under ALL, got %d tracks", len(ids))
	}
}

func TestEvaluateExcludesPendingTracks(t *testing.T) {
	engine, db := newTestEngine(t)
	ready := seedTrack(t, db, models.Track{Title: "Ready"})
	seedTrack(t, db, models.Track{Title: "Pending", Status: models.TrackPending})

	ids, err := engine.Evaluate(context.Background(), "owner-a", Definition{MatchMode: models.MatchAll})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(ids) != 1 || ids[0] != ready.ID {
		t.Fatalf("only ready tracks should surface, got %v", ids)
	}
}

func TestOrderingByField(t *testing.T) {
	engine, db := newTestEngine(t)
	oldest := seedTrack(t, db, models.Track{Title: "Oldest", Year: 1970})
	seedTrack(t, db, models.Track{Title: "Middle", Year: 1990})
	newest := seedTrack(t, db, models.Track{Title: "Newest", Year: 2020})

	asc, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		MatchMode: models.MatchAll, OrderBy: "year", OrderDirection: DirectionAsc,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(asc) != 3 || asc[0] != oldest.ID || asc[2] != newest.ID {
		t.Fatalf("ascending year order wrong: %v", asc)
	}

	desc, err := engine.Evaluate(context.Background(), "owner-a", Definition{
		MatchMode: models.MatchAll, OrderBy: "year", OrderDirection: DirectionDesc,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(desc) != 3 || desc[0] != newest.ID || desc[2] != oldest.ID {
		t.Fatalf("descending year order wrong: %v", desc)
	}
}

func TestValidateOrdering(t *testing.T) {
	engine, _ := newTestEngine(t)

	if err := engine.ValidateOrdering("year", DirectionDesc); err != nil {
		t.Fatalf("year desc should be valid: %v", err)
	}
	if err := engine.ValidateOrdering(models.OrderRandom, ""); err != nil {
		t.Fatalf("random should be valid: %v", err)
	}
	if err := engine.ValidateOrdering("storage_path", DirectionAsc); err == nil {
		t.Fatal("non-whitelisted order field should be rejected")
	}
	if err := engine.ValidateOrdering("year", "sideways"); err == nil {
		t.Fatal("unknown direction should be rejected")
	}
}
