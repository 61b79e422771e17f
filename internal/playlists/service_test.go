/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlists

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aiulian25/soundwave/internal/cache"
	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/rules"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestPlaylistService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Track{}, &models.SmartPlaylist{}, &models.SmartPlaylistRule{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	engine := rules.New(db, zerolog.Nop())
	svc := New(db, engine, cache.Disabled(zerolog.Nop()), events.NewBus(), zerolog.Nop())
	return svc, db
}

func seedLibraryTrack(t *testing.T, db *gorm.DB, mutate func(*models.Track)) models.Track {
	t.Helper()
	track := models.Track{
		ID:              uuid.NewString(),
		OwnerID:         "owner-a",
		Title:           "Track",
		DurationSeconds: 200,
		Status:          models.TrackReady,
		AddedAt:         time.Now(),
	}
	track.YoutubeID = track.ID
	if mutate != nil {
		mutate(&track)
	}
	if err := db.Create(&track).Error; err != nil {
		t.Fatalf("seed track: %v", err)
	}
	return track
}

func TestCreateValidatesBeforeAnyWrite(t *testing.T) {
	svc, db := newTestPlaylistService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
		want any
	}{
		{
			name: "unknown field",
			req: CreateRequest{
				Name: "Bad", MatchMode: models.MatchAll,
				Rules: []rules.Rule{{Field: "volume", Operator: "greater_than", Value: "5"}},
			},
			want: &rules.InvalidRuleError{},
		},
		{
			name: "unparsable value",
			req: CreateRequest{
				Name: "Bad", MatchMode: models.MatchAll,
				Rules: []rules.Rule{{Field: "year", Operator: "greater_than", Value: "soon"}},
			},
			want: &rules.InvalidRuleValueError{},
		},
		{
			name: "bad match mode",
			req:  CreateRequest{Name: "Bad", MatchMode: "some"},
			want: &rules.InvalidRuleValueError{},
		},
		{
			name: "bad ordering",
			req:  CreateRequest{Name: "Bad", MatchMode: models.MatchAll, OrderBy: "cleverness"},
			want: &rules.InvalidRuleError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "owner-a", tt.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			switch want := tt.want.(type) {
			case *rules.InvalidRuleError:
				if !errors.As(err, &want) {
					t.Errorf("err = %v, want InvalidRuleError", err)
				}
			case *rules.InvalidRuleValueError:
				if !errors.As(err, &want) {
					t.Errorf("err = %v, want InvalidRuleValueError", err)
				}
			}
		})
	}

	var playlistRows, ruleRows int64
	db.Model(&models.SmartPlaylist{}).Count(&playlistRows)
	db.Model(&models.SmartPlaylistRule{}).Count(&ruleRows)
	if playlistRows != 0 || ruleRows != 0 {
		t.Errorf("rejected creates persisted rows: playlists=%d rules=%d", playlistRows, ruleRows)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	svc, _ := newTestPlaylistService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "owner-a", CreateRequest{Name: "Chill", MatchMode: models.MatchAll}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, "owner-a", CreateRequest{Name: "Chill", MatchMode: models.MatchAny}); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
	// Same name under another owner is fine.
	if _, err := svc.Create(ctx, "owner-b", CreateRequest{Name: "Chill", MatchMode: models.MatchAll}); err != nil {
		t.Fatalf("create for other owner: %v", err)
	}
}

func TestReplaceRulesIsAtomic(t *testing.T) {
	svc, _ := newTestPlaylistService(t)
	ctx := context.Background()

	playlist, err := svc.Create(ctx, "owner-a", CreateRequest{
		Name: "Keep", MatchMode: models.MatchAll,
		Rules: []rules.Rule{{Field: "genre", Operator: "equals", Value: "ambient"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.ReplaceRules(ctx, "owner-a", playlist.ID, []rules.Rule{
		{Field: "year", Operator: "greater_than", Value: "2000"},
		{Field: "year", Operator: "between", Value: "2000"}, // missing value_2
	})
	var valueErr *rules.InvalidRuleValueError
	if !errors.As(err, &valueErr) {
		t.Fatalf("err = %v, want InvalidRuleValueError", err)
	}

	got, err := svc.Get(ctx, "owner-a", playlist.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Rules) != 1 || got.Rules[0].Field != "genre" {
		t.Errorf("failed replace altered stored rules: %+v", got.Rules)
	}

	replaced, err := svc.ReplaceRules(ctx, "owner-a", playlist.ID, []rules.Rule{
		{Field: "year", Operator: "between", Value: "2000", Value2: "2010"},
		{Field: "is_favorite", Operator: "is_true"},
	})
	if err != nil {
		t.Fatalf("valid replace: %v", err)
	}
	if len(replaced.Rules) != 2 || replaced.Rules[0].Position != 0 || replaced.Rules[1].Position != 1 {
		t.Errorf("replaced rules = %+v", replaced.Rules)
	}
}

func TestSystemPlaylistsAreImmutable(t *testing.T) {
	svc, _ := newTestPlaylistService(t)
	ctx := context.Background()

	if err := svc.EnsureSystemPlaylists(ctx, "owner-a"); err != nil {
		t.Fatalf("ensure presets: %v", err)
	}
	all, err := svc.List(ctx, "owner-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var system *models.SmartPlaylist
	for i := range all {
		if all[i].IsSystem {
			system = &all[i]
			break
		}
	}
	if system == nil {
		t.Fatal("no system playlist seeded")
	}

	if _, err := svc.ReplaceRules(ctx, "owner-a", system.ID, nil); !errors.Is(err, ErrSystemPlaylistImmutable) {
		t.Errorf("replace rules: err = %v, want ErrSystemPlaylistImmutable", err)
	}
	if err := svc.Delete(ctx, "owner-a", system.ID); !errors.Is(err, ErrSystemPlaylistImmutable) {
		t.Errorf("delete: err = %v, want ErrSystemPlaylistImmutable", err)
	}
	name := "Renamed"
	if _, err := svc.Update(ctx, "owner-a", system.ID, UpdateRequest{Name: &name}); !errors.Is(err, ErrSystemPlaylistImmutable) {
		t.Errorf("rename: err = %v, want ErrSystemPlaylistImmutable", err)
	}

	// Ordering and limit stay adjustable on system playlists.
	limit := 10
	direction := "asc"
	updated, err := svc.Update(ctx, "owner-a", system.ID, UpdateRequest{
		OrderDirection: &direction, Limit: &limit,
	})
	if err != nil {
		t.Fatalf("order/limit update on system playlist: %v", err)
	}
	if updated.Limit == nil || *updated.Limit != 10 || updated.OrderDirection != "asc" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestEnsureSystemPlaylistsIsIdempotent(t *testing.T) {
	svc, db := newTestPlaylistService(t)
	ctx := context.Background()

	if err := svc.EnsureSystemPlaylists(ctx, "owner-a"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	var first int64
	db.Model(&models.SmartPlaylist{}).Where("owner_id = ? AND is_system = ?", "owner-a", true).Count(&first)
	if first == 0 {
		t.Fatal("no presets seeded")
	}

	if err := svc.EnsureSystemPlaylists(ctx, "owner-a"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	var second int64
	db.Model(&models.SmartPlaylist{}).Where("owner_id = ? AND is_system = ?", "owner-a", true).Count(&second)
	if second != first {
		t.Errorf("second ensure changed preset count from %d to %d", first, second)
	}

	// Every preset must carry a valid rule set.
	playlists, _ := svc.List(ctx, "owner-a")
	for _, p := range playlists {
		if !p.IsSystem {
			continue
		}
		if len(p.Rules) == 0 {
			t.Errorf("preset %q has no rules", p.Name)
		}
	}
}

func TestEvaluatePaginates(t *testing.T) {
	svc, db := newTestPlaylistService(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 25; i++ {
		seedLibraryTrack(t, db, func(tr *models.Track) {
			tr.Title = fmt.Sprintf("Track %02d", i)
			tr.AddedAt = base.Add(time.Duration(i) * time.Minute)
		})
	}

	playlist, err := svc.Create(ctx, "owner-a", CreateRequest{
		Name: "Everything", MatchMode: models.MatchAll,
		OrderBy: "added_at", OrderDirection: "asc",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var seen []string
	for page := 1; page <= 3; page++ {
		result, err := svc.Evaluate(ctx, "owner-a", playlist.ID, page, 10, true)
		if err != nil {
			t.Fatalf("evaluate page %d: %v", page, err)
		}
		if result.TotalCount != 25 {
			t.Errorf("page %d total = %d, want 25", page, result.TotalCount)
		}
		wantLen := 10
		wantMore := true
		if page == 3 {
			wantLen, wantMore = 5, false
		}
		if len(result.TrackIDs) != wantLen || result.HasMore != wantMore {
			t.Errorf("page %d: len=%d hasMore=%v, want len=%d hasMore=%v",
				page, len(result.TrackIDs), result.HasMore, wantLen, wantMore)
		}
		if len(result.Tracks) != len(result.TrackIDs) {
			t.Errorf("page %d: %d tracks for %d ids", page, len(result.Tracks), len(result.TrackIDs))
		}
		for i, track := range result.Tracks {
			if track.ID != result.TrackIDs[i] {
				t.Errorf("page %d: track order diverges from id order at %d", page, i)
			}
		}
		seen = append(seen, result.TrackIDs...)
	}

	distinct := make(map[string]bool)
	for _, id := range seen {
		distinct[id] = true
	}
	if len(distinct) != 25 {
		t.Errorf("pages covered %d distinct tracks, want 25", len(distinct))
	}

	// added_at ascending: first page starts with the oldest title.
	first, _ := svc.Evaluate(ctx, "owner-a", playlist.ID, 1, 1, true)
	if len(first.Tracks) == 0 || first.Tracks[0].Title != "Track 00" {
		t.Errorf("ascending order broken: %+v", first.Tracks)
	}
}

func TestEvaluateRandomKeepsCountStable(t *testing.T) {
	svc, db := newTestPlaylistService(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		seedLibraryTrack(t, db, nil)
	}

	limit := 12
	playlist, err := svc.Create(ctx, "owner-a", CreateRequest{
		Name: "Shuffle", MatchMode: models.MatchAll,
		OrderBy: models.OrderRandom, Limit: &limit,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 4; i++ {
		result, err := svc.Evaluate(ctx, "owner-a", playlist.ID, 1, 50, false)
		if err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		if result.TotalCount != 12 || len(result.TrackIDs) != 12 {
			t.Errorf("evaluation %d: total=%d len=%d, want 12/12", i, result.TotalCount, len(result.TrackIDs))
		}
	}

	count, err := svc.TrackCount(ctx, "owner-a", playlist.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 12 {
		t.Errorf("count = %d, want min(limit, matches) = 12", count)
	}
}

func TestShuffleSeedStableWithinWindow(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 0, 10, 0, time.UTC)
	if shuffleSeed("p1", at) != shuffleSeed("p1", at.Add(30*time.Second)) {
		t.Error("seed changed inside one window")
	}
	if shuffleSeed("p1", at) == shuffleSeed("p1", at.Add(randomOrderWindow+time.Minute)) {
		t.Error("seed did not roll over to the next window")
	}
	if shuffleSeed("p1", at) == shuffleSeed("p2", at) {
		t.Error("different playlists share a seed")
	}
}

func TestPreviewValidatesStrictlyAndPersistsNothing(t *testing.T) {
	svc, db := newTestPlaylistService(t)
	ctx := context.Background()

	seedLibraryTrack(t, db, func(tr *models.Track) { tr.Genre = "ambient" })
	seedLibraryTrack(t, db, func(tr *models.Track) { tr.Genre = "metal" })

	_, err := svc.Preview(ctx, "owner-a", PreviewRequest{
		MatchMode: models.MatchAll,
		Rules:     []rules.Rule{{Field: "genre", Operator: "sounds_like", Value: "ambient"}},
	}, 1, 50)
	var ruleErr *rules.InvalidRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("err = %v, want InvalidRuleError", err)
	}

	result, err := svc.Preview(ctx, "owner-a", PreviewRequest{
		MatchMode: models.MatchAll,
		Rules:     []rules.Rule{{Field: "genre", Operator: "equals", Value: "ambient"}},
	}, 1, 50)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if result.TotalCount != 1 || len(result.Tracks) != 1 || result.Tracks[0].Genre != "ambient" {
		t.Errorf("preview result = %+v", result)
	}

	var persisted int64
	db.Model(&models.SmartPlaylist{}).Count(&persisted)
	if persisted != 0 {
		t.Errorf("preview persisted %d playlists", persisted)
	}
}

func TestTrackCountServesFreshHintOnly(t *testing.T) {
	svc, db := newTestPlaylistService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedLibraryTrack(t, db, nil)
	}
	playlist, err := svc.Create(ctx, "owner-a", CreateRequest{Name: "All", MatchMode: models.MatchAll})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A fresh hint is served without re-counting.
	fresh := time.Now()
	wrong := int64(99)
	db.Model(&models.SmartPlaylist{}).Where("id = ?", playlist.ID).
		Updates(map[string]any{"cached_track_count": wrong, "count_refreshed_at": fresh})
	count, err := svc.TrackCount(ctx, "owner-a", playlist.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 99 {
		t.Errorf("fresh hint ignored: count = %d, want 99", count)
	}

	// A stale hint forces a real count and a write-through refresh.
	stale := time.Now().Add(-10 * time.Minute)
	db.Model(&models.SmartPlaylist{}).Where("id = ?", playlist.ID).
		Update("count_refreshed_at", stale)
	count, err = svc.TrackCount(ctx, "owner-a", playlist.ID)
	if err != nil {
		t.Fatalf("count after staleness: %v", err)
	}
	if count != 3 {
		t.Errorf("stale hint not recomputed: count = %d, want 3", count)
	}

	refreshed, _ := svc.Get(ctx, "owner-a", playlist.ID)
	if refreshed.CachedTrackCount == nil || *refreshed.CachedTrackCount != 3 {
		t.Errorf("write-through refresh missing: %+v", refreshed.CachedTrackCount)
	}
}

func TestEvaluateScopedToOwner(t *testing.T) {
	svc, db := newTestPlaylistService(t)
	ctx := context.Background()

	mine := seedLibraryTrack(t, db, nil)
	seedLibraryTrack(t, db, func(tr *models.Track) { tr.OwnerID = "owner-b" })

	playlist, err := svc.Create(ctx, "owner-a", CreateRequest{Name: "Mine", MatchMode: models.MatchAll})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := svc.Evaluate(ctx, "owner-a", playlist.ID, 1, 50, false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.TotalCount != 1 || result.TrackIDs[0] != mine.ID {
		t.Errorf("evaluation leaked across owners: %+v", result.TrackIDs)
	}

	// A playlist id from another owner reads as absent.
	if _, err := svc.Evaluate(ctx, "owner-b", playlist.ID, 1, 50, false); !errors.Is(err, ErrPlaylistNotFound) {
		t.Errorf("cross-owner playlist read: err = %v, want ErrPlaylistNotFound", err)
	}
}

func TestDeleteRemovesRules(t *testing.T) {
	svc, db := newTestPlaylistService(t)
	ctx := context.Background()

	playlist, err := svc.Create(ctx, "owner-a", CreateRequest{
		Name: "Doomed", MatchMode: models.MatchAll,
		Rules: []rules.Rule{{Field: "genre", Operator: "equals", Value: "emo"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, "owner-a", playlist.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "owner-a", playlist.ID); !errors.Is(err, ErrPlaylistNotFound) {
		t.Errorf("get after delete: err = %v, want ErrPlaylistNotFound", err)
	}
	var orphans int64
	db.Model(&models.SmartPlaylistRule{}).Where("playlist_id = ?", playlist.ID).Count(&orphans)
	if orphans != 0 {
		t.Errorf("%d orphaned rules after delete", orphans)
	}
	if err := svc.Delete(ctx, "owner-a", playlist.ID); !errors.Is(err, ErrPlaylistNotFound) {
		t.Errorf("second delete: err = %v, want ErrPlaylistNotFound", err)
	}
}
