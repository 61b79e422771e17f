package stats

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aiulian25/soundwave/internal/cache"
	"github.com/aiulian25/soundwave/internal/models"
)

func newTestStats(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Track{}, &models.SmartPlaylist{}, &models.SmartPlaylistRule{},
		&models.Subscription{}, &models.PlayHistory{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return New(db, cache.Disabled(zerolog.Nop()), zerolog.Nop()), db
}

func seedTrack(t *testing.T, db *gorm.DB, ownerID, channelID, channelName string, mutate func(*models.Track)) models.Track {
	t.Helper()
	track := models.Track{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		YoutubeID:       uuid.NewString()[:11],
		Title:           "Track " + uuid.NewString()[:4],
		ChannelID:       channelID,
		ChannelName:     channelName,
		DurationSeconds: 200,
		FileSizeBytes:   1000,
		Status:          models.TrackReady,
	}
	if mutate != nil {
		mutate(&track)
	}
	if err := db.Create(&track).Error; err != nil {
		t.Fatalf("seed track: %v", err)
	}
	return track
}

func seedPlay(t *testing.T, db *gorm.DB, ownerID, channelID string, playedAt time.Time) {
	t.Helper()
	row := models.PlayHistory{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		TrackID:   uuid.NewString(),
		ChannelID: channelID,
		Source:    models.PlaySourceRadio,
		PlayedAt:  playedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed play: %v", err)
	}
}

func TestSummaryCountsLibrary(t *testing.T) {
	svc, db := newTestStats(t)
	ctx := context.Background()
	owner := "owner-1"

	seedTrack(t, db, owner, "UCa", "Channel A", func(tr *models.Track) {
		tr.IsFavorite = true
		tr.DurationSeconds = 100
		tr.FileSizeBytes = 500
	})
	seedTrack(t, db, owner, "UCa", "Channel A", func(tr *models.Track) {
		tr.DurationSeconds = 200
		tr.FileSizeBytes = 1500
	})
	seedTrack(t, db, owner, "UCb", "Channel B", func(tr *models.Track) {
		tr.DurationSeconds = 300
		tr.FileSizeBytes = 2000
	})
	// Missing tracks and other owners stay out of the totals.
	seedTrack(t, db, owner, "UCc", "Channel C", func(tr *models.Track) {
		tr.Status = models.TrackMissing
	})
	seedTrack(t, db, "owner-2", "UCa", "Channel A", nil)

	playlist := models.SmartPlaylist{ID: uuid.NewString(), OwnerID: owner, Name: "Favorites"}
	if err := db.Create(&playlist).Error; err != nil {
		t.Fatalf("seed playlist: %v", err)
	}
	for _, kind := range []models.SubscriptionKind{models.SubscriptionChannel, models.SubscriptionPlaylist} {
		sub := models.Subscription{ID: uuid.NewString(), OwnerID: owner, Kind: kind, YoutubeID: uuid.NewString()[:11]}
		if err := db.Create(&sub).Error; err != nil {
			t.Fatalf("seed subscription: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		seedPlay(t, db, owner, "UCa", time.Now().Add(-time.Duration(i)*time.Hour))
	}
	seedPlay(t, db, "owner-2", "UCa", time.Now())

	summary, err := svc.Summary(ctx, owner)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if summary.TrackCount != 3 {
		t.Errorf("track count = %d, want 3", summary.TrackCount)
	}
	if summary.FavoriteCount != 1 {
		t.Errorf("favorite count = %d, want 1", summary.FavoriteCount)
	}
	if summary.ChannelCount != 2 {
		t.Errorf("channel count = %d, want 2", summary.ChannelCount)
	}
	if summary.PlaylistCount != 1 {
		t.Errorf("playlist count = %d, want 1", summary.PlaylistCount)
	}
	if summary.SubscriptionCount != 2 {
		t.Errorf("subscription count = %d, want 2", summary.SubscriptionCount)
	}
	if summary.TotalPlays != 4 {
		t.Errorf("total plays = %d, want 4", summary.TotalPlays)
	}
	if summary.TotalDurationSecs != 600 {
		t.Errorf("total duration = %d, want 600", summary.TotalDurationSecs)
	}
	if summary.TotalFileBytes != 4000 {
		t.Errorf("total bytes = %d, want 4000", summary.TotalFileBytes)
	}
}

func TestTopChannelsRanksAndAttachesPlays(t *testing.T) {
	svc, db := newTestStats(t)
	ctx := context.Background()
	owner := "owner-1"

	for i := 0; i < 3; i++ {
		seedTrack(t, db, owner, "UCa", "Channel A", nil)
	}
	seedTrack(t, db, owner, "UCb", "Channel B", nil)
	seedTrack(t, db, owner, "", "", nil) // no channel, excluded

	seedPlay(t, db, owner, "UCb", time.Now())
	for i := 0; i < 5; i++ {
		seedPlay(t, db, owner, "UCb", time.Now().Add(-time.Duration(i)*time.Minute))
	}
	seedPlay(t, db, owner, "UCa", time.Now())

	channels, err := svc.TopChannels(ctx, owner, 10)
	if err != nil {
		t.Fatalf("top channels: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(channels))
	}

	if channels[0].ChannelID != "UCa" || channels[0].TrackCount != 3 {
		t.Errorf("first = %+v, want UCa with 3 tracks", channels[0])
	}
	if channels[0].PlayCount != 1 {
		t.Errorf("UCa plays = %d, want 1", channels[0].PlayCount)
	}
	if channels[1].ChannelID != "UCb" || channels[1].PlayCount != 6 {
		t.Errorf("second = %+v, want UCb with 6 plays", channels[1])
	}

	limited, err := svc.TopChannels(ctx, owner, 1)
	if err != nil {
		t.Fatalf("top channels limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ChannelID != "UCa" {
		t.Errorf("limited = %+v, want only UCa", limited)
	}
}

func TestRecentPlaysNewestFirst(t *testing.T) {
	svc, db := newTestStats(t)
	ctx := context.Background()
	owner := "owner-1"

	seedPlay(t, db, owner, "UCa", time.Now().Add(-3*time.Hour))
	seedPlay(t, db, owner, "UCb", time.Now().Add(-1*time.Hour))
	seedPlay(t, db, owner, "UCc", time.Now().Add(-2*time.Hour))
	seedPlay(t, db, "owner-2", "UCz", time.Now())

	plays, err := svc.RecentPlays(ctx, owner, 2)
	if err != nil {
		t.Fatalf("recent plays: %v", err)
	}
	if len(plays) != 2 {
		t.Fatalf("plays = %d, want 2", len(plays))
	}
	if plays[0].ChannelID != "UCb" || plays[1].ChannelID != "UCc" {
		t.Errorf("order = %s, %s; want UCb then UCc", plays[0].ChannelID, plays[1].ChannelID)
	}
}

func TestOverviewAssemblesSections(t *testing.T) {
	svc, db := newTestStats(t)
	ctx := context.Background()
	owner := "owner-1"

	seedTrack(t, db, owner, "UCa", "Channel A", nil)
	seedPlay(t, db, owner, "UCa", time.Now())

	overview, err := svc.Overview(ctx, owner)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.Summary.TrackCount != 1 {
		t.Errorf("summary tracks = %d", overview.Summary.TrackCount)
	}
	if len(overview.TopChannels) != 1 {
		t.Errorf("top channels = %d", len(overview.TopChannels))
	}
	if len(overview.RecentPlays) != 1 {
		t.Errorf("recent plays = %d", len(overview.RecentPlays))
	}
}
