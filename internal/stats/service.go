/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stats aggregates per-owner library statistics.
package stats

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/cache"
	"github.com/aiulian25/soundwave/internal/models"
)

const (
	topChannelLimit  = 5
	recentPlaysLimit = 10
)

// Service computes library statistics, with the summary cached per owner.
type Service struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// New creates the stats service.
func New(db *gorm.DB, c *cache.Cache, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		cache:  c,
		logger: logger.With().Str("component", "stats").Logger(),
	}
}

// ChannelStat is one row of the top-channels board.
type ChannelStat struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	TrackCount  int64  `json:"track_count"`
	PlayCount   int64  `json:"play_count"`
}

// Overview is the full stats response.
type Overview struct {
	Summary     cache.CachedSummary  `json:"summary"`
	TopChannels []ChannelStat        `json:"top_channels"`
	RecentPlays []models.PlayHistory `json:"recent_plays"`
}

// Overview assembles summary, top channels, and recent plays.
func (s *Service) Overview(ctx context.Context, ownerID string) (*Overview, error) {
	summary, err := s.Summary(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	channels, err := s.TopChannels(ctx, ownerID, topChannelLimit)
	if err != nil {
		return nil, err
	}

	plays, err := s.RecentPlays(ctx, ownerID, recentPlaysLimit)
	if err != nil {
		return nil, err
	}

	return &Overview{
		Summary:     *summary,
		TopChannels: channels,
		RecentPlays: plays,
	}, nil
}

// Summary returns per-owner totals, from cache when fresh.
func (s *Service) Summary(ctx context.Context, ownerID string) (*cache.CachedSummary, error) {
	if cached, ok := s.cache.GetSummary(ctx, ownerID); ok {
		return cached, nil
	}

	summary := cache.CachedSummary{OwnerID: ownerID}

	tracks := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Track{}).
			Where("owner_id = ? AND status = ?", ownerID, models.TrackReady)
	}

	if err := tracks().Count(&summary.TrackCount).Error; err != nil {
		return nil, fmt.Errorf("count tracks: %w", err)
	}
	if err := tracks().Where("is_favorite = ?", true).Count(&summary.FavoriteCount).Error; err != nil {
		return nil, fmt.Errorf("count favorites: %w", err)
	}
	if err := tracks().Where("channel_id <> ''").
		Distinct("channel_id").Count(&summary.ChannelCount).Error; err != nil {
		return nil, fmt.Errorf("count channels: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.SmartPlaylist{}).
		Where("owner_id = ?", ownerID).Count(&summary.PlaylistCount).Error; err != nil {
		return nil, fmt.Errorf("count playlists: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("owner_id = ?", ownerID).Count(&summary.SubscriptionCount).Error; err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.PlayHistory{}).
		Where("owner_id = ?", ownerID).Count(&summary.TotalPlays).Error; err != nil {
		return nil, fmt.Errorf("count plays: %w", err)
	}

	var totals struct {
		DurationSeconds int64
		FileBytes       int64
	}
	if err := s.db.WithContext(ctx).Raw(`
		SELECT
			COALESCE(SUM(duration_seconds), 0) AS duration_seconds,
			COALESCE(SUM(file_size_bytes), 0) AS file_bytes
		FROM tracks
		WHERE owner_id = ? AND status = ?
	`, ownerID, models.TrackReady).Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("sum track totals: %w", err)
	}
	summary.TotalDurationSecs = totals.DurationSeconds
	summary.TotalFileBytes = totals.FileBytes

	if err := s.cache.SetSummary(ctx, &summary); err != nil {
		s.logger.Debug().Err(err).Str("owner_id", ownerID).Msg("cache summary")
	}

	return &summary, nil
}

// TopChannels ranks channels by library size, with play counts attached
// from the play log.
func (s *Service) TopChannels(ctx context.Context, ownerID string, limit int) ([]ChannelStat, error) {
	if limit <= 0 {
		limit = topChannelLimit
	}

	channels := make([]ChannelStat, 0, limit)
	if err := s.db.WithContext(ctx).Raw(`
		SELECT
			channel_id,
			MAX(channel_name) AS channel_name,
			COUNT(*) AS track_count
		FROM tracks
		WHERE owner_id = ? AND status = ? AND channel_id <> ''
		GROUP BY channel_id
		ORDER BY track_count DESC, channel_id
		LIMIT ?
	`, ownerID, models.TrackReady, limit).Scan(&channels).Error; err != nil {
		return nil, fmt.Errorf("query top channels: %w", err)
	}

	if len(channels) == 0 {
		return channels, nil
	}

	type playRow struct {
		ChannelID string
		PlayCount int64
	}
	var plays []playRow
	if err := s.db.WithContext(ctx).Raw(`
		SELECT channel_id, COUNT(*) AS play_count
		FROM play_histories
		WHERE owner_id = ? AND channel_id <> ''
		GROUP BY channel_id
	`, ownerID).Scan(&plays).Error; err != nil {
		return nil, fmt.Errorf("query channel plays: %w", err)
	}

	byChannel := make(map[string]int64, len(plays))
	for _, p := range plays {
		byChannel[p.ChannelID] = p.PlayCount
	}
	for i := range channels {
		channels[i].PlayCount = byChannel[channels[i].ChannelID]
	}

	return channels, nil
}

// RecentPlays returns the owner's latest play log rows.
func (s *Service) RecentPlays(ctx context.Context, ownerID string, limit int) ([]models.PlayHistory, error) {
	if limit <= 0 {
		limit = recentPlaysLimit
	}

	plays := make([]models.PlayHistory, 0, limit)
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("played_at DESC").
		Limit(limit).
		Find(&plays).Error; err != nil {
		return nil, fmt.Errorf("query recent plays: %w", err)
	}
	return plays, nil
}
