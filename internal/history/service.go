/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists play events into the append-only play log.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/models"
)

// pruneInterval is how often the retention sweep runs. Pruning deletes by
// cutoff, so overlapping sweeps from several nodes are harmless.
const pruneInterval = 24 * time.Hour

// Service records track.played events and prunes rows past retention.
type Service struct {
	db            *gorm.DB
	bus           events.Broker
	logger        zerolog.Logger
	retentionDays int
}

// New creates the history service. retentionDays <= 0 disables pruning.
func New(db *gorm.DB, bus events.Broker, logger zerolog.Logger, retentionDays int) *Service {
	return &Service{
		db:            db,
		bus:           bus,
		logger:        logger.With().Str("component", "history").Logger(),
		retentionDays: retentionDays,
	}
}

// Run consumes play events until the context ends.
func (s *Service) Run(ctx context.Context) {
	played := s.bus.Subscribe(events.EventTrackPlayed)
	defer s.bus.Unsubscribe(events.EventTrackPlayed, played)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	s.Prune(ctx)
	s.logger.Info().Int("retention_days", s.retentionDays).Msg("history recorder started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("history recorder stopping")
			return
		case payload := <-played:
			s.record(ctx, payload)
		case <-ticker.C:
			s.Prune(ctx)
		}
	}
}

// record writes one play log row. Title and channel are denormalized so
// the log stays readable after a track is deleted.
func (s *Service) record(ctx context.Context, payload events.Payload) {
	ownerID, _ := payload["owner_id"].(string)
	trackID, _ := payload["track_id"].(string)
	if ownerID == "" || trackID == "" {
		s.logger.Warn().Interface("payload", payload).Msg("play event missing owner or track")
		return
	}

	title, _ := payload["title"].(string)
	channelID, _ := payload["channel_id"].(string)

	source := models.PlaySourceLibrary
	if raw, ok := payload["source"].(string); ok {
		switch models.PlaySource(raw) {
		case models.PlaySourceRadio, models.PlaySourcePlaylist, models.PlaySourceLibrary:
			source = models.PlaySource(raw)
		}
	}

	entry := models.PlayHistory{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		TrackID:   trackID,
		Title:     title,
		ChannelID: channelID,
		Source:    source,
		PlayedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Error().Err(err).Str("track_id", trackID).Msg("write play log row")
		return
	}

	s.logger.Debug().
		Str("owner_id", ownerID).
		Str("track_id", trackID).
		Str("source", string(source)).
		Msg("play recorded")
}

// Prune deletes rows older than the retention window.
func (s *Service) Prune(ctx context.Context) {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	res := s.db.WithContext(ctx).
		Where("played_at < ?", cutoff).
		Delete(&models.PlayHistory{})
	if res.Error != nil {
		s.logger.Error().Err(res.Error).Msg("prune play log")
		return
	}
	if res.RowsAffected > 0 {
		s.logger.Info().
			Int64("rows", res.RowsAffected).
			Time("cutoff", cutoff).
			Msg("pruned play log")
	}
}
