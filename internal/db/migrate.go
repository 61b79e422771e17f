/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/aiulian25/soundwave/internal/models"
	"gorm.io/gorm"
)

// Migrate brings the schema up to date: auto-migrated models first, then
// the hand-written statements auto-migrate cannot express.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Accounts
		&models.User{},
		&models.APIKey{},

		// Library
		&models.Track{},
		&models.SmartPlaylist{},
		&models.SmartPlaylistRule{},

		// Radio
		&models.RadioSession{},
		&models.RadioTrackFeedback{},

		// History
		&models.PlayHistory{},

		// Subscriptions and ingest
		&models.Subscription{},
		&models.IngestJob{},

		// Operations
		&models.AuditLog{},
	); err != nil {
		return err
	}

	if err := applyPostgresHistoryIndex(database); err != nil {
		return err
	}
	if err := normalizeLegacyFeedbackTypes(database); err != nil {
		return err
	}
	if err := backfillTrackAddedAt(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresHistoryIndex creates a descending composite index for the
// recent-plays query. GORM index tags cannot express column ordering.
func applyPostgresHistoryIndex(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `CREATE INDEX IF NOT EXISTS idx_play_histories_owner_recent
ON play_histories (owner_id, played_at DESC)`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres history index: %w", err)
	}

	return nil
}

// normalizeLegacyFeedbackTypes renames feedback recorded before the
// played_through terminology settled.
func normalizeLegacyFeedbackTypes(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE radio_track_feedbacks SET feedback_type = ? WHERE feedback_type = ?",
		models.FeedbackPlayedThrough, "full_play",
	).Error; err != nil {
		return fmt.Errorf("normalize legacy feedback types: %w", err)
	}
	return nil
}

// backfillTrackAddedAt populates added_at for rows imported before the
// column existed.
func backfillTrackAddedAt(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE tracks SET added_at = created_at WHERE added_at IS NULL",
	).Error; err != nil {
		return fmt.Errorf("backfill track added_at: %w", err)
	}
	return nil
}
