/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/models"
)

// Verifier cross-checks the track table against the storage backend:
// tracks whose file disappeared, and files no track references.
type Verifier struct {
	db      *gorm.DB
	storage Storage
	logger  zerolog.Logger
}

// NewVerifier creates a library verifier.
func NewVerifier(db *gorm.DB, storage Storage, logger zerolog.Logger) *Verifier {
	return &Verifier{
		db:      db,
		storage: storage,
		logger:  logger.With().Str("component", "verifier").Logger(),
	}
}

// VerifyReport summarizes one verification run.
type VerifyReport struct {
	TracksChecked  int           `json:"tracks_checked"`
	FilesScanned   int           `json:"files_scanned"`
	MissingTracks  []string      `json:"missing_tracks,omitempty"`
	RestoredTracks []string      `json:"restored_tracks,omitempty"`
	OrphanFiles    []string      `json:"orphan_files,omitempty"`
	OrphanBytes    int64         `json:"orphan_bytes"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"duration"`
}

// Verify walks both directions. With repair set, tracks whose file is
// gone are flipped to missing and missing tracks whose file reappeared
// are flipped back to ready. Orphan files are only reported; use
// RemoveOrphans to delete them.
func (v *Verifier) Verify(ctx context.Context, ownerID string, repair bool) (*VerifyReport, error) {
	startTime := time.Now()
	report := &VerifyReport{}

	v.logger.Info().Str("owner_id", ownerID).Bool("repair", repair).Msg("starting library verification")

	query := v.db.WithContext(ctx).Model(&models.Track{}).Where("storage_path <> ''")
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}

	var tracks []models.Track
	if err := query.Select("id", "owner_id", "storage_path", "status").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}

	knownPaths := make(map[string]struct{}, len(tracks))
	for i := range tracks {
		track := &tracks[i]
		knownPaths[track.StoragePath] = struct{}{}
		if track.Status == models.TrackPending {
			continue
		}
		report.TracksChecked++

		exists, err := v.storage.Exists(ctx, track.StoragePath)
		if err != nil {
			v.logger.Warn().Err(err).Str("track_id", track.ID).Msg("existence check failed")
			report.Errors++
			continue
		}

		switch {
		case track.Status == models.TrackReady && !exists:
			report.MissingTracks = append(report.MissingTracks, track.ID)
			if repair {
				if err := v.setStatus(ctx, track.ID, models.TrackMissing); err != nil {
					report.Errors++
				}
			}
		case track.Status == models.TrackMissing && exists:
			report.RestoredTracks = append(report.RestoredTracks, track.ID)
			if repair {
				if err := v.setStatus(ctx, track.ID, models.TrackReady); err != nil {
					report.Errors++
				}
			}
		}
	}

	// Second direction: stored files nothing references.
	err := v.storage.List(ctx, ownerID, func(path string, size int64) error {
		report.FilesScanned++
		if _, known := knownPaths[path]; known {
			return nil
		}
		report.OrphanFiles = append(report.OrphanFiles, path)
		report.OrphanBytes += size
		return nil
	})
	if err != nil && err != context.Canceled {
		return nil, fmt.Errorf("scan storage: %w", err)
	}

	report.Duration = time.Since(startTime)

	v.logger.Info().
		Int("tracks_checked", report.TracksChecked).
		Int("files_scanned", report.FilesScanned).
		Int("missing", len(report.MissingTracks)).
		Int("restored", len(report.RestoredTracks)).
		Int("orphans", len(report.OrphanFiles)).
		Int("errors", report.Errors).
		Dur("duration", report.Duration).
		Msg("library verification complete")

	return report, nil
}

// RemoveOrphans deletes the given storage paths. Intended for paths a
// prior Verify reported as orphans.
func (v *Verifier) RemoveOrphans(ctx context.Context, paths []string) (int, error) {
	removed := 0
	for _, path := range paths {
		if err := v.storage.Delete(ctx, path); err != nil {
			v.logger.Warn().Err(err).Str("path", path).Msg("failed to remove orphan")
			continue
		}
		removed++
	}

	v.logger.Info().Int("removed", removed).Int("requested", len(paths)).Msg("orphan files removed")
	return removed, nil
}

func (v *Verifier) setStatus(ctx context.Context, trackID string, status models.TrackStatus) error {
	err := v.db.WithContext(ctx).
		Model(&models.Track{}).
		Where("id = ?", trackID).
		Update("status", status).Error
	if err != nil {
		v.logger.Warn().Err(err).Str("track_id", trackID).Msg("failed to update track status")
		return err
	}
	return nil
}
