/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/config"
	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/media"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/telemetry"
)

const (
	pollInterval     = 15 * time.Second
	claimBatchFactor = 3
	retryBackoffBase = 30 * time.Second
	maxRetryBackoff  = 10 * time.Minute
	maxErrorLength   = 500
)

var (
	// ErrJobNotFound means no such job for this owner.
	ErrJobNotFound = errors.New("ingest job not found")
	// ErrTrackExists means the item is already in the owner's library.
	ErrTrackExists = errors.New("track already in library")
	// ErrNotRetryable means the job is not in a retryable state.
	ErrNotRetryable = errors.New("only failed jobs can be retried")

	errTrackAlreadyPresent = errors.New("track created by a concurrent job")
)

// Service runs the download pipeline: claims pending jobs, fetches
// audio through the downloader, stores it and creates track rows.
type Service struct {
	db           *gorm.DB
	media        *media.Service
	fetcher      Downloader
	bus          events.Broker
	logger       zerolog.Logger
	workers      int
	maxAttempts  int
	fetchTimeout time.Duration
}

// New creates the ingest service. A nil fetcher disables processing;
// jobs still queue up and wait for a configured fetcher.
func New(db *gorm.DB, mediaSvc *media.Service, fetcher Downloader, bus events.Broker, logger zerolog.Logger, cfg *config.Config) *Service {
	return &Service{
		db:           db,
		media:        mediaSvc,
		fetcher:      fetcher,
		bus:          bus,
		logger:       logger.With().Str("component", "ingest").Logger(),
		workers:      cfg.IngestWorkers,
		maxAttempts:  cfg.IngestAttempts,
		fetchTimeout: cfg.FetcherTimeout,
	}
}

// Enqueue records a download request. Repeated requests for the same
// item return the already-queued job; items already in the library are
// rejected, except missing tracks which may be fetched again.
func (s *Service) Enqueue(ctx context.Context, ownerID, youtubeID, title string, subscriptionID *string) (*models.IngestJob, error) {
	youtubeID = strings.TrimSpace(youtubeID)
	if youtubeID == "" {
		return nil, fmt.Errorf("youtube id is required")
	}

	var track models.Track
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND youtube_id = ?", ownerID, youtubeID).
		First(&track).Error
	switch {
	case err == nil && track.Status != models.TrackMissing:
		return nil, ErrTrackExists
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("check library: %w", err)
	}

	var existing models.IngestJob
	err = s.db.WithContext(ctx).
		Where("owner_id = ? AND youtube_id = ?", ownerID, youtubeID).
		Order("created_at DESC").
		First(&existing).Error
	switch {
	case err == nil:
		switch existing.Status {
		case models.IngestPending, models.IngestFetching:
			return &existing, nil
		case models.IngestFailed:
			// Re-requesting a failed item starts it over.
			updates := map[string]any{
				"status":     models.IngestPending,
				"attempts":   0,
				"last_error": "",
			}
			if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("reset job: %w", err)
			}
			existing.Status = models.IngestPending
			existing.Attempts = 0
			existing.LastError = ""
			return &existing, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("check queue: %w", err)
	}

	job := &models.IngestJob{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		SubscriptionID: subscriptionID,
		YoutubeID:      youtubeID,
		Title:          title,
		Status:         models.IngestPending,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("owner_id", ownerID).
		Str("youtube_id", youtubeID).
		Msg("ingest job queued")

	return job, nil
}

// Get returns one job, owner-scoped.
func (s *Service) Get(ctx context.Context, ownerID, jobID string) (*models.IngestJob, error) {
	var job models.IngestJob
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", jobID, ownerID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// List returns the owner's jobs, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, ownerID, status string, page, pageSize int) ([]models.IngestJob, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 25
	}

	query := s.db.WithContext(ctx).Model(&models.IngestJob{}).Where("owner_id = ?", ownerID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	var jobs []models.IngestJob
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	return jobs, total, nil
}

// Retry puts a failed job back in the queue with a clean slate.
func (s *Service) Retry(ctx context.Context, ownerID, jobID string) (*models.IngestJob, error) {
	job, err := s.Get(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.IngestFailed {
		return nil, ErrNotRetryable
	}

	updates := map[string]any{
		"status":     models.IngestPending,
		"attempts":   0,
		"last_error": "",
	}
	if err := s.db.WithContext(ctx).Model(job).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}

	job.Status = models.IngestPending
	job.Attempts = 0
	job.LastError = ""

	s.logger.Info().Str("job_id", job.ID).Msg("ingest job retried")
	return job, nil
}

// Run processes queued jobs until ctx is cancelled. Returns immediately
// when no fetcher is configured.
func (s *Service) Run(ctx context.Context) error {
	if s.fetcher == nil {
		s.logger.Warn().Msg("no fetcher configured, ingest pipeline disabled")
		return nil
	}

	s.logger.Info().
		Int("workers", s.workers).
		Dur("fetch_timeout", s.fetchTimeout).
		Msg("ingest pipeline started")

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info().Msg("ingest pipeline stopped")
			return nil
		case <-ticker.C:
			s.dispatch(ctx, sem, &wg)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	free := s.workers - len(sem)
	if free <= 0 {
		return
	}

	jobs := s.claimJobs(ctx, free)
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.processJob(ctx, job)
		}()
	}
}

// claimJobs flips up to limit eligible pending jobs to fetching. The
// conditional update makes each claim safe against other nodes working
// the same queue.
func (s *Service) claimJobs(ctx context.Context, limit int) []models.IngestJob {
	var candidates []models.IngestJob
	err := s.db.WithContext(ctx).
		Where("status = ?", models.IngestPending).
		Order("created_at ASC").
		Limit(limit * claimBatchFactor).
		Find(&candidates).Error
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load pending jobs")
		return nil
	}

	now := time.Now()
	claimed := make([]models.IngestJob, 0, limit)
	for i := range candidates {
		if len(claimed) >= limit {
			break
		}
		job := candidates[i]
		if job.Attempts > 0 && now.Sub(job.UpdatedAt) < backoffFor(job.Attempts) {
			continue
		}

		res := s.db.WithContext(ctx).
			Model(&models.IngestJob{}).
			Where("id = ? AND status = ?", job.ID, models.IngestPending).
			Updates(map[string]any{
				"status":     models.IngestFetching,
				"started_at": now,
			})
		if res.Error != nil {
			s.logger.Warn().Err(res.Error).Str("job_id", job.ID).Msg("claim failed")
			continue
		}
		if res.RowsAffected == 0 {
			// Another node got there first.
			continue
		}

		job.Status = models.IngestFetching
		job.StartedAt = &now
		claimed = append(claimed, job)
	}

	return claimed
}

func (s *Service) processJob(ctx context.Context, job models.IngestJob) {
	log := s.logger.With().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("youtube_id", job.YoutubeID).
		Logger()

	workDir, err := os.MkdirTemp("", "soundwave-ingest-*")
	if err != nil {
		s.recordFailure(ctx, job, fmt.Errorf("create work dir: %w", err))
		return
	}
	defer os.RemoveAll(workDir)

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	result, err := s.fetcher.Fetch(fetchCtx, job.YoutubeID, workDir)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return
	}

	file, err := os.Open(result.FilePath)
	if err != nil {
		s.recordFailure(ctx, job, fmt.Errorf("open fetched file: %w", err))
		return
	}
	defer file.Close()

	trackID := uuid.New().String()
	path, size, err := s.media.Store(ctx, job.OwnerID, trackID, filepath.Ext(result.FilePath), file)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return
	}

	track := &models.Track{
		ID:              trackID,
		OwnerID:         job.OwnerID,
		YoutubeID:       job.YoutubeID,
		Title:           firstNonEmpty(result.Title, job.Title, job.YoutubeID),
		Artist:          result.Artist,
		Album:           result.Album,
		Genre:           result.Genre,
		Year:            result.Year,
		ChannelID:       result.ChannelID,
		ChannelName:     result.ChannelName,
		DurationSeconds: result.DurationSeconds,
		AddedAt:         time.Now(),
		StoragePath:     path,
		FileSizeBytes:   size,
		Status:          models.TrackReady,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Track
		err := tx.Where("owner_id = ? AND youtube_id = ?", job.OwnerID, job.YoutubeID).
			First(&existing).Error
		switch {
		case err == nil && existing.Status == models.TrackMissing:
			// The file came back through a re-download; reuse the row so
			// playlists and history keep pointing at the same track.
			track.ID = existing.ID
			return tx.Model(&existing).Updates(map[string]any{
				"storage_path":    path,
				"file_size_bytes": size,
				"status":          models.TrackReady,
			}).Error
		case err == nil:
			return errTrackAlreadyPresent
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(track).Error
		default:
			return err
		}
	})
	if errors.Is(err, errTrackAlreadyPresent) {
		// A concurrent job for the same item finished first. Drop our copy.
		if derr := s.media.Delete(ctx, path); derr != nil {
			log.Warn().Err(derr).Msg("failed to remove duplicate file")
		}
		log.Info().Msg("item already in library, job folded")
		s.completeJob(ctx, job, nil)
		return
	}
	if err != nil {
		if derr := s.media.Delete(ctx, path); derr != nil {
			log.Warn().Err(derr).Msg("failed to remove file after error")
		}
		s.recordFailure(ctx, job, fmt.Errorf("create track: %w", err))
		return
	}

	s.completeJob(ctx, job, track)

	log.Info().
		Str("track_id", track.ID).
		Str("title", track.Title).
		Int64("size", size).
		Msg("ingest job completed")
}

// completeJob marks the job done. track is nil when the job folded into
// a concurrent duplicate, in which case no track events fire.
func (s *Service) completeJob(ctx context.Context, job models.IngestJob, track *models.Track) {
	now := time.Now()
	err := s.db.WithContext(ctx).
		Model(&models.IngestJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       models.IngestCompleted,
			"completed_at": now,
			"last_error":   "",
		}).Error
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job completed")
		return
	}

	telemetry.IngestJobsTotal.WithLabelValues(string(models.IngestCompleted)).Inc()

	if track == nil {
		return
	}

	s.bus.Publish(events.EventIngestCompleted, events.Payload{
		"job_id":     job.ID,
		"owner_id":   job.OwnerID,
		"track_id":   track.ID,
		"youtube_id": job.YoutubeID,
		"title":      track.Title,
	})
	s.bus.Publish(events.EventTrackCreated, events.Payload{
		"owner_id": job.OwnerID,
		"track_id": track.ID,
	})
}

// recordFailure bumps the attempt counter, requeueing the job until
// attempts run out, then marks it failed for good.
func (s *Service) recordFailure(ctx context.Context, job models.IngestJob, cause error) {
	attempts := job.Attempts + 1
	status := models.IngestPending
	if attempts >= s.maxAttempts {
		status = models.IngestFailed
	}

	err := s.db.WithContext(ctx).
		Model(&models.IngestJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":     status,
			"attempts":   attempts,
			"last_error": tailOf(cause.Error(), maxErrorLength),
		}).Error
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job failure")
		return
	}

	s.logger.Warn().
		Err(cause).
		Str("job_id", job.ID).
		Str("youtube_id", job.YoutubeID).
		Int("attempts", attempts).
		Str("status", string(status)).
		Msg("ingest attempt failed")

	if status == models.IngestFailed {
		telemetry.IngestJobsTotal.WithLabelValues(string(models.IngestFailed)).Inc()
		s.bus.Publish(events.EventIngestFailed, events.Payload{
			"job_id":     job.ID,
			"owner_id":   job.OwnerID,
			"youtube_id": job.YoutubeID,
			"error":      tailOf(cause.Error(), maxErrorLength),
		})
	}
}

func backoffFor(attempts int) time.Duration {
	backoff := retryBackoffBase << (attempts - 1)
	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
