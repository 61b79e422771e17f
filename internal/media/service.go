/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media stores and serves downloaded audio files. Backends:
// local filesystem (default) and S3-compatible object storage.
package media

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiulian25/soundwave/internal/config"
)

const accessCheckTimeout = 5 * time.Second

// Storage abstracts the file backend.
type Storage interface {
	// Store writes the file under a path derived from owner and track,
	// returning the storage path and the number of bytes written.
	Store(ctx context.Context, ownerID, trackID, ext string, r io.Reader) (string, int64, error)
	// Open returns a seekable reader for direct serving. Backends that
	// hand out URLs instead return an error.
	Open(ctx context.Context, path string) (io.ReadSeekCloser, error)
	Delete(ctx context.Context, path string) error
	// URL returns a client-fetchable URL for the file, or "" when the
	// content must be served through Open.
	URL(ctx context.Context, path string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	// List walks stored files under prefix, calling fn for each.
	List(ctx context.Context, prefix string, fn func(path string, size int64) error) error
	CheckAccess(ctx context.Context) error
}

// Service fronts the configured Storage with logging and error wrapping.
type Service struct {
	storage Storage
	logger  zerolog.Logger
}

// NewService picks the backend from config: S3 when a bucket is set,
// local filesystem otherwise.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	storage, err := newStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Service{storage: storage, logger: logger}, nil
}

func newStorage(cfg *config.Config, logger zerolog.Logger) (Storage, error) {
	if cfg.S3Bucket == "" {
		return NewFilesystemStorage(cfg.MediaRoot, logger), nil
	}

	s3cfg := S3Config{
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		Endpoint:        cfg.S3Endpoint,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		UsePathStyle:    cfg.S3UsePathStyle,
	}
	if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
		logger.Warn().Msg("no static S3 credentials, falling back to ambient AWS config")
	}

	storage, err := NewS3Storage(context.Background(), s3cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init s3 storage: %w", err)
	}
	return storage, nil
}

// Store saves a downloaded file and returns the storage path and size.
func (s *Service) Store(ctx context.Context, ownerID, trackID, ext string, r io.Reader) (string, int64, error) {
	path, size, err := s.storage.Store(ctx, ownerID, trackID, ext, r)
	if err != nil {
		s.logger.Error().Err(err).Str("track_id", trackID).Msg("media store failed")
		return "", 0, fmt.Errorf("store media: %w", err)
	}

	s.logger.Info().Str("owner_id", ownerID).Str("track_id", trackID).Str("path", path).Int64("size", size).Msg("media stored")
	return path, size, nil
}

// Open returns a seekable reader for a stored file. Callers should try
// URL first; backends that serve through URLs do not implement Open.
func (s *Service) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	return s.storage.Open(ctx, path)
}

// Delete drops the stored file at path from the backend.
func (s *Service) Delete(ctx context.Context, path string) error {
	if err := s.storage.Delete(ctx, path); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("delete stored file")
		return fmt.Errorf("delete stored file: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("media deleted")
	return nil
}

// URL returns the accessible URL for a stored media file, or "" when the
// file must be served through Open.
func (s *Service) URL(ctx context.Context, path string) (string, error) {
	return s.storage.URL(ctx, path)
}

// Exists reports whether the stored file is present in the backend.
func (s *Service) Exists(ctx context.Context, path string) (bool, error) {
	return s.storage.Exists(ctx, path)
}

// Backend exposes the underlying storage, used by the verifier.
func (s *Service) Backend() Storage {
	return s.storage
}

// CheckStorageAccess probes the backend with a short deadline.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), accessCheckTimeout)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}

// buildTrackPath fans files out as owner/aa/bb/<track>.ext, keyed on the
// first four characters of the track id, so no directory grows unbounded.
func buildTrackPath(ownerID, trackID, extension string) string {
	if len(trackID) < 4 {
		return filepath.Join(ownerID, trackID+extension)
	}
	return filepath.Join(ownerID, trackID[0:2], trackID[2:4], trackID+extension)
}
