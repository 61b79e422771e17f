/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FilesystemStorage keeps audio files under a local media root. Paths
// handed out by Store and accepted by the other methods are relative to
// that root, so the root can move without rewriting the database.
type FilesystemStorage struct {
	root   string
	logger zerolog.Logger
}

// NewFilesystemStorage returns storage rooted at rootDir.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		root:   rootDir,
		logger: logger,
	}
}

// Store writes the stream to its fan-out location under the media root and
// returns the root-relative path. A failed or short write removes the file
// so no truncated audio is left behind.
func (f *FilesystemStorage) Store(ctx context.Context, ownerID, trackID, ext string, r io.Reader) (string, int64, error) {
	rel := buildTrackPath(ownerID, trackID, ext)
	abs := filepath.Join(f.root, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", 0, fmt.Errorf("create directories: %w", err)
	}

	dest, err := os.Create(abs)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}

	size, err := io.Copy(dest, r)
	// Close errors surface delayed write failures (full disk), so they
	// fail the store like the copy itself would.
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(abs)
		return "", 0, fmt.Errorf("write file: %w", err)
	}

	f.logger.Debug().Str("path", rel).Int64("bytes", size).Msg("file stored")
	return rel, size, nil
}

// Open returns the file for direct serving. The result supports seeking,
// which range requests need.
func (f *FilesystemStorage) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	file, err := os.Open(filepath.Join(f.root, path))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes the file. Deleting a path that is already gone succeeds;
// the caller's intent is satisfied either way.
func (f *FilesystemStorage) Delete(ctx context.Context, path string) error {
	abs := filepath.Join(f.root, path)
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}

	f.logger.Debug().Str("path", path).Msg("file deleted")
	return nil
}

// URL returns "" because filesystem content is served through Open.
func (f *FilesystemStorage) URL(ctx context.Context, path string) (string, error) {
	return "", nil
}

// Exists reports whether the file is present on disk.
func (f *FilesystemStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(filepath.Join(f.root, path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat file: %w", err)
	}
}

// List calls fn with the root-relative path and size of every file under
// prefix. A prefix with no directory yet is an empty listing, not an error.
func (f *FilesystemStorage) List(ctx context.Context, prefix string, fn func(path string, size int64) error) error {
	start := filepath.Join(f.root, prefix)
	if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			f.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable path")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return nil
		}
		return fn(rel, info.Size())
	})
}

// CheckAccess verifies the media root exists and is a directory.
func (f *FilesystemStorage) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(f.root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("media root directory does not exist: %s", f.root)
	case err != nil:
		return fmt.Errorf("cannot access media root: %w", err)
	case !info.IsDir():
		return fmt.Errorf("media root is not a directory: %s", f.root)
	}
	return nil
}
