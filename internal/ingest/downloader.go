/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ingest turns queued download jobs into ready library tracks.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// FetchResult describes one downloaded item.
type FetchResult struct {
	FilePath        string `json:"file"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	Genre           string `json:"genre"`
	Year            int    `json:"year"`
	ChannelID       string `json:"channel_id"`
	ChannelName     string `json:"channel_name"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Downloader fetches one item's audio and metadata into destDir.
type Downloader interface {
	Fetch(ctx context.Context, youtubeID, destDir string) (*FetchResult, error)
}

// ExecDownloader shells out to an external fetcher command, typically a
// yt-dlp wrapper. Contract: the command is invoked as
//
//	<bin> <youtube_id> <dest_dir>
//
// downloads the audio into dest_dir, and prints a JSON object describing
// the result as the last line of stdout. Non-zero exit means failure,
// with the reason on stderr.
type ExecDownloader struct {
	bin    string
	logger zerolog.Logger
}

// NewExecDownloader creates a downloader around the given command.
func NewExecDownloader(bin string, logger zerolog.Logger) *ExecDownloader {
	return &ExecDownloader{
		bin:    bin,
		logger: logger.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch runs the fetcher command and parses its metadata output.
func (d *ExecDownloader) Fetch(ctx context.Context, youtubeID, destDir string) (*FetchResult, error) {
	cmd := exec.CommandContext(ctx, d.bin, youtubeID, destDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.Debug().Str("youtube_id", youtubeID).Str("bin", d.bin).Msg("running fetcher")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetcher: %w", ctx.Err())
		}
		return nil, fmt.Errorf("fetcher failed: %w: %s", err, tailOf(stderr.String(), 500))
	}

	result, err := parseFetchOutput(stdout.String())
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(result.FilePath); err != nil {
		return nil, fmt.Errorf("fetcher reported file %s: %w", result.FilePath, err)
	}

	return result, nil
}

// parseFetchOutput finds the metadata object in the command's stdout.
// Fetchers are free to print progress noise before it; the JSON must be
// the last non-empty line.
func parseFetchOutput(out string) (*FetchResult, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "{") {
			break
		}
		var result FetchResult
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			return nil, fmt.Errorf("parse fetcher metadata: %w", err)
		}
		if result.FilePath == "" {
			return nil, fmt.Errorf("fetcher metadata missing file path")
		}
		return &result, nil
	}
	return nil, fmt.Errorf("fetcher produced no metadata")
}

func tailOf(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
