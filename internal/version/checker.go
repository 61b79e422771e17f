/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// checkEvery is how often the GitHub releases endpoint is polled.
const checkEvery = 6 * time.Hour

// UpdateInfo is the most recent release-check result.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	ReleaseNotes    string    `json:"release_notes,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Checker polls GitHub for newer releases and caches the last answer.
type Checker struct {
	mu     sync.RWMutex
	latest UpdateInfo

	client *http.Client
	logger zerolog.Logger
}

// NewChecker builds a checker that has not probed yet.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		latest: UpdateInfo{CurrentVersion: Version},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "update-checker").Logger(),
	}
}

// Start probes once, then keeps polling until ctx is cancelled. The first
// probe is synchronous, so callers that care keep Start itself off their
// startup path.
func (c *Checker) Start(ctx context.Context) {
	c.probe(ctx)

	go func() {
		ticker := time.NewTicker(checkEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.probe(ctx)
			}
		}
	}()
}

// Info returns the last release-check result.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// githubRelease is the slice of the release API response we read.
type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
}

// probe refreshes the cached answer. Release checks are best effort, a
// failed probe keeps the previous one.
func (c *Checker) probe(ctx context.Context) {
	release, err := c.fetchLatest(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("release check failed")
		return
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: newerThan(latest, Version),
		ReleaseURL:      release.HTMLURL,
		ReleaseNotes:    firstLine(release.Body, 200),
		CheckedAt:       time.Now(),
	}

	c.mu.Lock()
	c.latest = info
	c.mu.Unlock()

	if info.UpdateAvailable {
		c.logger.Info().Str("current", Version).Str("latest", latest).Str("url", release.HTMLURL).Msg("newer release available")
	}
}

func (c *Checker) fetchLatest(ctx context.Context) (*githubRelease, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", GitHubRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Soundwave/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github responded %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &release, nil
}

// newerThan reports whether candidate is a strictly newer version than
// current. Pre-release and build suffixes are ignored.
func newerThan(candidate, current string) bool {
	a := semverFields(candidate)
	b := semverFields(current)
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// semverFields pulls major.minor.patch out of a version string, tolerating
// a leading v and a trailing -rc or +meta suffix.
func semverFields(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}

	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}

// firstLine trims release notes to their first line, capped at max runes.
func firstLine(s string, max int) string {
	s, _, _ = strings.Cut(s, "\n")
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "…"
	}
	return s
}
