/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package subscriptions tracks followed channels and playlists and
// feeds their new uploads into the ingest queue.
package subscriptions

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiulian25/soundwave/internal/models"
)

// FeedItem is one entry from a subscription's upload feed.
type FeedItem struct {
	YoutubeID   string
	Title       string
	ChannelID   string
	ChannelName string
	PublishedAt time.Time
}

// Feed is a fetched upload feed.
type Feed struct {
	Title string
	Items []FeedItem
}

// FeedSource fetches the current upload feed for a subscription.
type FeedSource interface {
	Fetch(ctx context.Context, sub *models.Subscription) (*Feed, error)
}

const defaultFeedBaseURL = "https://www.youtube.com"

// RSSFeedSource reads the public Atom feeds YouTube exposes per channel
// and per playlist. No API key needed; the feed carries the newest
// uploads, which is all the refresh loop wants.
type RSSFeedSource struct {
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewRSSFeedSource creates a feed source against the public feed endpoint.
func NewRSSFeedSource(logger zerolog.Logger) *RSSFeedSource {
	return &RSSFeedSource{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: defaultFeedBaseURL,
		logger:  logger.With().Str("component", "feed").Logger(),
	}
}

// Fetch downloads and parses the subscription's feed.
func (r *RSSFeedSource) Fetch(ctx context.Context, sub *models.Subscription) (*Feed, error) {
	feedURL, err := r.feedURL(sub)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", "Soundwave/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	return parseAtomFeed(body)
}

func (r *RSSFeedSource) feedURL(sub *models.Subscription) (string, error) {
	query := url.Values{}
	switch sub.Kind {
	case models.SubscriptionChannel:
		query.Set("channel_id", sub.YoutubeID)
	case models.SubscriptionPlaylist:
		query.Set("playlist_id", sub.YoutubeID)
	default:
		return "", fmt.Errorf("unknown subscription kind %q", sub.Kind)
	}
	return r.baseURL + "/feeds/videos.xml?" + query.Encode(), nil
}

// Atom structures, matched by local element name.
type atomFeed struct {
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	VideoID   string `xml:"videoId"`
	ChannelID string `xml:"channelId"`
	Title     string `xml:"title"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Published string `xml:"published"`
}

func parseAtomFeed(data []byte) (*Feed, error) {
	var parsed atomFeed
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	feed := &Feed{
		Title: parsed.Title,
		Items: make([]FeedItem, 0, len(parsed.Entries)),
	}
	for _, entry := range parsed.Entries {
		if entry.VideoID == "" {
			continue
		}
		item := FeedItem{
			YoutubeID:   entry.VideoID,
			Title:       entry.Title,
			ChannelID:   entry.ChannelID,
			ChannelName: entry.Author.Name,
		}
		if ts, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			item.PublishedAt = ts
		}
		feed.Items = append(feed.Items, item)
	}

	return feed, nil
}
