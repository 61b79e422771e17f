/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/ingest"
	"github.com/aiulian25/soundwave/internal/models"
)

var (
	// ErrSubscriptionNotFound means no such subscription for this owner.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrDuplicateSubscription means the owner already follows this source.
	ErrDuplicateSubscription = errors.New("subscription already exists")
)

// Service manages followed channels and playlists.
type Service struct {
	db              *gorm.DB
	feeds           FeedSource
	ingest          *ingest.Service
	bus             events.Broker
	logger          zerolog.Logger
	refreshInterval time.Duration
	isLeader        func() bool
}

// New creates the subscription service. isLeader gates the background
// refresh loop in multi-node deployments; nil means always refresh.
func New(db *gorm.DB, feeds FeedSource, ingestSvc *ingest.Service, bus events.Broker, logger zerolog.Logger, refreshInterval time.Duration, isLeader func() bool) *Service {
	if isLeader == nil {
		isLeader = func() bool { return true }
	}
	return &Service{
		db:              db,
		feeds:           feeds,
		ingest:          ingestSvc,
		bus:             bus,
		logger:          logger.With().Str("component", "subscriptions").Logger(),
		refreshInterval: refreshInterval,
		isLeader:        isLeader,
	}
}

// CreateRequest carries the fields for a new subscription.
type CreateRequest struct {
	Kind         models.SubscriptionKind `json:"kind"`
	YoutubeID    string                  `json:"youtube_id"`
	Title        string                  `json:"title"`
	AutoDownload bool                    `json:"auto_download"`
}

// Create registers a new followed source for the owner.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*models.Subscription, error) {
	req.YoutubeID = strings.TrimSpace(req.YoutubeID)
	if req.YoutubeID == "" {
		return nil, fmt.Errorf("youtube id is required")
	}
	if req.Kind != models.SubscriptionChannel && req.Kind != models.SubscriptionPlaylist {
		return nil, fmt.Errorf("unknown subscription kind %q", req.Kind)
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("owner_id = ? AND kind = ? AND youtube_id = ?", ownerID, req.Kind, req.YoutubeID).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("check duplicates: %w", err)
	}
	if count > 0 {
		return nil, ErrDuplicateSubscription
	}

	sub := &models.Subscription{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		Kind:         req.Kind,
		YoutubeID:    req.YoutubeID,
		Title:        req.Title,
		AutoDownload: req.AutoDownload,
		Enabled:      true,
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	s.bus.Publish(events.EventAuditSubscriptionCreate, events.Payload{
		"subscription_id": sub.ID,
		"owner_id":        ownerID,
		"kind":            string(sub.Kind),
		"youtube_id":      sub.YoutubeID,
	})

	s.logger.Info().
		Str("subscription_id", sub.ID).
		Str("owner_id", ownerID).
		Str("kind", string(sub.Kind)).
		Msg("subscription created")

	return sub, nil
}

// Get returns one subscription, owner-scoped.
func (s *Service) Get(ctx context.Context, ownerID, subID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", subID, ownerID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// List returns the owner's subscriptions, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// UpdateRequest carries optional subscription changes.
type UpdateRequest struct {
	Title        *string `json:"title,omitempty"`
	AutoDownload *bool   `json:"auto_download,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
}

// Update applies the given changes.
func (s *Service) Update(ctx context.Context, ownerID, subID string, req UpdateRequest) (*models.Subscription, error) {
	sub, err := s.Get(ctx, ownerID, subID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.AutoDownload != nil {
		updates["auto_download"] = *req.AutoDownload
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if len(updates) == 0 {
		return sub, nil
	}

	if err := s.db.WithContext(ctx).Model(sub).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	return s.Get(ctx, ownerID, subID)
}

// Delete removes the subscription. Tracks it downloaded stay.
func (s *Service) Delete(ctx context.Context, ownerID, subID string) error {
	sub, err := s.Get(ctx, ownerID, subID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.Subscription{}, "id = ?", sub.ID).Error; err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	s.bus.Publish(events.EventAuditSubscriptionDelete, events.Payload{
		"subscription_id": sub.ID,
		"owner_id":        ownerID,
	})

	s.logger.Info().Str("subscription_id", sub.ID).Msg("subscription deleted")
	return nil
}

// RefreshResult summarizes one feed refresh.
type RefreshResult struct {
	SubscriptionID   string `json:"subscription_id"`
	ItemsInFeed      int    `json:"items_in_feed"`
	Queued           int    `json:"queued"`
	AlreadyInLibrary int    `json:"already_in_library"`
	Errors           int    `json:"errors"`
}

// Refresh fetches the subscription's feed now, queueing unseen items
// for download when auto-download is on.
func (s *Service) Refresh(ctx context.Context, ownerID, subID string) (*RefreshResult, error) {
	sub, err := s.Get(ctx, ownerID, subID)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, sub)
}

func (s *Service) refresh(ctx context.Context, sub *models.Subscription) (*RefreshResult, error) {
	feed, err := s.feeds.Fetch(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	result := &RefreshResult{
		SubscriptionID: sub.ID,
		ItemsInFeed:    len(feed.Items),
	}

	if sub.AutoDownload {
		for _, item := range feed.Items {
			_, err := s.ingest.Enqueue(ctx, sub.OwnerID, item.YoutubeID, item.Title, &sub.ID)
			switch {
			case errors.Is(err, ingest.ErrTrackExists):
				result.AlreadyInLibrary++
			case err != nil:
				s.logger.Warn().Err(err).
					Str("subscription_id", sub.ID).
					Str("youtube_id", item.YoutubeID).
					Msg("failed to queue feed item")
				result.Errors++
			default:
				result.Queued++
			}
		}
	}

	updates := map[string]any{"last_refreshed_at": time.Now()}
	if sub.Title == "" && feed.Title != "" {
		updates["title"] = feed.Title
	}
	if err := s.db.WithContext(ctx).Model(sub).Updates(updates).Error; err != nil {
		s.logger.Warn().Err(err).Str("subscription_id", sub.ID).Msg("failed to stamp refresh time")
	}

	s.bus.Publish(events.EventFeedRefreshed, events.Payload{
		"subscription_id": sub.ID,
		"owner_id":        sub.OwnerID,
		"items":           result.ItemsInFeed,
		"queued":          result.Queued,
	})

	s.logger.Info().
		Str("subscription_id", sub.ID).
		Int("items", result.ItemsInFeed).
		Int("queued", result.Queued).
		Msg("subscription refreshed")

	return result, nil
}

// RefreshAll refreshes every enabled subscription. Failures are
// isolated per subscription.
func (s *Service) RefreshAll(ctx context.Context) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("last_refreshed_at ASC").
		Find(&subs).Error
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load subscriptions for refresh")
		return
	}

	for i := range subs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := s.refresh(ctx, &subs[i]); err != nil {
			s.logger.Warn().Err(err).
				Str("subscription_id", subs[i].ID).
				Msg("subscription refresh failed")
		}
	}
}

// Run refreshes feeds on the configured interval until ctx is
// cancelled. Only the leader node refreshes; followers idle.
func (s *Service) Run(ctx context.Context) error {
	if s.refreshInterval <= 0 {
		s.logger.Warn().Msg("refresh interval not set, subscription refresh loop disabled")
		return nil
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Spread replica start times so nodes don't hit feeds in lockstep
	// after a fleet-wide restart.
	jitter := time.Duration(rng.Int63n(int64(s.refreshInterval)/10 + 1))
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(jitter):
	}

	s.logger.Info().Dur("interval", s.refreshInterval).Msg("subscription refresh loop started")

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("subscription refresh loop stopped")
			return nil
		case <-ticker.C:
			if !s.isLeader() {
				continue
			}
			s.RefreshAll(ctx)
		}
	}
}
