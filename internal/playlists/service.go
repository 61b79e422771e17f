/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlists manages smart playlists: rule-set CRUD and read-time
// evaluation against the owner's library.
package playlists

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strconv"
	"time"

	"github.com/aiulian25/soundwave/internal/cache"
	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/presets"
	"github.com/aiulian25/soundwave/internal/rules"
	"github.com/aiulian25/soundwave/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	// countFreshness bounds how stale the playlist row's cached track count
	// may get before a detail read refreshes it. The count is a hint, never
	// a correctness dependency.
	countFreshness = 5 * time.Minute

	// randomOrderWindow is how long one random-order evaluation stays
	// stable. The shuffle seed is derived from the playlist id and this
	// time bucket, so paginated reads inside the window agree even when
	// the parked order has been evicted from Redis.
	randomOrderWindow = 5 * time.Minute

	defaultPageSize = 50
	maxPageSize     = 200
)

// Service coordinates playlist persistence with the rule engine.
type Service struct {
	db     *gorm.DB
	engine *rules.Engine
	cache  *cache.Cache
	bus    events.Broker
	logger zerolog.Logger
}

// New creates a playlist service.
func New(db *gorm.DB, engine *rules.Engine, c *cache.Cache, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		engine: engine,
		cache:  c,
		bus:    bus,
		logger: logger.With().Str("component", "playlists").Logger(),
	}
}

// CreateRequest describes a new playlist.
type CreateRequest struct {
	Name           string
	Description    string
	MatchMode      models.MatchMode
	OrderBy        string
	OrderDirection string
	Limit          *int
	Rules          []rules.Rule
}

// Create validates the full rule set before any write and stores the
// playlist with its rules in one transaction.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*models.SmartPlaylist, error) {
	if req.Name == "" {
		return nil, &rules.InvalidRuleValueError{Field: "name", Value: req.Name}
	}
	if req.MatchMode != models.MatchAll && req.MatchMode != models.MatchAny {
		return nil, &rules.InvalidRuleValueError{Field: "match_mode", Value: string(req.MatchMode)}
	}
	if err := s.engine.ValidateOrdering(req.OrderBy, req.OrderDirection); err != nil {
		return nil, err
	}
	if err := s.engine.Validate(req.Rules); err != nil {
		return nil, err
	}
	if req.Limit != nil && *req.Limit < 0 {
		return nil, &rules.InvalidRuleValueError{Field: "limit", Value: strconv.Itoa(*req.Limit)}
	}

	playlist := models.SmartPlaylist{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Name:           req.Name,
		Description:    req.Description,
		MatchMode:      req.MatchMode,
		OrderBy:        req.OrderBy,
		OrderDirection: req.OrderDirection,
		Limit:          req.Limit,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.SmartPlaylist{}).
			Where("owner_id = ? AND name = ?", ownerID, req.Name).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateName
		}
		if err := tx.Create(&playlist).Error; err != nil {
			return err
		}
		return createRules(tx, playlist.ID, req.Rules)
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.EventPlaylistCreated, events.Payload{
		"owner_id":    ownerID,
		"playlist_id": playlist.ID,
	})
	return s.Get(ctx, ownerID, playlist.ID)
}

func createRules(tx *gorm.DB, playlistID string, ruleSet []rules.Rule) error {
	for i, r := range ruleSet {
		row := models.SmartPlaylistRule{
			ID:         uuid.NewString(),
			PlaylistID: playlistID,
			Field:      r.Field,
			Operator:   r.Operator,
			Value:      r.Value,
			Value2:     r.Value2,
			Position:   i,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// Get returns one owner playlist with its rules in position order.
func (s *Service) Get(ctx context.Context, ownerID, playlistID string) (*models.SmartPlaylist, error) {
	var playlist models.SmartPlaylist
	err := s.db.WithContext(ctx).
		Preload("Rules", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("owner_id = ? AND id = ?", ownerID, playlistID).
		First(&playlist).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlaylistNotFound
		}
		return nil, err
	}
	return &playlist, nil
}

// List returns the owner's playlists, system presets first. Cached counts
// are served as stored; detail reads refresh them.
func (s *Service) List(ctx context.Context, ownerID string) ([]models.SmartPlaylist, error) {
	var playlists []models.SmartPlaylist
	err := s.db.WithContext(ctx).
		Preload("Rules", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("owner_id = ?", ownerID).
		Order("is_system DESC, name ASC").
		Find(&playlists).Error
	if err != nil {
		return nil, err
	}
	return playlists, nil
}

// UpdateRequest patches playlist attributes. Nil fields stay unchanged.
type UpdateRequest struct {
	Name           *string
	Description    *string
	MatchMode      *models.MatchMode
	OrderBy        *string
	OrderDirection *string
	Limit          *int
	ClearLimit     bool
}

// Update adjusts playlist attributes. System playlists accept only ordering
// and limit changes.
func (s *Service) Update(ctx context.Context, ownerID, playlistID string, req UpdateRequest) (*models.SmartPlaylist, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist models.SmartPlaylist
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, playlistID).First(&playlist).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlaylistNotFound
			}
			return err
		}

		if playlist.IsSystem && (req.Name != nil || req.Description != nil || req.MatchMode != nil) {
			return ErrSystemPlaylistImmutable
		}

		if req.Name != nil && *req.Name != playlist.Name {
			if *req.Name == "" {
				return &rules.InvalidRuleValueError{Field: "name", Value: ""}
			}
			var clash int64
			if err := tx.Model(&models.SmartPlaylist{}).
				Where("owner_id = ? AND name = ? AND id <> ?", ownerID, *req.Name, playlistID).
				Count(&clash).Error; err != nil {
				return err
			}
			if clash > 0 {
				return ErrDuplicateName
			}
			playlist.Name = *req.Name
		}
		if req.Description != nil {
			playlist.Description = *req.Description
		}
		if req.MatchMode != nil {
			if *req.MatchMode != models.MatchAll && *req.MatchMode != models.MatchAny {
				return &rules.InvalidRuleValueError{Field: "match_mode", Value: string(*req.MatchMode)}
			}
			playlist.MatchMode = *req.MatchMode
		}
		if req.OrderBy != nil || req.OrderDirection != nil {
			orderBy := playlist.OrderBy
			direction := playlist.OrderDirection
			if req.OrderBy != nil {
				orderBy = *req.OrderBy
			}
			if req.OrderDirection != nil {
				direction = *req.OrderDirection
			}
			if err := s.engine.ValidateOrdering(orderBy, direction); err != nil {
				return err
			}
			playlist.OrderBy = orderBy
			playlist.OrderDirection = direction
		}
		if req.ClearLimit {
			playlist.Limit = nil
		} else if req.Limit != nil {
			if *req.Limit < 0 {
				return &rules.InvalidRuleValueError{Field: "limit", Value: strconv.Itoa(*req.Limit)}
			}
			playlist.Limit = req.Limit
		}

		// Any attribute change can alter membership or order.
		playlist.CachedTrackCount = nil
		playlist.CountRefreshedAt = nil

		return tx.Save(&playlist).Error
	})
	if err != nil {
		return nil, err
	}

	s.invalidateEvaluation(ctx, playlistID)
	s.bus.Publish(events.EventPlaylistUpdated, events.Payload{
		"owner_id":    ownerID,
		"playlist_id": playlistID,
	})
	return s.Get(ctx, ownerID, playlistID)
}

// ReplaceRules swaps the playlist's entire rule set atomically. The new set
// is validated before the old one is touched, so a bad rule can never leave
// a half-applied playlist behind.
func (s *Service) ReplaceRules(ctx context.Context, ownerID, playlistID string, ruleSet []rules.Rule) (*models.SmartPlaylist, error) {
	if err := s.engine.Validate(ruleSet); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist models.SmartPlaylist
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, playlistID).First(&playlist).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlaylistNotFound
			}
			return err
		}
		if playlist.IsSystem {
			return ErrSystemPlaylistImmutable
		}

		if err := tx.Where("playlist_id = ?", playlistID).Delete(&models.SmartPlaylistRule{}).Error; err != nil {
			return err
		}
		if err := createRules(tx, playlistID, ruleSet); err != nil {
			return err
		}

		playlist.CachedTrackCount = nil
		playlist.CountRefreshedAt = nil
		return tx.Save(&playlist).Error
	})
	if err != nil {
		return nil, err
	}

	s.invalidateEvaluation(ctx, playlistID)
	s.bus.Publish(events.EventPlaylistUpdated, events.Payload{
		"owner_id":    ownerID,
		"playlist_id": playlistID,
	})
	return s.Get(ctx, ownerID, playlistID)
}

// Delete removes a playlist and its rules. System playlists stay.
func (s *Service) Delete(ctx context.Context, ownerID, playlistID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist models.SmartPlaylist
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, playlistID).First(&playlist).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlaylistNotFound
			}
			return err
		}
		if playlist.IsSystem {
			return ErrSystemPlaylistImmutable
		}
		if err := tx.Where("playlist_id = ?", playlistID).Delete(&models.SmartPlaylistRule{}).Error; err != nil {
			return err
		}
		return tx.Delete(&playlist).Error
	})
	if err != nil {
		return err
	}

	s.invalidateEvaluation(ctx, playlistID)
	s.bus.Publish(events.EventPlaylistDeleted, events.Payload{
		"owner_id":    ownerID,
		"playlist_id": playlistID,
	})
	return nil
}

// EvaluationPage is one page of an evaluated playlist.
type EvaluationPage struct {
	TrackIDs   []string       `json:"track_ids"`
	Tracks     []models.Track `json:"tracks,omitempty"`
	TotalCount int64          `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	HasMore    bool           `json:"has_more"`
}

// Evaluate runs the playlist's rules and returns one page of results.
// Random-ordered evaluations park their shuffled id order so pages of the
// same evaluation agree; the parked order is a fast path, not a dependency.
func (s *Service) Evaluate(ctx context.Context, ownerID, playlistID string, page, pageSize int, includeTracks bool) (*EvaluationPage, error) {
	playlist, err := s.Get(ctx, ownerID, playlistID)
	if err != nil {
		return nil, err
	}

	def := s.definitionFor(playlist)

	var ids []string
	random := playlist.OrderBy == models.OrderRandom
	if random {
		if parked, ok := s.cache.GetPlaylistOrder(ctx, playlist.ID); ok {
			ids = parked
		}
	}
	if ids == nil {
		evalCtx, span := telemetry.StartSpan(ctx, "playlist.evaluate",
			attribute.String("playlist.id", playlist.ID))
		ids, err = s.engine.Evaluate(evalCtx, ownerID, def)
		telemetry.EndSpan(span, err)
		if err != nil {
			return nil, err
		}
		telemetry.PlaylistEvaluationsTotal.Inc()
		if random {
			if err := s.cache.SetPlaylistOrder(ctx, playlist.ID, ids); err != nil {
				s.logger.Debug().Err(err).Str("playlist_id", playlist.ID).Msg("could not park playlist order")
			}
		}
	}

	s.refreshCachedCount(ctx, playlist, int64(len(ids)))

	result := paginate(ids, page, pageSize)
	if includeTracks {
		tracks, err := s.tracksInOrder(ctx, ownerID, result.TrackIDs)
		if err != nil {
			return nil, err
		}
		result.Tracks = tracks
	}
	return result, nil
}

// PreviewRequest evaluates a transient rule set without persisting anything.
type PreviewRequest struct {
	Rules          []rules.Rule
	MatchMode      models.MatchMode
	OrderBy        string
	OrderDirection string
	Limit          *int
}

// Preview validates strictly and evaluates without touching stored state,
// so a client can try rules before saving them.
func (s *Service) Preview(ctx context.Context, ownerID string, req PreviewRequest, page, pageSize int) (*EvaluationPage, error) {
	if req.MatchMode != models.MatchAll && req.MatchMode != models.MatchAny {
		return nil, &rules.InvalidRuleValueError{Field: "match_mode", Value: string(req.MatchMode)}
	}
	if err := s.engine.ValidateOrdering(req.OrderBy, req.OrderDirection); err != nil {
		return nil, err
	}
	if err := s.engine.Validate(req.Rules); err != nil {
		return nil, err
	}

	def := rules.Definition{
		Rules:          req.Rules,
		MatchMode:      req.MatchMode,
		OrderBy:        req.OrderBy,
		OrderDirection: req.OrderDirection,
		Limit:          req.Limit,
	}
	ids, err := s.engine.Evaluate(ctx, ownerID, def)
	if err != nil {
		return nil, err
	}

	result := paginate(ids, page, pageSize)
	tracks, err := s.tracksInOrder(ctx, ownerID, result.TrackIDs)
	if err != nil {
		return nil, err
	}
	result.Tracks = tracks
	return result, nil
}

// TrackCount returns the playlist's match count, serving the stored hint
// when it is fresh and refreshing it through the engine when it is not.
func (s *Service) TrackCount(ctx context.Context, ownerID, playlistID string) (int64, error) {
	playlist, err := s.Get(ctx, ownerID, playlistID)
	if err != nil {
		return 0, err
	}

	if playlist.CachedTrackCount != nil && playlist.CountRefreshedAt != nil &&
		time.Since(*playlist.CountRefreshedAt) < countFreshness {
		return *playlist.CachedTrackCount, nil
	}

	count, err := s.engine.Count(ctx, ownerID, s.definitionFor(playlist))
	if err != nil {
		return 0, err
	}
	s.refreshCachedCount(ctx, playlist, count)
	return count, nil
}

// EnsureSystemPlaylists seeds the built-in presets for an owner. Existing
// system playlists are left alone, so user-tuned ordering and limits
// survive restarts.
func (s *Service) EnsureSystemPlaylists(ctx context.Context, ownerID string) error {
	defaults, err := presets.Defaults()
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, preset := range defaults {
			var existing int64
			if err := tx.Model(&models.SmartPlaylist{}).
				Where("owner_id = ? AND name = ? AND is_system = ?", ownerID, preset.Name, true).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				continue
			}

			playlist := models.SmartPlaylist{
				ID:             uuid.NewString(),
				OwnerID:        ownerID,
				Name:           preset.Name,
				Description:    preset.Description,
				MatchMode:      models.MatchMode(preset.MatchMode),
				OrderBy:        preset.OrderBy,
				OrderDirection: preset.OrderDirection,
				Limit:          preset.Limit,
				IsSystem:       true,
			}
			if err := tx.Create(&playlist).Error; err != nil {
				return err
			}

			ruleSet := make([]rules.Rule, 0, len(preset.Rules))
			for _, r := range preset.Rules {
				ruleSet = append(ruleSet, rules.Rule{
					Field: r.Field, Operator: r.Operator, Value: r.Value, Value2: r.Value2,
				})
			}
			if err := createRules(tx, playlist.ID, ruleSet); err != nil {
				return err
			}
		}
		return nil
	})
}

// definitionFor maps a stored playlist to an engine definition. The random
// seed is pinned to a time bucket so repeated evaluations inside the window
// shuffle identically.
func (s *Service) definitionFor(playlist *models.SmartPlaylist) rules.Definition {
	ruleSet := make([]rules.Rule, 0, len(playlist.Rules))
	stored := append([]models.SmartPlaylistRule(nil), playlist.Rules...)
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Position < stored[j].Position })
	for _, r := range stored {
		ruleSet = append(ruleSet, rules.Rule{
			Field: r.Field, Operator: r.Operator, Value: r.Value, Value2: r.Value2,
		})
	}

	return rules.Definition{
		Rules:          ruleSet,
		MatchMode:      playlist.MatchMode,
		OrderBy:        playlist.OrderBy,
		OrderDirection: playlist.OrderDirection,
		Limit:          playlist.Limit,
		Seed:           shuffleSeed(playlist.ID, time.Now()),
	}
}

func shuffleSeed(playlistID string, now time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(playlistID))
	bucket := now.Unix() / int64(randomOrderWindow/time.Second)
	return int64(h.Sum64()) ^ bucket
}

// refreshCachedCount writes the count hint back onto the playlist row when
// stale. Failures only log; the hint must never break a read.
func (s *Service) refreshCachedCount(ctx context.Context, playlist *models.SmartPlaylist, count int64) {
	if playlist.CachedTrackCount != nil && playlist.CountRefreshedAt != nil &&
		*playlist.CachedTrackCount == count &&
		time.Since(*playlist.CountRefreshedAt) < countFreshness {
		return
	}

	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.SmartPlaylist{}).
		Where("id = ?", playlist.ID).
		Updates(map[string]any{
			"cached_track_count": count,
			"count_refreshed_at": now,
		}).Error
	if err != nil {
		s.logger.Warn().Err(err).Str("playlist_id", playlist.ID).Msg("could not refresh cached track count")
		return
	}
	playlist.CachedTrackCount = &count
	playlist.CountRefreshedAt = &now
}

func (s *Service) invalidateEvaluation(ctx context.Context, playlistID string) {
	if err := s.cache.InvalidatePlaylistOrder(ctx, playlistID); err != nil {
		s.logger.Debug().Err(err).Str("playlist_id", playlistID).Msg("could not invalidate parked order")
	}
}

// tracksInOrder loads the named tracks and returns them in id order.
// Tracks deleted since the evaluation are dropped silently.
func (s *Service) tracksInOrder(ctx context.Context, ownerID string, ids []string) ([]models.Track, error) {
	if len(ids) == 0 {
		return []models.Track{}, nil
	}

	var tracks []models.Track
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Find(&tracks).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]models.Track, len(tracks))
	for _, track := range tracks {
		byID[track.ID] = track
	}

	ordered := make([]models.Track, 0, len(ids))
	for _, id := range ids {
		if track, ok := byID[id]; ok {
			ordered = append(ordered, track)
		}
	}
	return ordered, nil
}

func paginate(ids []string, page, pageSize int) *EvaluationPage {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	total := len(ids)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return &EvaluationPage{
		TrackIDs:   append([]string(nil), ids[start:end]...),
		TotalCount: int64(total),
		Page:       page,
		PageSize:   pageSize,
		HasMore:    end < total,
	}
}
