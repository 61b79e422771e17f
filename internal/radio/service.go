/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package radio implements the smart radio next-track selection service.
package radio

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// earlySkipRatio marks a skip as a dislike signal when less than this share
// of the track was heard.
const earlySkipRatio = 0.3

// Service owns the per-user radio session state machine.
type Service struct {
	db              *gorm.DB
	bus             events.Broker
	logger          zerolog.Logger
	dropProbability float64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a radio service. dropProbability is the chance a disliked
// channel's track is removed from the candidate pool on each draw.
func New(db *gorm.DB, bus events.Broker, logger zerolog.Logger, dropProbability float64) *Service {
	return &Service{
		db:              db,
		bus:             bus,
		logger:          logger.With().Str("component", "radio").Logger(),
		dropProbability: dropProbability,
		locks:           make(map[string]*sync.Mutex),
	}
}

// ownerLock serializes session mutations per owner. Rapid duplicate requests
// (double-click, multiple tabs) read-modify-write the same row; without this
// the later write clobbers the earlier one.
func (s *Service) ownerLock(ownerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[ownerID] = lock
	}
	return lock
}

// lockedSession applies row locking where the backend supports it. SQLite
// serializes writers already; FOR UPDATE is not in its grammar.
func lockedSession(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// StartRequest configures a new radio session.
type StartRequest struct {
	Mode         models.RadioMode
	SeedTrackID  string
	VarietyLevel int
}

// Start creates or replaces the owner's singleton session and activates it.
func (s *Service) Start(ctx context.Context, ownerID string, req StartRequest) (*models.RadioSession, error) {
	switch req.Mode {
	case models.RadioModeTrack, models.RadioModeArtist,
		models.RadioModeFavorites, models.RadioModeDiscovery, models.RadioModeRecent:
	default:
		return nil, ErrInvalidMode
	}

	variety := req.VarietyLevel
	if variety < 0 {
		variety = 0
	}
	if variety > 100 {
		variety = 100
	}

	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	var session models.RadioSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seed *models.Track
		if req.Mode == models.RadioModeTrack || req.Mode == models.RadioModeArtist {
			var track models.Track
			if err := tx.Where("owner_id = ? AND id = ?", ownerID, req.SeedTrackID).First(&track).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrTrackNotFound
				}
				return err
			}
			seed = &track
		}

		if err := lockedSession(tx).Where("owner_id = ?", ownerID).First(&session).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			session = models.RadioSession{ID: uuid.NewString(), OwnerID: ownerID}
		}

		session.Active = true
		session.Mode = req.Mode
		session.VarietyLevel = variety
		session.SeedTrackID = ""
		session.SeedChannelID = ""
		session.SeedTitle = ""
		session.CurrentTrackID = ""
		session.PlayedTrackIDs = models.StringList{}
		session.SkippedTrackIDs = models.StringList{}
		session.LikedChannels = models.StringList{}
		session.DislikedChannels = models.StringList{}
		session.TotalPlayed = 0

		if seed != nil {
			session.SeedChannelID = seed.ChannelID
			session.SeedTitle = seed.Title
			if req.Mode == models.RadioModeTrack {
				// In artist mode the channel is the anchor; the seed track
				// itself stays eligible.
				session.SeedTrackID = seed.ID
			}
		}

		return tx.Save(&session).Error
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.EventRadioStarted, events.Payload{
		"owner_id": ownerID,
		"mode":     string(session.Mode),
		"seed":     session.SeedTitle,
	})

	return &session, nil
}

// NextResult is one advance of the radio queue.
type NextResult struct {
	Track         models.Track     `json:"track"`
	Reason        string           `json:"reason"`
	QueuePosition int              `json:"queue_position"`
	TotalPlayed   int              `json:"total_played"`
	Mode          models.RadioMode `json:"mode"`
	SeedTitle     string           `json:"seed_title,omitempty"`
}

// Next picks the next track for the owner's active session and records it in
// the play history window. Selection failures leave the session untouched.
func (s *Service) Next(ctx context.Context, ownerID string) (*NextResult, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	spanCtx, span := telemetry.StartSpan(ctx, "radio.next")

	var result NextResult
	err := s.db.WithContext(spanCtx).Transaction(func(tx *gorm.DB) error {
		session, err := s.activeSession(tx, ownerID)
		if err != nil {
			return err
		}

		var catalog []models.Track
		if err := tx.Where("owner_id = ? AND status = ?", ownerID, models.TrackReady).Find(&catalog).Error; err != nil {
			return err
		}
		if len(catalog) == 0 {
			return ErrNoTracksAvailable
		}

		eligible := filterExcluded(catalog, exclusionSet(session))
		if len(eligible) == 0 {
			// The exclusion window swallowed the whole library. Relax to
			// everything but the current track so small libraries keep
			// playing instead of erroring out.
			eligible = filterExcluded(catalog, map[string]struct{}{session.CurrentTrackID: {}})
		}
		if len(eligible) == 0 {
			eligible = catalog
		}

		seedDuration := 0
		if session.SeedTrackID != "" {
			var seed models.Track
			if err := tx.Where("owner_id = ? AND id = ?", ownerID, session.SeedTrackID).First(&seed).Error; err == nil {
				seedDuration = seed.DurationSeconds
			}
		}

		pool := dropDisliked(rng, eligible, session.DislikedChannels, s.dropProbability)
		candidates := generateCandidates(rng, session, seedDuration, pool)

		selected, ok := drawWeighted(rng, candidates, session.LikedChannels)
		if !ok {
			// No mode candidate survived; fall back to a uniform draw over
			// the exclusion-filtered catalog.
			selected = Candidate{
				Track:  eligible[rng.Intn(len(eligible))],
				Reason: "Picked from your library",
			}
		}

		session.RecordPlayed(selected.Track.ID)
		if err := tx.Save(session).Error; err != nil {
			return err
		}

		result = NextResult{
			Track:         selected.Track,
			Reason:        selected.Reason,
			QueuePosition: session.TotalPlayed,
			TotalPlayed:   session.TotalPlayed,
			Mode:          session.Mode,
			SeedTitle:     session.SeedTitle,
		}
		return nil
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	telemetry.RadioSelectionsTotal.WithLabelValues(string(result.Mode)).Inc()

	s.bus.Publish(events.EventRadioAdvanced, events.Payload{
		"owner_id": ownerID,
		"track_id": result.Track.ID,
		"title":    result.Track.Title,
		"reason":   result.Reason,
	})
	s.bus.Publish(events.EventTrackPlayed, events.Payload{
		"owner_id":   ownerID,
		"track_id":   result.Track.ID,
		"title":      result.Track.Title,
		"channel_id": result.Track.ChannelID,
		"source":     string(models.PlaySourceRadio),
	})

	return &result, nil
}

// Skip records a skipped track. Skipping early marks the track's channel as
// disliked and writes a feedback row either way.
func (s *Service) Skip(ctx context.Context, ownerID, trackID string, listenDuration, trackDuration float64) error {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.activeSession(tx, ownerID)
		if err != nil {
			return err
		}

		session.RecordSkipped(trackID)

		channelID := s.trackChannel(tx, ownerID, trackID)
		earlySkip := trackDuration > 0 && listenDuration/trackDuration < earlySkipRatio
		if earlySkip && channelID != "" {
			session.MarkChannelDisliked(channelID)
		}

		if err := s.appendFeedback(tx, ownerID, trackID, channelID, models.FeedbackSkip, listenDuration, trackDuration); err != nil {
			return err
		}

		return tx.Save(session).Error
	})
}

// Feedback records an explicit listening signal and adjusts the channel
// preference lists.
func (s *Service) Feedback(ctx context.Context, ownerID, trackID string, feedbackType models.FeedbackType, listenDuration, trackDuration float64) error {
	switch feedbackType {
	case models.FeedbackLike, models.FeedbackDislike, models.FeedbackSkip, models.FeedbackPlayedThrough:
	default:
		return ErrInvalidFeedback
	}

	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.activeSession(tx, ownerID)
		if err != nil {
			return err
		}

		channelID := s.trackChannel(tx, ownerID, trackID)
		switch feedbackType {
		case models.FeedbackLike, models.FeedbackPlayedThrough:
			session.MarkChannelLiked(channelID)
		case models.FeedbackDislike:
			session.MarkChannelDisliked(channelID)
		case models.FeedbackSkip:
			session.RecordSkipped(trackID)
			if trackDuration > 0 && listenDuration/trackDuration < earlySkipRatio {
				session.MarkChannelDisliked(channelID)
			}
		}

		if err := s.appendFeedback(tx, ownerID, trackID, channelID, feedbackType, listenDuration, trackDuration); err != nil {
			return err
		}

		return tx.Save(session).Error
	})
}

// Stop deactivates the owner's session. History and learned preferences stay
// on the row for inspection until the next start replaces them.
func (s *Service) Stop(ctx context.Context, ownerID string) error {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.RadioSession
		if err := lockedSession(tx).Where("owner_id = ?", ownerID).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		session.Active = false
		return tx.Save(&session).Error
	})
	if err != nil {
		return err
	}

	s.bus.Publish(events.EventRadioStopped, events.Payload{"owner_id": ownerID})
	return nil
}

// Status returns the owner's session row, active or not.
func (s *Service) Status(ctx context.Context, ownerID string) (*models.RadioSession, error) {
	var session models.RadioSession
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *Service) activeSession(tx *gorm.DB, ownerID string) (*models.RadioSession, error) {
	var session models.RadioSession
	if err := lockedSession(tx).Where("owner_id = ? AND active = ?", ownerID, true).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// trackChannel resolves a track's channel for preference learning. A missing
// track is not an error here; the signal is simply unattributable.
func (s *Service) trackChannel(tx *gorm.DB, ownerID, trackID string) string {
	var track models.Track
	if err := tx.Where("owner_id = ? AND id = ?", ownerID, trackID).First(&track).Error; err != nil {
		return ""
	}
	return track.ChannelID
}

func (s *Service) appendFeedback(tx *gorm.DB, ownerID, trackID, channelID string, feedbackType models.FeedbackType, listenDuration, trackDuration float64) error {
	return tx.Create(&models.RadioTrackFeedback{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		TrackID:        trackID,
		ChannelID:      channelID,
		FeedbackType:   feedbackType,
		ListenDuration: listenDuration,
		TrackDuration:  trackDuration,
	}).Error
}
