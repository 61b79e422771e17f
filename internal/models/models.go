package models

import "time"

// User represents an authenticated library owner.
type User struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email       string    `gorm:"uniqueIndex" json:"email"`
	DisplayName string    `json:"display_name"`
	Password    string    `json:"-"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TrackStatus tracks the lifecycle of a library entry's audio file.
type TrackStatus string

const (
	TrackPending TrackStatus = "pending"
	TrackReady   TrackStatus = "ready"
	TrackMissing TrackStatus = "missing"
)

// Track is a single owned audio item in a user's library.
// Immutable once downloaded except play_count, last_played_at,
// is_favorite and status.
type Track struct {
	ID              string      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID         string      `gorm:"type:uuid;not null;uniqueIndex:idx_tracks_owner_video" json:"owner_id"`
	YoutubeID       string      `gorm:"uniqueIndex:idx_tracks_owner_video" json:"youtube_id"`
	Title           string      `gorm:"index" json:"title"`
	Artist          string      `gorm:"index" json:"artist"`
	Album           string      `json:"album"`
	Genre           string      `json:"genre"`
	Year            int         `json:"year"`
	ChannelID       string      `gorm:"index" json:"channel_id"`
	ChannelName     string      `gorm:"index" json:"channel_name"`
	DurationSeconds int         `json:"duration_seconds"`
	PlayCount       int         `json:"play_count"`
	LastPlayedAt    *time.Time  `json:"last_played_at,omitempty"`
	IsFavorite      bool        `json:"is_favorite"`
	AddedAt         time.Time   `gorm:"index" json:"added_at"`
	StoragePath     string      `json:"-"`
	FileSizeBytes   int64       `json:"file_size_bytes"`
	Status          TrackStatus `gorm:"type:varchar(16)" json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// MatchMode combines a playlist's rules with AND or OR semantics.
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// OrderRandom as an order_by value requests one stable shuffle per evaluation.
const OrderRandom = "random"

// SmartPlaylist is a saved, named rule set evaluated at read time.
type SmartPlaylist struct {
	ID               string              `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID          string              `gorm:"type:uuid;index:idx_playlists_owner_name,unique" json:"owner_id"`
	Name             string              `gorm:"index:idx_playlists_owner_name,unique" json:"name"`
	Description      string              `gorm:"type:text" json:"description"`
	MatchMode        MatchMode           `gorm:"type:varchar(8)" json:"match_mode"`
	OrderBy          string              `gorm:"type:varchar(32)" json:"order_by"`
	OrderDirection   string              `gorm:"type:varchar(8)" json:"order_direction"`
	Limit            *int                `json:"limit,omitempty"`
	IsSystem         bool                `json:"is_system"`
	CachedTrackCount *int64              `json:"cached_track_count,omitempty"`
	CountRefreshedAt *time.Time          `json:"count_refreshed_at,omitempty"`
	Rules            []SmartPlaylistRule `gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE" json:"rules"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// SmartPlaylistRule is one (field, operator, value[, value_2]) predicate.
type SmartPlaylistRule struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	PlaylistID string    `gorm:"type:uuid;index;not null" json:"playlist_id"`
	Field      string    `gorm:"type:varchar(32)" json:"field"`
	Operator   string    `gorm:"type:varchar(32)" json:"operator"`
	Value      string    `json:"value"`
	Value2     string    `json:"value_2,omitempty"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// RadioMode selects the candidate generation strategy for a session.
type RadioMode string

const (
	RadioModeTrack     RadioMode = "track"
	RadioModeArtist    RadioMode = "artist"
	RadioModeFavorites RadioMode = "favorites"
	RadioModeDiscovery RadioMode = "discovery"
	RadioModeRecent    RadioMode = "recent"
)

// Bounds for the session's FIFO-trimmed learning lists.
const (
	MaxPlayedHistory  = 50
	MaxSkippedHistory = 30
	MaxChannelPrefs   = 20
)

// RadioSession is the per-user radio state. Exactly one row per owner;
// replaced on start, mutated on next/skip/feedback, deactivated on stop.
type RadioSession struct {
	ID               string     `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID          string     `gorm:"type:uuid;uniqueIndex;not null" json:"owner_id"`
	Active           bool       `json:"active"`
	Mode             RadioMode  `gorm:"type:varchar(16)" json:"mode"`
	SeedTrackID      string     `gorm:"type:uuid" json:"seed_track_id,omitempty"`
	SeedChannelID    string     `json:"seed_channel_id,omitempty"`
	SeedTitle        string     `json:"seed_title,omitempty"`
	CurrentTrackID   string     `gorm:"type:uuid" json:"current_track_id,omitempty"`
	PlayedTrackIDs   StringList `gorm:"type:text" json:"played_track_ids"`
	SkippedTrackIDs  StringList `gorm:"type:text" json:"skipped_track_ids"`
	LikedChannels    StringList `gorm:"type:text" json:"liked_channels"`
	DislikedChannels StringList `gorm:"type:text" json:"disliked_channels"`
	VarietyLevel     int        `json:"variety_level"`
	TotalPlayed      int        `json:"total_played"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RecordPlayed appends the track to the played history, FIFO-trimmed,
// and makes it the current track.
func (s *RadioSession) RecordPlayed(trackID string) {
	s.PlayedTrackIDs = s.PlayedTrackIDs.PushBounded(trackID, MaxPlayedHistory)
	s.CurrentTrackID = trackID
	s.TotalPlayed++
}

// RecordSkipped appends the track to the skipped history, FIFO-trimmed.
func (s *RadioSession) RecordSkipped(trackID string) {
	s.SkippedTrackIDs = s.SkippedTrackIDs.PushBounded(trackID, MaxSkippedHistory)
}

// MarkChannelLiked adds the channel to the liked set and removes it from
// the disliked set. Both lists stay FIFO-bounded.
func (s *RadioSession) MarkChannelLiked(channelID string) {
	if channelID == "" {
		return
	}
	s.DislikedChannels = s.DislikedChannels.Remove(channelID)
	if !s.LikedChannels.Contains(channelID) {
		s.LikedChannels = s.LikedChannels.PushBounded(channelID, MaxChannelPrefs)
	}
}

// MarkChannelDisliked adds the channel to the disliked set and removes it
// from the liked set. Both lists stay FIFO-bounded.
func (s *RadioSession) MarkChannelDisliked(channelID string) {
	if channelID == "" {
		return
	}
	s.LikedChannels = s.LikedChannels.Remove(channelID)
	if !s.DislikedChannels.Contains(channelID) {
		s.DislikedChannels = s.DislikedChannels.PushBounded(channelID, MaxChannelPrefs)
	}
}

// FeedbackType classifies a radio feedback event.
type FeedbackType string

const (
	FeedbackLike          FeedbackType = "like"
	FeedbackDislike       FeedbackType = "dislike"
	FeedbackSkip          FeedbackType = "skip"
	FeedbackPlayedThrough FeedbackType = "played_through"
)

// RadioTrackFeedback is an immutable append-only log of listening signals.
// Written on every skip/feedback event; not read back by the selector.
type RadioTrackFeedback struct {
	ID             string       `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID        string       `gorm:"type:uuid;index;not null" json:"owner_id"`
	TrackID        string       `gorm:"type:uuid;index" json:"track_id"`
	ChannelID      string       `json:"channel_id"`
	FeedbackType   FeedbackType `gorm:"type:varchar(16)" json:"feedback_type"`
	ListenDuration float64      `json:"listen_duration"`
	TrackDuration  float64      `json:"track_duration"`
	CreatedAt      time.Time    `json:"created_at"`
}

// PlaySource attributes a play event to the surface that produced it.
type PlaySource string

const (
	PlaySourceRadio    PlaySource = "radio"
	PlaySourcePlaylist PlaySource = "playlist"
	PlaySourceLibrary  PlaySource = "library"
)

// PlayHistory stores one row per completed play event.
type PlayHistory struct {
	ID        string     `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID   string     `gorm:"type:uuid;index;not null" json:"owner_id"`
	TrackID   string     `gorm:"type:uuid;index" json:"track_id"`
	Title     string     `json:"title"`
	ChannelID string     `json:"channel_id"`
	Source    PlaySource `gorm:"type:varchar(16)" json:"source"`
	PlayedAt  time.Time  `gorm:"index" json:"played_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// SubscriptionKind distinguishes channel from playlist subscriptions.
type SubscriptionKind string

const (
	SubscriptionChannel  SubscriptionKind = "channel"
	SubscriptionPlaylist SubscriptionKind = "playlist"
)

// Subscription tracks a YouTube channel or playlist the owner follows.
type Subscription struct {
	ID              string           `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID         string           `gorm:"type:uuid;index;not null" json:"owner_id"`
	Kind            SubscriptionKind `gorm:"type:varchar(16)" json:"kind"`
	YoutubeID       string           `gorm:"index" json:"youtube_id"`
	Title           string           `json:"title"`
	AutoDownload    bool             `json:"auto_download"`
	Enabled         bool             `json:"enabled"`
	LastRefreshedAt *time.Time       `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IngestJobStatus tracks download job progress.
type IngestJobStatus string

const (
	IngestPending   IngestJobStatus = "pending"
	IngestFetching  IngestJobStatus = "fetching"
	IngestCompleted IngestJobStatus = "completed"
	IngestFailed    IngestJobStatus = "failed"
)

// IngestJob records one requested download of a YouTube item.
type IngestJob struct {
	ID             string          `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID        string          `gorm:"type:uuid;index;not null" json:"owner_id"`
	SubscriptionID *string         `gorm:"type:uuid;index" json:"subscription_id,omitempty"`
	YoutubeID      string          `gorm:"index" json:"youtube_id"`
	Title          string          `json:"title"`
	Status         IngestJobStatus `gorm:"type:varchar(16);index" json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
