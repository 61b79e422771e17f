/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package importer performs the one-shot migration out of the legacy web
// app's database. It reads the old schema directly (users, tracks,
// playlists, playlist_rules, play_history) and rewrites every row into
// soundwave's own store, rekeying integer ids to uuids along the way.
// Small installs of the old app ran on SQLite, bigger ones on PostgreSQL,
// so both are accepted as sources.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/rules"
)

// Options controls what the import touches.
type Options struct {
	// DryRun walks the whole legacy database and reports stats without
	// writing anything.
	DryRun bool

	SkipUsers     bool
	SkipTracks    bool
	SkipPlaylists bool
	SkipHistory   bool

	// TargetOwnerID imports every legacy account's content under one
	// existing soundwave user instead of recreating the accounts. Required
	// when SkipUsers is set.
	TargetOwnerID string
}

func (o Options) validate() error {
	if o.SkipUsers && o.TargetOwnerID == "" {
		return fmt.Errorf("skip-users requires a target owner id")
	}
	return nil
}

// Stats counts what the import did, per entity.
type Stats struct {
	UsersImported     int
	TracksImported    int
	PlaylistsImported int
	RulesImported     int
	RulesSkipped      int
	HistoryImported   int
	ErrorsEncountered int
}

// Progress is a point-in-time snapshot of a running import.
type Progress struct {
	Step       int
	TotalSteps int
	Message    string
	Percentage float64
}

// ProgressCallback receives progress snapshots during Run.
type ProgressCallback func(Progress)

// Importer copies a legacy library into the soundwave database.
type Importer struct {
	db       *gorm.DB
	rules    *rules.Engine
	logger   zerolog.Logger
	options  Options
	stats    Stats
	progress ProgressCallback

	userIDs  map[int64]string
	trackIDs map[int64]string
}

// New creates an importer writing into db.
func New(db *gorm.DB, logger zerolog.Logger, options Options) *Importer {
	return &Importer{
		db:       db,
		rules:    rules.New(db, logger),
		logger:   logger.With().Str("component", "importer").Logger(),
		options:  options,
		userIDs:  make(map[int64]string),
		trackIDs: make(map[int64]string),
	}
}

// SetProgressCallback registers a callback for progress snapshots.
func (i *Importer) SetProgressCallback(callback ProgressCallback) {
	i.progress = callback
}

// Run connects to the legacy database at dsn and imports everything the
// options allow, in dependency order: users, tracks, playlists, history.
func (i *Importer) Run(ctx context.Context, dsn string) (*Stats, error) {
	if err := i.options.validate(); err != nil {
		return nil, err
	}

	i.logger.Info().
		Str("dsn", maskDSN(dsn)).
		Bool("dry_run", i.options.DryRun).
		Msg("starting legacy import")

	i.reportProgress(1, 6, "Connecting to legacy database")
	src, err := sql.Open(legacyDriver(dsn), dsn)
	if err != nil {
		return nil, fmt.Errorf("open legacy db: %w", err)
	}
	defer src.Close()

	if err := src.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping legacy db: %w", err)
	}

	if i.options.SkipUsers || i.options.TargetOwnerID != "" {
		i.logger.Info().Str("target_owner", i.options.TargetOwnerID).Msg("skipping user accounts")
	} else {
		i.reportProgress(2, 6, "Importing users")
		if err := i.importUsers(ctx, src); err != nil {
			return nil, fmt.Errorf("import users: %w", err)
		}
	}

	if !i.options.SkipTracks {
		i.reportProgress(3, 6, "Importing tracks")
		if err := i.importTracks(ctx, src); err != nil {
			return nil, fmt.Errorf("import tracks: %w", err)
		}
	}

	if !i.options.SkipPlaylists {
		i.reportProgress(4, 6, "Importing playlists")
		if err := i.importPlaylists(ctx, src); err != nil {
			return nil, fmt.Errorf("import playlists: %w", err)
		}
	}

	if !i.options.SkipHistory {
		if i.options.SkipTracks {
			i.logger.Warn().Msg("play history references tracks, skipping it because tracks are skipped")
		} else {
			i.reportProgress(5, 6, "Importing play history")
			if err := i.importHistory(ctx, src); err != nil {
				return nil, fmt.Errorf("import history: %w", err)
			}
		}
	}

	i.reportProgress(6, 6, "Import completed")

	i.logger.Info().
		Interface("stats", i.stats).
		Msg("legacy import completed")

	return &i.stats, nil
}

type legacyUser struct {
	ID      int64
	Email   string
	Name    sql.NullString
	IsAdmin bool
	Created time.Time
}

// importUsers reads the legacy users table. Password hashes are not
// portable between the two schemes, so accounts come over with a random
// password and must be reset.
func (i *Importer) importUsers(ctx context.Context, src *sql.DB) error {
	rows, err := src.QueryContext(ctx, `
		SELECT id, email, name, is_admin, created_at
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u legacyUser
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.Created); err != nil {
			i.logger.Error().Err(err).Msg("scan user")
			i.stats.ErrorsEncountered++
			continue
		}
		if err := i.createUser(ctx, u); err != nil {
			i.logger.Error().Err(err).Str("email", u.Email).Msg("create user")
			i.stats.ErrorsEncountered++
		}
	}

	i.logger.Warn().Msg("imported users require a password reset, legacy hashes are not carried over")
	return rows.Err()
}

func (i *Importer) createUser(ctx context.Context, u legacyUser) error {
	user := &models.User{
		ID:          uuid.NewString(),
		Email:       strings.ToLower(u.Email),
		DisplayName: u.Name.String,
		Password:    uuid.NewString(),
		IsAdmin:     u.IsAdmin,
		CreatedAt:   u.Created,
	}

	if !i.options.DryRun {
		if err := i.db.WithContext(ctx).Create(user).Error; err != nil {
			return err
		}
	}

	i.userIDs[u.ID] = user.ID
	i.stats.UsersImported++
	return nil
}

type legacyTrack struct {
	ID          int64
	UserID      int64
	VideoID     string
	Title       string
	Artist      sql.NullString
	Album       sql.NullString
	Genre       sql.NullString
	Year        sql.NullInt64
	ChannelID   sql.NullString
	ChannelName sql.NullString
	Duration    sql.NullInt64
	FilePath    sql.NullString
	FileSize    sql.NullInt64
	PlayCount   int
	LastPlayed  sql.NullTime
	IsFavorite  bool
	Status      sql.NullString
	Created     time.Time
}

func (i *Importer) importTracks(ctx context.Context, src *sql.DB) error {
	rows, err := src.QueryContext(ctx, `
		SELECT id, user_id, video_id, title, artist, album, genre, year,
		       channel_id, channel_name, duration, file_path, file_size,
		       play_count, last_played_at, is_favorite, status, created_at
		FROM tracks
		ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t legacyTrack
		if err := rows.Scan(&t.ID, &t.UserID, &t.VideoID, &t.Title, &t.Artist,
			&t.Album, &t.Genre, &t.Year, &t.ChannelID, &t.ChannelName,
			&t.Duration, &t.FilePath, &t.FileSize, &t.PlayCount,
			&t.LastPlayed, &t.IsFavorite, &t.Status, &t.Created); err != nil {
			i.logger.Error().Err(err).Msg("scan track")
			i.stats.ErrorsEncountered++
			continue
		}
		if err := i.createTrack(ctx, t); err != nil {
			i.logger.Error().Err(err).Str("video_id", t.VideoID).Msg("create track")
			i.stats.ErrorsEncountered++
		}

		if i.stats.TracksImported > 0 && i.stats.TracksImported%100 == 0 {
			i.logger.Info().Int("count", i.stats.TracksImported).Msg("imported tracks")
		}
	}

	return rows.Err()
}

func (i *Importer) createTrack(ctx context.Context, t legacyTrack) error {
	ownerID, err := i.ownerFor(t.UserID)
	if err != nil {
		return err
	}

	track := &models.Track{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		YoutubeID:       t.VideoID,
		Title:           t.Title,
		Artist:          t.Artist.String,
		Album:           t.Album.String,
		Genre:           t.Genre.String,
		Year:            int(t.Year.Int64),
		ChannelID:       t.ChannelID.String,
		ChannelName:     t.ChannelName.String,
		DurationSeconds: int(t.Duration.Int64),
		PlayCount:       t.PlayCount,
		IsFavorite:      t.IsFavorite,
		AddedAt:         t.Created,
		StoragePath:     t.FilePath.String,
		FileSizeBytes:   t.FileSize.Int64,
		Status:          mapLegacyStatus(t.Status.String, t.FilePath.String),
	}
	if t.LastPlayed.Valid {
		at := t.LastPlayed.Time
		track.LastPlayedAt = &at
	}

	if !i.options.DryRun {
		if err := i.db.WithContext(ctx).Create(track).Error; err != nil {
			return err
		}
	}

	i.trackIDs[t.ID] = track.ID
	i.stats.TracksImported++
	return nil
}

type legacyPlaylist struct {
	ID          int64
	UserID      int64
	Name        string
	Description sql.NullString
	MatchAny    bool
	SortField   sql.NullString
	SortDesc    bool
	MaxTracks   sql.NullInt64
}

type legacyRule struct {
	Field      string
	Operator   string
	Value      sql.NullString
	ExtraValue sql.NullString
	Position   int
}

func (i *Importer) importPlaylists(ctx context.Context, src *sql.DB) error {
	rows, err := src.QueryContext(ctx, `
		SELECT id, user_id, name, description, match_any, sort_field, sort_desc, max_tracks
		FROM playlists
		ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("query playlists: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p legacyPlaylist
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description,
			&p.MatchAny, &p.SortField, &p.SortDesc, &p.MaxTracks); err != nil {
			i.logger.Error().Err(err).Msg("scan playlist")
			i.stats.ErrorsEncountered++
			continue
		}

		ruleRows, err := src.QueryContext(ctx, `
			SELECT field, operator, value, extra_value, position
			FROM playlist_rules
			WHERE playlist_id = $1
			ORDER BY position, id
		`, p.ID)
		if err != nil {
			i.logger.Error().Err(err).Str("playlist", p.Name).Msg("query playlist rules")
			i.stats.ErrorsEncountered++
			continue
		}

		var legacyRules []legacyRule
		for ruleRows.Next() {
			var r legacyRule
			if err := ruleRows.Scan(&r.Field, &r.Operator, &r.Value, &r.ExtraValue, &r.Position); err != nil {
				i.logger.Error().Err(err).Msg("scan playlist rule")
				i.stats.ErrorsEncountered++
				continue
			}
			legacyRules = append(legacyRules, r)
		}
		ruleRows.Close()

		if err := i.createPlaylist(ctx, p, legacyRules); err != nil {
			i.logger.Error().Err(err).Str("name", p.Name).Msg("create playlist")
			i.stats.ErrorsEncountered++
		}
	}

	return rows.Err()
}

func (i *Importer) createPlaylist(ctx context.Context, p legacyPlaylist, legacyRules []legacyRule) error {
	ownerID, err := i.ownerFor(p.UserID)
	if err != nil {
		return err
	}

	matchMode := models.MatchAll
	if p.MatchAny {
		matchMode = models.MatchAny
	}

	orderBy, direction := i.orderFromLegacy(p.Name, p.SortField.String, p.SortDesc)

	playlist := &models.SmartPlaylist{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Name:           p.Name,
		Description:    p.Description.String,
		MatchMode:      matchMode,
		OrderBy:        orderBy,
		OrderDirection: direction,
	}
	if p.MaxTracks.Valid && p.MaxTracks.Int64 > 0 {
		limit := int(p.MaxTracks.Int64)
		playlist.Limit = &limit
	}

	for _, lr := range legacyRules {
		converted := rules.Rule{
			Field:    mapLegacyField(lr.Field),
			Operator: mapLegacyOperator(lr.Operator),
			Value:    lr.Value.String,
			Value2:   lr.ExtraValue.String,
		}
		if err := i.rules.Validate([]rules.Rule{converted}); err != nil {
			i.logger.Warn().Err(err).
				Str("playlist", p.Name).
				Str("field", lr.Field).
				Str("operator", lr.Operator).
				Msg("legacy rule does not translate, skipping")
			i.stats.RulesSkipped++
			continue
		}

		playlist.Rules = append(playlist.Rules, models.SmartPlaylistRule{
			ID:         uuid.NewString(),
			PlaylistID: playlist.ID,
			Field:      converted.Field,
			Operator:   converted.Operator,
			Value:      converted.Value,
			Value2:     converted.Value2,
			Position:   len(playlist.Rules),
		})
	}

	if !i.options.DryRun {
		if err := i.db.WithContext(ctx).Create(playlist).Error; err != nil {
			return err
		}
	}

	i.stats.PlaylistsImported++
	i.stats.RulesImported += len(playlist.Rules)
	return nil
}

type legacyPlay struct {
	UserID   int64
	TrackID  int64
	Source   sql.NullString
	PlayedAt time.Time
}

func (i *Importer) importHistory(ctx context.Context, src *sql.DB) error {
	rows, err := src.QueryContext(ctx, `
		SELECT user_id, track_id, source, played_at
		FROM play_history
		ORDER BY played_at
	`)
	if err != nil {
		return fmt.Errorf("query play history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h legacyPlay
		if err := rows.Scan(&h.UserID, &h.TrackID, &h.Source, &h.PlayedAt); err != nil {
			i.logger.Error().Err(err).Msg("scan play history")
			i.stats.ErrorsEncountered++
			continue
		}
		if err := i.createPlay(ctx, h); err != nil {
			i.logger.Error().Err(err).Msg("create play history")
			i.stats.ErrorsEncountered++
		}
	}

	return rows.Err()
}

// createPlay writes one history row. Rows pointing at tracks that did not
// make it across are dropped quietly, the old app never cleaned these up.
func (i *Importer) createPlay(ctx context.Context, h legacyPlay) error {
	ownerID, err := i.ownerFor(h.UserID)
	if err != nil {
		i.logger.Debug().Int64("legacy_user", h.UserID).Msg("history row for unknown user, skipping")
		return nil
	}
	trackID, ok := i.trackIDs[h.TrackID]
	if !ok {
		i.logger.Debug().Int64("legacy_track", h.TrackID).Msg("history row for missing track, skipping")
		return nil
	}

	var title, channelID string
	if !i.options.DryRun {
		var track models.Track
		if err := i.db.WithContext(ctx).Select("title", "channel_id").First(&track, "id = ?", trackID).Error; err == nil {
			title = track.Title
			channelID = track.ChannelID
		}
	}

	entry := &models.PlayHistory{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		TrackID:   trackID,
		Title:     title,
		ChannelID: channelID,
		Source:    mapLegacySource(h.Source.String),
		PlayedAt:  h.PlayedAt,
	}

	if !i.options.DryRun {
		if err := i.db.WithContext(ctx).Create(entry).Error; err != nil {
			return err
		}
	}

	i.stats.HistoryImported++
	return nil
}

// ownerFor resolves a legacy user id to a soundwave owner id.
func (i *Importer) ownerFor(legacyID int64) (string, error) {
	if i.options.TargetOwnerID != "" {
		return i.options.TargetOwnerID, nil
	}
	id, ok := i.userIDs[legacyID]
	if !ok {
		return "", fmt.Errorf("no imported user for legacy id %d", legacyID)
	}
	return id, nil
}

// orderFromLegacy translates the legacy sort column, falling back to newest
// first when the old value has no equivalent.
func (i *Importer) orderFromLegacy(playlistName, sortField string, sortDesc bool) (string, string) {
	direction := rules.DirectionAsc
	if sortDesc {
		direction = rules.DirectionDesc
	}
	if sortField == "" {
		return "added_at", rules.DirectionDesc
	}

	orderBy := mapLegacyField(sortField)
	if err := i.rules.ValidateOrdering(orderBy, direction); err != nil {
		i.logger.Warn().
			Str("playlist", playlistName).
			Str("sort_field", sortField).
			Msg("legacy sort field does not translate, using added_at desc")
		return "added_at", rules.DirectionDesc
	}
	return orderBy, direction
}

// mapLegacyStatus converts the old download state. Anything unrecognized is
// treated as missing so a later verify pass decides.
func mapLegacyStatus(status, filePath string) models.TrackStatus {
	switch status {
	case "complete":
		if filePath == "" {
			return models.TrackMissing
		}
		return models.TrackReady
	case "pending", "queued":
		return models.TrackPending
	default:
		return models.TrackMissing
	}
}

// mapLegacyField translates the old rule field names onto the current ones.
// Names that already match pass through.
func mapLegacyField(field string) string {
	switch field {
	case "channel":
		return "channel_name"
	case "length":
		return "duration"
	case "plays":
		return "play_count"
	case "date_added":
		return "added_at"
	case "last_played_at":
		return "last_played"
	case "favorite":
		return "is_favorite"
	default:
		return field
	}
}

// mapLegacyOperator translates the old abbreviated operator names.
func mapLegacyOperator(op string) string {
	switch op {
	case "eq":
		return rules.OpEquals
	case "neq":
		return rules.OpNotEquals
	case "gt":
		return rules.OpGreaterThan
	case "lt":
		return rules.OpLessThan
	case "gte":
		return rules.OpGreaterEqual
	case "lte":
		return rules.OpLessEqual
	case "within_days":
		return rules.OpInLastDays
	case "not_within_days":
		return rules.OpNotInLastDays
	default:
		return op
	}
}

func mapLegacySource(source string) models.PlaySource {
	switch models.PlaySource(source) {
	case models.PlaySourceRadio, models.PlaySourcePlaylist, models.PlaySourceLibrary:
		return models.PlaySource(source)
	default:
		return models.PlaySourceLibrary
	}
}

// reportProgress calls the progress callback if set.
func (i *Importer) reportProgress(step, total int, message string) {
	if i.progress != nil {
		i.progress(Progress{
			Step:       step,
			TotalSteps: total,
			Message:    message,
			Percentage: float64(step) / float64(total) * 100,
		})
	}
	i.logger.Info().
		Int("step", step).
		Int("total", total).
		Str("message", message).
		Msg("import progress")
}

// legacyDriver picks the database/sql driver from the DSN shape. A
// postgres URL or key=value string selects lib/pq, anything else is
// treated as a path to the old app's SQLite file. The queries stick to
// $1 placeholders, which both drivers accept.
func legacyDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	for _, key := range []string{"host=", "dbname=", "user="} {
		if strings.Contains(dsn, key) {
			return "postgres"
		}
	}
	return "sqlite3"
}

// maskDSN hides the password in a DSN before it reaches a log line. Both
// URL and key=value forms are handled.
func maskDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		parts := strings.SplitN(dsn, "@", 2)
		if len(parts) == 2 {
			userParts := strings.SplitN(parts[0], ":", 3)
			if len(userParts) >= 3 {
				return userParts[0] + ":" + userParts[1] + ":***@" + parts[1]
			}
		}
		return dsn
	}

	fields := strings.Fields(dsn)
	for n, field := range fields {
		if strings.HasPrefix(field, "password=") {
			fields[n] = "password=***"
		}
	}
	return strings.Join(fields, " ")
}
