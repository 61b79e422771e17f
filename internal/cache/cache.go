/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps hot reads out of the database: single tracks, parked
// playlist evaluations, per-owner library summaries and the current radio
// track all live in Redis under a shared keyspace. Redis is strictly
// optional; without it every lookup is a miss and every write a no-op.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aiulian25/soundwave/internal/models"
)

// keyspace prefixes every key this package writes, so FlushAll can sweep
// cache entries without touching the event bus or election keys that share
// the Redis instance.
const keyspace = "soundwave:cache:"

const (
	keyTrack         = keyspace + "track:"          // + track id
	keyPlaylistOrder = keyspace + "playlist_order:" // + playlist id
	keyNowPlaying    = keyspace + "now_playing:"    // + owner id
	keySummary       = keyspace + "summary:"        // + owner id
)

const (
	dialTimeout = 5 * time.Second
	opTimeout   = 2 * time.Second
)

// Config controls the Redis connection and per-entity lifetimes.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TrackTTL         time.Duration
	PlaylistOrderTTL time.Duration
	NowPlayingTTL    time.Duration
	SummaryTTL       time.Duration

	// DisableOnError stops talking to Redis after the first failed
	// operation instead of retrying on every request.
	DisableOnError bool
}

// DefaultConfig returns the stock configuration. Track rows change rarely
// and tolerate a long lifetime; evaluations and summaries are recomputed
// cheaply and expire fast so invalidation misses heal on their own.
func DefaultConfig() Config {
	return Config{
		RedisAddr:        "localhost:6379",
		TrackTTL:         time.Hour,
		PlaylistOrderTTL: 5 * time.Minute,
		NowPlayingTTL:    10 * time.Minute,
		SummaryTTL:       5 * time.Minute,
		DisableOnError:   true,
	}
}

// Cache fronts Redis with a degrade-to-miss policy. A nil client or a
// tripped breaker turns every method into a cheap no-op.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	cfg    Config

	disabled atomic.Bool
}

// New dials Redis and verifies it answers. An unreachable Redis is not an
// error: the returned cache serves misses and the rest of the stack runs
// uncached.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return newDisabled(cfg, logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: componentLogger(logger),
		cfg:    cfg,
	}, nil
}

// Disabled returns a cache that never touches Redis. Used when no Redis
// address is configured and in tests.
func Disabled(logger zerolog.Logger) *Cache {
	return newDisabled(DefaultConfig(), logger)
}

func newDisabled(cfg Config, logger zerolog.Logger) *Cache {
	c := &Cache{logger: componentLogger(logger), cfg: cfg}
	c.disabled.Store(true)
	return c
}

func componentLogger(logger zerolog.Logger) zerolog.Logger {
	return logger.With().Str("component", "cache").Logger()
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable reports whether lookups currently reach Redis.
func (c *Cache) IsAvailable() bool {
	return c.client != nil && !c.disabled.Load()
}

// observeFailure records a failed Redis operation and, when configured,
// trips the breaker so one dead Redis does not add a timeout to every
// request that follows.
func (c *Cache) observeFailure(op string, err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", op).Msg("cache operation failed")

	if c.cfg.DisableOnError && c.disabled.CompareAndSwap(false, true) {
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// fetch unmarshals the value under key into dest. A miss, a failure and a
// stale payload that no longer unmarshals all report false.
func (c *Cache) fetch(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false
	case err != nil:
		c.observeFailure("get", err)
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		return false
	}

	c.logger.Debug().Str("key", key).Msg("cache hit")
	return true
}

func (c *Cache) store(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.observeFailure("set", err)
		return err
	}
	return nil
}

func (c *Cache) drop(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.observeFailure("delete", err)
		return err
	}
	return nil
}

// dropMatching deletes every key matching pattern, walking the keyspace
// with SCAN so a large cache never blocks Redis the way KEYS would.
func (c *Cache) dropMatching(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.observeFailure("scan", err)
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.observeFailure("delete_batch", err)
				return err
			}
		}

		if cursor = next; cursor == 0 {
			return nil
		}
	}
}

// GetTrack retrieves a cached track row by ID. Callers must still check
// that the track belongs to the requesting owner; the cache is keyed on
// track ID alone.
func (c *Cache) GetTrack(ctx context.Context, trackID string) (*models.Track, bool) {
	var track models.Track
	if !c.fetch(ctx, keyTrack+trackID, &track) {
		return nil, false
	}
	return &track, true
}

// SetTrack caches a track row. Fields tagged json:"-" (the storage path)
// do not survive the round-trip, so cached rows serve metadata reads, not
// playback.
func (c *Cache) SetTrack(ctx context.Context, track *models.Track) error {
	return c.store(ctx, keyTrack+track.ID, track, c.cfg.TrackTTL)
}

// InvalidateTrack removes a track row from the cache.
func (c *Cache) InvalidateTrack(ctx context.Context, trackID string) error {
	return c.drop(ctx, keyTrack+trackID)
}

// GetPlaylistOrder retrieves the parked track-id order of a playlist
// evaluation, so paginated reads of the same evaluation stay consistent.
func (c *Cache) GetPlaylistOrder(ctx context.Context, playlistID string) ([]string, bool) {
	var ids []string
	if !c.fetch(ctx, keyPlaylistOrder+playlistID, &ids) {
		return nil, false
	}
	return ids, true
}

// SetPlaylistOrder parks a playlist evaluation's track-id order.
func (c *Cache) SetPlaylistOrder(ctx context.Context, playlistID string, ids []string) error {
	return c.store(ctx, keyPlaylistOrder+playlistID, ids, c.cfg.PlaylistOrderTTL)
}

// InvalidatePlaylistOrder removes a playlist's parked evaluation order.
func (c *Cache) InvalidatePlaylistOrder(ctx context.Context, playlistID string) error {
	return c.drop(ctx, keyPlaylistOrder+playlistID)
}

// InvalidateAllPlaylistOrders drops every parked evaluation. Library
// mutations (track added, removed, retagged) can change any playlist's
// membership, so they clear the lot.
func (c *Cache) InvalidateAllPlaylistOrders(ctx context.Context) error {
	return c.dropMatching(ctx, keyPlaylistOrder+"*")
}

// CachedNowPlaying is the current radio track for an owner, denormalized
// far enough that serving it needs no database reads.
type CachedNowPlaying struct {
	OwnerID     string           `json:"owner_id"`
	TrackID     string           `json:"track_id"`
	Title       string           `json:"title"`
	Artist      string           `json:"artist,omitempty"`
	ChannelName string           `json:"channel_name,omitempty"`
	Mode        models.RadioMode `json:"mode"`
	TotalPlayed int              `json:"total_played"`
	StartedAt   time.Time        `json:"started_at"`
}

// GetNowPlaying retrieves the cached now-playing entry for an owner.
func (c *Cache) GetNowPlaying(ctx context.Context, ownerID string) (*CachedNowPlaying, bool) {
	var entry CachedNowPlaying
	if !c.fetch(ctx, keyNowPlaying+ownerID, &entry) {
		return nil, false
	}
	return &entry, true
}

// SetNowPlaying caches the now-playing entry for an owner.
func (c *Cache) SetNowPlaying(ctx context.Context, entry *CachedNowPlaying) error {
	return c.store(ctx, keyNowPlaying+entry.OwnerID, entry, c.cfg.NowPlayingTTL)
}

// InvalidateNowPlaying removes the now-playing entry for an owner.
func (c *Cache) InvalidateNowPlaying(ctx context.Context, ownerID string) error {
	return c.drop(ctx, keyNowPlaying+ownerID)
}

// CachedSummary holds per-owner library statistics.
type CachedSummary struct {
	OwnerID           string `json:"owner_id"`
	TrackCount        int64  `json:"track_count"`
	FavoriteCount     int64  `json:"favorite_count"`
	ChannelCount      int64  `json:"channel_count"`
	PlaylistCount     int64  `json:"playlist_count"`
	SubscriptionCount int64  `json:"subscription_count"`
	TotalPlays        int64  `json:"total_plays"`
	TotalDurationSecs int64  `json:"total_duration_seconds"`
	TotalFileBytes    int64  `json:"total_file_bytes"`
}

// GetSummary retrieves cached library statistics for an owner.
func (c *Cache) GetSummary(ctx context.Context, ownerID string) (*CachedSummary, bool) {
	var summary CachedSummary
	if !c.fetch(ctx, keySummary+ownerID, &summary) {
		return nil, false
	}
	return &summary, true
}

// SetSummary caches library statistics for an owner.
func (c *Cache) SetSummary(ctx context.Context, summary *CachedSummary) error {
	return c.store(ctx, keySummary+summary.OwnerID, summary, c.cfg.SummaryTTL)
}

// InvalidateSummary removes cached library statistics for an owner.
func (c *Cache) InvalidateSummary(ctx context.Context, ownerID string) error {
	return c.drop(ctx, keySummary+ownerID)
}

// InvalidateOwner sweeps every per-owner entry after a library mutation.
// All three deletions are attempted even when one fails.
func (c *Cache) InvalidateOwner(ctx context.Context, ownerID string) error {
	return errors.Join(
		c.InvalidateSummary(ctx, ownerID),
		c.InvalidateNowPlaying(ctx, ownerID),
		c.InvalidateAllPlaylistOrders(ctx),
	)
}

// FlushAll removes every entry under the cache keyspace.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.dropMatching(ctx, keyspace+"*")
}
