/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one instance per fleet to run singleton
// background work, such as feed refresh and history pruning. The lease
// lives in Redis; instances without Redis should skip election and treat
// themselves as leader.
package leadership

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aiulian25/soundwave/internal/telemetry"
)

const (
	defaultElectionKey = "soundwave:leader:scheduler"

	// The leader must renew within the lease or a follower takes over.
	defaultLease   = 15 * time.Second
	defaultRenewal = 5 * time.Second
	defaultRetry   = 2 * time.Second

	redisConnectTimeout = 5 * time.Second
)

// releaseScript deletes the lease only when we still own it, so a newer
// leader's lease is never removed.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Election campaigns for a Redis-held leadership lease.
type Election struct {
	client *redis.Client
	logger zerolog.Logger
	cfg    ElectionConfig

	isLeader    atomic.Bool
	cancel      context.CancelFunc
	stopOnce    sync.Once
	quit        chan struct{}
	transitions chan bool
}

// ElectionConfig configures leader election behavior.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ElectionKey is the Redis key holding the lease.
	ElectionKey string

	// LeaseDuration is how long the lease is valid without renewal.
	LeaseDuration time.Duration

	// RenewalInterval is how often the leader renews its lease.
	RenewalInterval time.Duration

	// RetryInterval is how often followers attempt to take over.
	RetryInterval time.Duration

	// InstanceID uniquely identifies this instance.
	InstanceID string
}

func (c ElectionConfig) withDefaults() ElectionConfig {
	c.ElectionKey = cmp.Or(c.ElectionKey, defaultElectionKey)
	c.LeaseDuration = cmp.Or(c.LeaseDuration, defaultLease)
	c.RenewalInterval = cmp.Or(c.RenewalInterval, defaultRenewal)
	c.RetryInterval = cmp.Or(c.RetryInterval, defaultRetry)
	if c.InstanceID == "" {
		c.InstanceID = uuid.New().String()
	}
	return c
}

// DefaultConfig returns default election configuration.
func DefaultConfig() ElectionConfig {
	return ElectionConfig{RedisAddr: "localhost:6379"}.withDefaults()
}

// NewElection connects to Redis and prepares a campaign. Unlike the event
// bus there is no degraded mode: an instance that cannot reach the lock
// server must not assume leadership.
func NewElection(cfg ElectionConfig, logger zerolog.Logger) (*Election, error) {
	cfg = cfg.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis for leader election: %w", err)
	}

	return &Election{
		client:      client,
		logger:      logger.With().Str("component", "leadership").Str("instance_id", cfg.InstanceID).Logger(),
		cfg:         cfg,
		quit:        make(chan struct{}),
		transitions: make(chan bool, 1),
	}, nil
}

// Start begins campaigning in the background.
func (e *Election) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.logger.Info().Dur("lease_duration", e.cfg.LeaseDuration).Msg("starting leader election")
	go e.run(ctx)
	return nil
}

// Stop ends the campaign and releases the lease if held.
func (e *Election) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.logger.Info().Msg("leader election stopping")
		close(e.quit)
		if e.cancel != nil {
			e.cancel()
		}

		if e.isLeader.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
			defer cancel()
			if relErr := e.releaseLease(ctx); relErr != nil {
				e.logger.Error().Err(relErr).Msg("release leadership lease")
			}
		}

		err = e.client.Close()
	})
	return err
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	return e.isLeader.Load()
}

// LeaderCh receives leadership transitions. One buffered slot; consumers
// that fall behind miss intermediate flips, not the latest state.
func (e *Election) LeaderCh() <-chan bool {
	return e.transitions
}

// GetLeader returns the instance ID holding the lease, or "" when vacant.
func (e *Election) GetLeader(ctx context.Context) (string, error) {
	holder, err := e.client.Get(ctx, e.cfg.ElectionKey).Result()
	switch {
	case err == redis.Nil:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("read leader key: %w", err)
	}
	return holder, nil
}

// run attempts to take or renew the lease until stopped.
func (e *Election) run(ctx context.Context) {
	// Campaign immediately so a fresh fleet has a leader before the
	// first tick.
	e.campaign(ctx)

	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		case <-ticker.C:
			e.campaign(ctx)
		}
	}
}

func (e *Election) campaign(ctx context.Context) {
	held, err := e.claimLease(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("acquire leadership lease")
		e.setLeader(false)
		return
	}

	if held && !e.isLeader.Load() {
		e.logger.Info().Msg("acquired leadership")
	}
	if !held && e.isLeader.Load() {
		e.logger.Warn().Msg("lost leadership")
	}
	e.setLeader(held)
}

// claimLease takes the lease if vacant, or renews it if we own it.
func (e *Election) claimLease(ctx context.Context) (bool, error) {
	taken, err := e.client.SetNX(ctx, e.cfg.ElectionKey, e.cfg.InstanceID, e.cfg.LeaseDuration).Result()
	switch {
	case err != nil:
		return false, fmt.Errorf("set lease: %w", err)
	case taken:
		return true, nil
	}

	holder, err := e.client.Get(ctx, e.cfg.ElectionKey).Result()
	switch {
	case err == redis.Nil:
		// Lease expired between SetNX and Get; next attempt takes it.
		return false, nil
	case err != nil:
		return false, fmt.Errorf("read lease holder: %w", err)
	case holder != e.cfg.InstanceID:
		return false, nil
	}

	// Still ours; push the expiry out.
	if err := e.client.Expire(ctx, e.cfg.ElectionKey, e.cfg.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) releaseLease(ctx context.Context) error {
	if err := e.client.Eval(ctx, releaseScript, []string{e.cfg.ElectionKey}, e.cfg.InstanceID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}

	e.logger.Info().Msg("released leadership lease")
	return nil
}

// setLeader records the state, updates metrics, and notifies listeners on
// transitions.
func (e *Election) setLeader(isLeader bool) {
	if !e.isLeader.CompareAndSwap(!isLeader, isLeader) {
		return
	}

	instance := e.cfg.InstanceID
	if isLeader {
		telemetry.LeaderStatus.WithLabelValues(instance).Set(1)
		telemetry.LeaderTransitionsTotal.WithLabelValues(instance, "acquired").Inc()
	} else {
		telemetry.LeaderStatus.WithLabelValues(instance).Set(0)
		telemetry.LeaderTransitionsTotal.WithLabelValues(instance, "lost").Inc()
	}

	select {
	case e.transitions <- isLeader:
	default:
	}
}
