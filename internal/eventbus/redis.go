/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aiulian25/soundwave/internal/events"
)

const publishTimeout = 2 * time.Second

// RedisBus distributes events across nodes over Redis pub/sub.
//
// The embedded in-process bus is the single subscriber registry: local
// publishes and messages received from Redis both deliver through it, so
// same-node subscribers keep working even when Redis is down. A circuit
// breaker gates only the Redis leg.
type RedisBus struct {
	client *redis.Client
	local  *events.Bus
	nodeID string
	logger zerolog.Logger

	mu       sync.Mutex
	channels map[events.EventType]*redis.PubSub
	refs     map[events.EventType]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	breakerMu sync.Mutex
	failCount int
	maxFails  int
	open      bool
	lastProbe time.Time
	probeGap  time.Duration
}

// RedisConfig tunes the Redis connection and the publish circuit breaker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker: after MaxFailures consecutive publish errors the
	// Redis leg is suspended, with one probe publish per CheckInterval.
	MaxFailures   int
	CheckInterval time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	c.Addr = cmp.Or(c.Addr, "localhost:6379")
	c.PoolSize = cmp.Or(c.PoolSize, 10)
	c.MinIdleConns = cmp.Or(c.MinIdleConns, 2)
	c.DialTimeout = cmp.Or(c.DialTimeout, 5*time.Second)
	c.ReadTimeout = cmp.Or(c.ReadTimeout, 3*time.Second)
	c.WriteTimeout = cmp.Or(c.WriteTimeout, 3*time.Second)
	c.MaxFailures = cmp.Or(c.MaxFailures, 5)
	c.CheckInterval = cmp.Or(c.CheckInterval, 30*time.Second)
	return c
}

func (c RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// DefaultRedisConfig returns the stock configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{}.withDefaults()
}

// NewRedisBus creates a Redis-backed event bus. If Redis is unreachable
// the bus still works node-locally and keeps probing for recovery.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	b := &RedisBus{
		client:   redis.NewClient(cfg.options()),
		local:    events.NewBus(),
		nodeID:   nodeID,
		logger:   logger.With().Str("component", "eventbus").Str("backend", "redis").Logger(),
		channels: make(map[events.EventType]*redis.PubSub),
		refs:     make(map[events.EventType]int),
		ctx:      ctx,
		cancel:   cancel,
		maxFails: cfg.MaxFailures,
		probeGap: cfg.CheckInterval,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer pingCancel()

	if err := b.client.Ping(pingCtx).Err(); err != nil {
		b.breakerMu.Lock()
		b.open = true
		b.lastProbe = time.Now()
		b.breakerMu.Unlock()
		b.logger.Warn().Err(err).Str("addr", cfg.Addr).
			Msg("redis unreachable, events stay node-local until it returns")
		return b, nil
	}

	b.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("redis event bus ready")
	return b, nil
}

// Subscribe registers a subscriber. The first subscriber for an event
// type also opens the Redis channel that feeds remote publishes in.
func (b *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := b.local.Subscribe(eventType)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refs[eventType]++
	if _, ok := b.channels[eventType]; !ok {
		// go-redis pub/sub connects lazily and resubscribes after
		// reconnects, so this is safe while Redis is down.
		pubsub := b.client.Subscribe(b.ctx, channelPrefix+string(eventType))
		b.channels[eventType] = pubsub

		b.wg.Add(1)
		go b.receive(eventType, pubsub)
	}

	return sub
}

// receive feeds messages from a Redis channel into the local bus.
func (b *RedisBus) receive(eventType events.EventType, pubsub *redis.PubSub) {
	defer b.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			wire, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("bad event envelope from redis")
				continue
			}

			// Our own publishes already went through the local bus.
			if wire.NodeID == b.nodeID {
				continue
			}

			b.local.Publish(eventType, wire.Payload)
		}
	}
}

// Publish delivers to same-node subscribers and, when the breaker allows,
// to the rest of the fleet over Redis.
func (b *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	b.local.Publish(eventType, payload)

	if !b.redisAllowed() {
		return
	}

	data, err := encodeEnvelope(eventType, payload, b.nodeID)
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("marshal event for redis")
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, publishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, channelPrefix+string(eventType), data).Err(); err != nil {
		b.recordFailure(eventType, err)
		return
	}
	b.recordSuccess()
}

// Unsubscribe removes the subscriber and closes the Redis channel once no
// local subscriber wants the event type anymore.
func (b *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	b.local.Unsubscribe(eventType, sub)

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := b.refs[eventType]; n > 1 {
		b.refs[eventType] = n - 1
		return
	}
	delete(b.refs, eventType)

	if pubsub, ok := b.channels[eventType]; ok {
		pubsub.Close()
		delete(b.channels, eventType)
	}
}

// Close stops the receivers and closes the Redis connection.
func (b *RedisBus) Close() error {
	b.cancel()

	b.mu.Lock()
	for _, pubsub := range b.channels {
		pubsub.Close()
	}
	b.channels = make(map[events.EventType]*redis.PubSub)
	b.mu.Unlock()

	b.wg.Wait()

	if err := b.client.Close(); err != nil {
		b.logger.Error().Err(err).Msg("close redis client")
		return err
	}
	b.logger.Info().Msg("redis event bus closed")
	return nil
}

// redisAllowed reports whether a publish may try the Redis leg. An open
// breaker lets one probe through per probe interval.
func (b *RedisBus) redisAllowed() bool {
	b.breakerMu.Lock()
	defer b.breakerMu.Unlock()

	if !b.open {
		return true
	}
	if time.Since(b.lastProbe) >= b.probeGap {
		b.lastProbe = time.Now()
		return true
	}
	return false
}

func (b *RedisBus) recordFailure(eventType events.EventType, err error) {
	b.breakerMu.Lock()
	defer b.breakerMu.Unlock()

	b.failCount++
	if b.open {
		return
	}
	if b.failCount >= b.maxFails {
		b.open = true
		b.lastProbe = time.Now()
		b.logger.Warn().Err(err).Int("failures", b.failCount).
			Msg("redis publish failures over threshold, events stay node-local")
		return
	}
	b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish event to redis")
}

func (b *RedisBus) recordSuccess() {
	b.breakerMu.Lock()
	defer b.breakerMu.Unlock()

	if b.open {
		b.logger.Info().Msg("redis reachable again, resuming cross-node events")
	}
	b.open = false
	b.failCount = 0
}
