/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/aiulian25/soundwave/internal/events"
)

// NATSBus distributes events across nodes over NATS core pub/sub.
//
// Like RedisBus it delivers through a single in-process bus, so same-node
// subscribers are unaffected by broker outages. No circuit breaker is
// needed here: the NATS client buffers publishes and replays subscriptions
// across reconnects on its own.
type NATSBus struct {
	conn   *nats.Conn
	local  *events.Bus
	nodeID string
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[events.EventType]*nats.Subscription
	refs map[events.EventType]int
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus creates a NATS-backed event bus. An unreachable server is not
// fatal: the connection keeps retrying in the background and events flow
// node-locally in the meantime.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	log := logger.With().Str("component", "eventbus").Str("backend", "nats").Logger()

	opts := []nats.Option{
		nats.Name("soundwave-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected, events stay node-local until reconnect")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	nb := &NATSBus{
		conn:   conn,
		local:  events.NewBus(),
		nodeID: nodeID,
		logger: log,
		subs:   make(map[events.EventType]*nats.Subscription),
		refs:   make(map[events.EventType]int),
	}

	if conn.IsConnected() {
		log.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("nats event bus ready")
	} else {
		log.Warn().Str("url", cfg.URL).Msg("nats unreachable, connecting in background")
	}
	return nb, nil
}

// Subscribe registers a subscriber. The first subscriber for an event
// type also opens the NATS subject that feeds remote publishes in.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := nb.local.Subscribe(eventType)

	nb.mu.Lock()
	defer nb.mu.Unlock()

	nb.refs[eventType]++
	if _, ok := nb.subs[eventType]; !ok {
		natsSub, err := nb.conn.Subscribe(channelPrefix+string(eventType), func(msg *nats.Msg) {
			wire, err := decodeEnvelope(msg.Data)
			if err != nil {
				nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("bad event envelope from nats")
				return
			}
			if wire.NodeID == nb.nodeID {
				return
			}
			nb.local.Publish(eventType, wire.Payload)
		})
		if err != nil {
			nb.logger.Error().Err(err).Str("event_type", string(eventType)).
				Msg("subscribe on nats, remote events for this type will not arrive")
		} else {
			nb.subs[eventType] = natsSub
		}
	}

	return sub
}

// Publish delivers to same-node subscribers and to the fleet over NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	data, err := encodeEnvelope(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("marshal event for nats")
		return
	}

	// Buffered while reconnecting, so this only fails on a closed
	// connection or an overflowing pending buffer.
	if err := nb.conn.Publish(channelPrefix+string(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish event to nats")
	}
}

// Unsubscribe removes the subscriber and drops the NATS subject once no
// local subscriber wants the event type anymore.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)

	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.refs[eventType] > 0 {
		nb.refs[eventType]--
	}
	if nb.refs[eventType] > 0 {
		return
	}
	delete(nb.refs, eventType)

	if natsSub, ok := nb.subs[eventType]; ok {
		if err := natsSub.Unsubscribe(); err != nil {
			nb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("unsubscribe nats subject")
		}
		delete(nb.subs, eventType)
	}
}

// Close drains the NATS connection so in-flight messages finish delivery.
func (nb *NATSBus) Close() error {
	nb.mu.Lock()
	nb.subs = make(map[events.EventType]*nats.Subscription)
	nb.refs = make(map[events.EventType]int)
	nb.mu.Unlock()

	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	nb.logger.Info().Msg("nats event bus closed")
	return nil
}
