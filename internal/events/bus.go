/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType names one kind of event on the bus.
type EventType string

const (
	EventNowPlaying    EventType = "now_playing"
	EventHealth        EventType = "health"
	EventRadioStarted  EventType = "radio.started"
	EventRadioAdvanced EventType = "radio.advanced"
	EventRadioStopped  EventType = "radio.stopped"

	EventIngestCompleted EventType = "ingest.completed"
	EventIngestFailed    EventType = "ingest.failed"
	EventFeedRefreshed   EventType = "subscription.refreshed"

	// Library events. The cache invalidation listener and the webhook
	// dispatcher both feed on these.
	EventTrackCreated    EventType = "track.added"
	EventTrackUpdated    EventType = "track.updated"
	EventTrackDeleted    EventType = "track.deleted"
	EventTrackPlayed     EventType = "track.played"
	EventTrackFavorited  EventType = "track.favorited"
	EventPlaylistCreated EventType = "playlist.created"
	EventPlaylistUpdated EventType = "playlist.updated"
	EventPlaylistDeleted EventType = "playlist.deleted"
	EventUserUpdated     EventType = "user.updated"

	// Operations that want an explicit audit trail publish these.
	EventAuditAPIKeyCreate       EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke       EventType = "audit.apikey.revoke"
	EventAuditSubscriptionCreate EventType = "audit.subscription.create"
	EventAuditSubscriptionDelete EventType = "audit.subscription.delete"
)

// Payload carries event data as loose key/value pairs.
type Payload map[string]any

// Subscriber is the channel delivery side of a subscription.
type Subscriber chan Payload

// subscriberBuffer is each subscriber channel's capacity. A consumer
// that falls further behind starts losing events rather than blocking
// publishers.
const subscriberBuffer = 8

// Broker is the event transport surface services depend on. Bus is the
// in-process implementation; the eventbus package provides distributed
// ones.
type Broker interface {
	Subscribe(eventType EventType) Subscriber
	Publish(eventType EventType, payload Payload)
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus fans events out to in-process subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType]map[Subscriber]struct{}
}

// NewBus returns an empty in-process bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType]map[Subscriber]struct{})}
}

// Subscribe registers a new subscriber channel for eventType.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[eventType]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.subs[eventType] = set
	}
	set[ch] = struct{}{}
	return ch
}

// Publish delivers payload to every current subscriber of eventType.
// Sends never block; the read lock is held through delivery so a
// concurrent Unsubscribe cannot close a channel mid-send.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes sub and closes it. Unknown subscribers are a
// no-op, so a double unsubscribe is harmless.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[eventType]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, eventType)
	}
	close(sub)
}
