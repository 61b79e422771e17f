/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/telemetry"
)

const keepaliveInterval = 15 * time.Second

// pingFrame keeps idle connections open through proxies that cut
// silent streams.
var pingFrame = []byte(`{"type":"ping"}`)

// eventEnvelope is the wire shape of a pushed event.
type eventEnvelope struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handleEvents streams library events over a WebSocket. Each subscribed
// event type gets a forwarder goroutine feeding a single channel, so the
// connection has exactly one writer.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("accept websocket")
		return
	}
	defer conn.Close(ws.StatusInternalError, "internal error")

	telemetry.WebsocketClients.Inc()
	defer telemetry.WebsocketClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed := make(chan eventEnvelope)
	for _, eventType := range requestedEventTypes(r) {
		go a.forwardEvents(ctx, eventType, feed)
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "connection closed")
			return
		case ev := <-feed:
			if err := writeMessage(ctx, conn, ev); err != nil {
				a.logger.Debug().Err(err).Msg("push event frame")
				conn.Close(ws.StatusInternalError, "write error")
				return
			}
		case <-keepalive.C:
			if err := conn.Write(ctx, ws.MessageText, pingFrame); err != nil {
				a.logger.Debug().Err(err).Msg("push keepalive frame")
				conn.Close(ws.StatusInternalError, "write error")
				return
			}
		}
	}
}

// forwardEvents relays one event type from the bus into feed until ctx is
// cancelled, then drops the subscription.
func (a *API) forwardEvents(ctx context.Context, eventType events.EventType, feed chan<- eventEnvelope) {
	sub := a.bus.Subscribe(eventType)
	defer a.bus.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			select {
			case feed <- eventEnvelope{Type: eventType, Payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *ws.Conn, ev eventEnvelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

// requestedEventTypes reads the types query parameter, falling back to
// the full library set when the client does not narrow the stream.
func requestedEventTypes(r *http.Request) []events.EventType {
	if types := parseEventTypes(r.URL.Query().Get("types")); types != nil {
		return types
	}
	return []events.EventType{
		events.EventTrackCreated,
		events.EventTrackDeleted,
		events.EventIngestCompleted,
		events.EventIngestFailed,
		events.EventFeedRefreshed,
	}
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	var out []events.EventType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, events.EventType(part))
		}
	}
	return out
}
