/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus provides distributed implementations of events.Broker.
// Each bus wraps an in-process events.Bus for same-node delivery and adds
// a broker leg (Redis pub/sub or NATS) so events reach other nodes.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aiulian25/soundwave/internal/events"
	"github.com/google/uuid"
)

// channelPrefix namespaces Redis channels and NATS subjects so a shared
// broker can serve more than one application.
const channelPrefix = "soundwave.events."

// envelope is the JSON frame both buses put on the broker. NodeID
// identifies the publishing process so it can drop its own echo.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func encodeEnvelope(t events.EventType, p events.Payload, node string) ([]byte, error) {
	return json.Marshal(envelope{
		EventType: t,
		Payload:   p,
		Timestamp: time.Now().UTC(),
		NodeID:    node,
	})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	return env, nil
}

// NewNodeID returns an identifier for this process. The hostname part is
// for humans reading logs, the random part keeps two processes on one
// host distinct.
func NewNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "soundwave"
	}
	return host + "-" + uuid.NewString()[:8]
}
