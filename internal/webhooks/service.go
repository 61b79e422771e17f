/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks notifies an external endpoint about library changes so
// players pointed at the media directory know when to rescan.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiulian25/soundwave/internal/config"
	"github.com/aiulian25/soundwave/internal/events"
)

const (
	// maxAttempts bounds delivery retries. 4xx responses are not retried;
	// the endpoint saw the request and rejected it.
	maxAttempts      = 3
	defaultRetryWait = 2 * time.Second
)

// Envelope is the JSON body posted to the webhook endpoint.
type Envelope struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      events.Payload `json:"data"`
}

// Service delivers signed event notifications to the configured URL.
type Service struct {
	url       string
	secret    string
	bus       events.Broker
	logger    zerolog.Logger
	client    *http.Client
	retryWait time.Duration
}

// New creates the webhook service. An empty URL disables delivery.
func New(cfg *config.Config, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		url:       cfg.WebhookURL,
		secret:    cfg.WebhookSecret,
		bus:       bus,
		logger:    logger.With().Str("component", "webhooks").Logger(),
		client:    &http.Client{Timeout: 10 * time.Second},
		retryWait: defaultRetryWait,
	}
}

// Enabled reports whether a webhook URL is configured.
func (s *Service) Enabled() bool {
	return s.url != ""
}

// Run consumes library events and posts them until the context ends.
func (s *Service) Run(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Debug().Msg("webhooks disabled, no URL configured")
		return
	}

	trackAdded := s.bus.Subscribe(events.EventTrackCreated)
	trackDeleted := s.bus.Subscribe(events.EventTrackDeleted)
	ingestDone := s.bus.Subscribe(events.EventIngestCompleted)

	defer func() {
		s.bus.Unsubscribe(events.EventTrackCreated, trackAdded)
		s.bus.Unsubscribe(events.EventTrackDeleted, trackDeleted)
		s.bus.Unsubscribe(events.EventIngestCompleted, ingestDone)
	}()

	s.logger.Info().Str("url", s.url).Msg("webhook delivery started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook delivery stopping")
			return

		case payload := <-trackAdded:
			s.deliver(ctx, string(events.EventTrackCreated), payload)

		case payload := <-trackDeleted:
			s.deliver(ctx, string(events.EventTrackDeleted), payload)

		case payload := <-ingestDone:
			s.deliver(ctx, string(events.EventIngestCompleted), payload)
		}
	}
}

// deliver posts one event, retrying transient failures with a bounded
// backoff.
func (s *Service) deliver(ctx context.Context, event string, payload events.Payload) {
	body, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("marshal webhook envelope")
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := s.post(ctx, event, body)

		switch {
		case err == nil && status >= 200 && status < 300:
			s.logger.Debug().Str("event", event).Int("status", status).Msg("webhook delivered")
			return
		case err == nil && status >= 400 && status < 500:
			s.logger.Warn().Str("event", event).Int("status", status).Msg("webhook rejected, not retrying")
			return
		}

		if attempt == maxAttempts {
			evt := s.logger.Error().Str("event", event).Int("attempts", attempt)
			if err != nil {
				evt = evt.Err(err)
			} else {
				evt = evt.Int("status", status)
			}
			evt.Msg("webhook delivery failed")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * s.retryWait):
		}
	}
}

// post sends one signed request. A zero status means the request never
// reached the endpoint.
func (s *Service) post(ctx context.Context, event string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Soundwave-Webhook/1.0")
	req.Header.Set("X-Soundwave-Event", event)
	req.Header.Set("X-Soundwave-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if s.secret != "" {
		req.Header.Set("X-Soundwave-Signature", signPayload(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// signPayload creates an HMAC-SHA256 signature over the request body.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
