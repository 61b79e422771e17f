/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit turns sensitive-operation events into queryable log rows.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/models"
)

// defaultQueryLimit caps Query results when the caller does not.
const defaultQueryLimit = 100

// actionByEvent maps bus events onto the audit action stored for them.
var actionByEvent = map[events.EventType]models.AuditAction{
	events.EventAuditAPIKeyCreate:       models.AuditActionAPIKeyCreate,
	events.EventAuditAPIKeyRevoke:       models.AuditActionAPIKeyRevoke,
	events.EventAuditSubscriptionCreate: models.AuditActionSubscriptionCreate,
	events.EventAuditSubscriptionDelete: models.AuditActionSubscriptionDelete,
}

// columnKeys are payload keys that land in their own columns rather than
// the Details blob.
var columnKeys = map[string]bool{
	"user_id":       true,
	"user_email":    true,
	"resource_type": true,
	"resource_id":   true,
	"ip_address":    true,
	"user_agent":    true,
}

// Service subscribes to audit events and stores audit entries.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
}

// NewService wires the recorder to its row store and event source.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Run consumes audit events until the context ends. One goroutine per
// event type; rows carry their own timestamps, so cross-type write order
// does not matter.
func (s *Service) Run(ctx context.Context) {
	type feed struct {
		eventType events.EventType
		sub       events.Subscriber
	}

	feeds := make([]feed, 0, len(actionByEvent))
	var wg sync.WaitGroup
	for eventType, action := range actionByEvent {
		sub := s.bus.Subscribe(eventType)
		feeds = append(feeds, feed{eventType, sub})

		wg.Add(1)
		go func(action models.AuditAction, sub events.Subscriber) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					s.record(ctx, action, payload)
				}
			}
		}(action, sub)
	}

	s.logger.Info().Int("event_types", len(feeds)).Msg("audit recorder started")

	<-ctx.Done()
	for _, f := range feeds {
		s.bus.Unsubscribe(f.eventType, f.sub)
	}
	wg.Wait()
	s.logger.Info().Msg("audit recorder stopped")
}

// record turns an event payload into a stored audit row. Well-known keys
// map onto columns, everything else is kept in Details.
func (s *Service) record(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any),
	}

	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	if id := str("user_id"); id != "" {
		entry.UserID = &id
	}
	entry.UserEmail = str("user_email")
	entry.ResourceType = str("resource_type")
	entry.ResourceID = str("resource_id")
	entry.IPAddress = str("ip_address")
	entry.UserAgent = str("user_agent")

	for k, v := range payload {
		if !columnKeys[k] {
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action", string(action)).Msg("write audit entry")
	}
}

// Log stores one audit row, filling in defaults. Most rows arrive via
// the event feeds; handlers that need request-scoped detail call this
// directly.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().Str("id", entry.ID).Str("action", string(entry.Action)).Msg("audit row stored")
	return nil
}

// QueryFilters narrows a Query. Nil fields are skipped.
type QueryFilters struct {
	UserID *string
	Action *models.AuditAction
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// Query retrieves audit logs, most recent first, with the total count
// before pagination.
func (s *Service) Query(ctx context.Context, f QueryFilters) ([]models.AuditLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Action != nil {
		q = q.Where("action = ?", *f.Action)
	}
	if f.From != nil {
		q = q.Where("timestamp >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("timestamp <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	q = q.Limit(limit)
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []models.AuditLog
	if err := q.Order("timestamp desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
