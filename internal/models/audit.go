/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction names an operation worth keeping a record of.
type AuditAction string

const (
	AuditActionAPIKeyCreate       AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke       AuditAction = "apikey.revoke"
	AuditActionSubscriptionCreate AuditAction = "subscription.create"
	AuditActionSubscriptionDelete AuditAction = "subscription.delete"
)

// AuditLog is one recorded sensitive operation. Rows are written by the
// audit recorder and never updated.
type AuditLog struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Timestamp time.Time `gorm:"index:idx_audit_timestamp;not null"`

	// UserID is nil for actions taken by the system itself. The email
	// is copied in so listings survive account deletion.
	UserID    *string `gorm:"type:uuid;index:idx_audit_user"`
	UserEmail string  `gorm:"type:varchar(255)"`

	Action       AuditAction `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ResourceType string      `gorm:"type:varchar(64)"`
	ResourceID   string      `gorm:"type:uuid"`

	Details   map[string]any `gorm:"type:jsonb;serializer:json"`
	IPAddress string         `gorm:"type:varchar(45)"`
	UserAgent string         `gorm:"type:varchar(512)"`
	CreatedAt time.Time
}
