/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// APIKey grants programmatic access to one owner's library.
type APIKey struct {
	ID     string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID string `gorm:"type:uuid;index;not null" json:"user_id"`
	Name   string `gorm:"not null" json:"name"`

	// Only the SHA-256 of the issued key is persisted. KeyPrefix keeps
	// the first characters so keys can be told apart in listings.
	KeyHash   string `gorm:"not null" json:"-"`
	KeyPrefix string `gorm:"size:11" json:"key_prefix"`

	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired reports whether the key's expiry has passed.
func (k *APIKey) IsExpired() bool {
	return time.Now().After(k.ExpiresAt)
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}
