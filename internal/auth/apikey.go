/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/models"
)

// Keys look like sw_<48 hex chars>. Only the SHA-256 of the full key is
// stored; the prefix plus the first 8 hex chars are kept for display.
const (
	keyPrefix       = "sw_"
	keyEntropyBytes = 24
	displayLen      = len(keyPrefix) + 8
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrAPIKeyExpired  = errors.New("api key expired")
	ErrAPIKeyRevoked  = errors.New("api key revoked")
	ErrUserNotFound   = errors.New("user not found")
)

// hashKey is the storage form of a plaintext key.
func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a key for userID. The returned plaintext is shown
// to the user exactly once; the caller persists the returned model.
func GenerateAPIKey(userID, name string, expiresIn time.Duration) (string, *models.APIKey, error) {
	entropy := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(entropy); err != nil {
		return "", nil, err
	}
	plaintext := keyPrefix + hex.EncodeToString(entropy)

	key := &models.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hashKey(plaintext),
		KeyPrefix: plaintext[:displayLen],
		ExpiresAt: time.Now().Add(expiresIn),
	}
	return plaintext, key, nil
}

// ValidateAPIKey resolves a plaintext key to claims, rejecting revoked
// and expired keys. A hit touches last_used_at off the request path.
func ValidateAPIKey(db *gorm.DB, plaintext string) (*Claims, error) {
	var key models.APIKey
	err := db.Take(&key, "key_hash = ?", hashKey(plaintext)).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrAPIKeyNotFound
	case err != nil:
		return nil, err
	case key.IsRevoked():
		return nil, ErrAPIKeyRevoked
	case key.IsExpired():
		return nil, ErrAPIKeyExpired
	}

	var user models.User
	err = db.Take(&user, "id = ?", key.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	go func() {
		db.Model(&models.APIKey{}).Where("id = ?", key.ID).Update("last_used_at", time.Now())
	}()

	return &Claims{UserID: user.ID, IsAdmin: user.IsAdmin}, nil
}

// RevokeAPIKey soft-deletes one of userID's keys. Revoking someone
// else's key reports ErrAPIKeyNotFound rather than leaking that the id
// exists.
func RevokeAPIKey(db *gorm.DB, keyID, userID string) error {
	res := db.Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("revoked_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns userID's keys, newest first.
func ListAPIKeys(db *gorm.DB, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := db.Where("user_id = ?", userID).Order("created_at desc").Find(&keys).Error
	return keys, err
}
