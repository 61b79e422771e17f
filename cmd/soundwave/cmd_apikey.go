/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/auth"
	"github.com/aiulian25/soundwave/internal/models"
)

// API key flags
var (
	apikeyEmail      string
	apikeyName       string
	apikeyExpireDays int
	apikeyID         string
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
	Long:  "Create, list, and revoke API keys for headless clients (scrobblers, CLI tooling, players)",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new API key",
	Long: `Mint a new API key for a user. The plaintext key is printed exactly
once; only its hash is stored.

Examples:
  soundwave apikey create --email ana@example.com --name mpd-bridge
  soundwave apikey create --email ana@example.com --name ci --expires-days 30`,
	RunE: runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's API keys",
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an API key",
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)

	apikeyCreateCmd.Flags().StringVar(&apikeyEmail, "email", "", "User email the key belongs to (required)")
	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "Key name, e.g. the client it is for (required)")
	apikeyCreateCmd.Flags().IntVar(&apikeyExpireDays, "expires-days", 365, "Days until the key expires")
	apikeyCreateCmd.MarkFlagRequired("email")
	apikeyCreateCmd.MarkFlagRequired("name")

	apikeyListCmd.Flags().StringVar(&apikeyEmail, "email", "", "User email to list keys for (required)")
	apikeyListCmd.MarkFlagRequired("email")

	apikeyRevokeCmd.Flags().StringVar(&apikeyEmail, "email", "", "User email the key belongs to (required)")
	apikeyRevokeCmd.Flags().StringVar(&apikeyID, "id", "", "Key ID to revoke (required)")
	apikeyRevokeCmd.MarkFlagRequired("email")
	apikeyRevokeCmd.MarkFlagRequired("id")
}

// findUserByEmail resolves a user record from a (case-insensitive) email.
func findUserByEmail(database *gorm.DB, email string) (*models.User, error) {
	var user models.User
	err := database.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no user with email %q", email)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}
	if apikeyExpireDays <= 0 {
		return fmt.Errorf("expires-days must be positive")
	}

	database, err := openDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	user, err := findUserByEmail(database, apikeyEmail)
	if err != nil {
		return err
	}

	plaintext, key, err := auth.GenerateAPIKey(user.ID, apikeyName, time.Duration(apikeyExpireDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := database.Create(key).Error; err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	fmt.Printf("API key created for %s:\n\n  %s\n\n", user.Email, plaintext)
	fmt.Printf("This is the only time the key is shown. It expires %s.\n", key.ExpiresAt.Format("2006-01-02"))
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	user, err := findUserByEmail(database, apikeyEmail)
	if err != nil {
		return err
	}

	keys, err := auth.ListAPIKeys(database, user.ID)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Printf("No API keys for %s.\n", user.Email)
		return nil
	}

	fmt.Printf("%-36s  %-14s  %-20s  %-10s  %s\n", "ID", "PREFIX", "NAME", "EXPIRES", "STATUS")
	for _, k := range keys {
		status := "active"
		switch {
		case k.IsRevoked():
			status = "revoked"
		case k.IsExpired():
			status = "expired"
		}
		fmt.Printf("%-36s  %-14s  %-20s  %-10s  %s\n", k.ID, k.KeyPrefix, k.Name, k.ExpiresAt.Format("2006-01-02"), status)
	}
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	user, err := findUserByEmail(database, apikeyEmail)
	if err != nil {
		return err
	}

	if err := auth.RevokeAPIKey(database, apikeyID, user.ID); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}

	fmt.Printf("API key %s revoked.\n", apikeyID)
	return nil
}
