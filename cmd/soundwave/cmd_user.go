/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aiulian25/soundwave/internal/auth"
	"github.com/aiulian25/soundwave/internal/cache"
	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/playlists"
	"github.com/aiulian25/soundwave/internal/rules"
)

// User flags
var (
	userEmail    string
	userPassword string
	userName     string
	userAdmin    bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user account",
	Long: `Create a user account and seed its built-in smart playlists.

Examples:
  soundwave user add --email ana@example.com --password s3cret --name Ana --admin
  soundwave user add --email guest@example.com --password hunter2`,
	RunE: runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	RunE:  runUserList,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)

	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Login email (required)")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "Login password (required)")
	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name (defaults to the email local part)")
	userAddCmd.Flags().BoolVar(&userAdmin, "admin", false, "Grant access to /system endpoints")
	userAddCmd.MarkFlagRequired("email")
	userAddCmd.MarkFlagRequired("password")
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(userEmail))
	displayName := userName
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := auth.HashPassword(userPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		Password:    hash,
		IsAdmin:     userAdmin,
	}
	if err := database.Create(&user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	// New accounts start with the preset playlists already in place.
	playlistSvc := playlists.New(database, rules.New(database, logger), cache.Disabled(logger), events.NewBus(), logger)
	if err := playlistSvc.EnsureSystemPlaylists(context.Background(), user.ID); err != nil {
		logger.Warn().Err(err).Msg("seeding system playlists failed, the server seeds them on next start")
	}

	fmt.Printf("User created:\n  ID:    %s\n  Email: %s\n  Admin: %v\n", user.ID, user.Email, user.IsAdmin)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	var users []models.User
	if err := database.Order("created_at ASC").Find(&users).Error; err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		fmt.Println("No users yet. Create one with 'soundwave user add'.")
		return nil
	}

	fmt.Printf("%-36s  %-30s  %-20s  %s\n", "ID", "EMAIL", "NAME", "ADMIN")
	for _, u := range users {
		fmt.Printf("%-36s  %-30s  %-20s  %v\n", u.ID, u.Email, u.DisplayName, u.IsAdmin)
	}
	return nil
}
