/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiulian25/soundwave/internal/media"
)

// Verify flags
var (
	verifyOwner         string
	verifyRepair        bool
	verifyRemoveOrphans bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify library tracks against media storage",
	Long: `Walk the library in both directions: tracks whose audio file is gone,
and stored files no track references.

With --repair, tracks with missing audio are flipped to 'missing' and
tracks whose file reappeared are flipped back to 'ready'. Orphan files
are only deleted when --remove-orphans is set.

Examples:
  soundwave verify
  soundwave verify --repair
  soundwave verify --owner <uuid> --repair --remove-orphans`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyOwner, "owner", "", "Limit verification to one user ID (default: whole library)")
	verifyCmd.Flags().BoolVar(&verifyRepair, "repair", false, "Update track status to match storage")
	verifyCmd.Flags().BoolVar(&verifyRemoveOrphans, "remove-orphans", false, "Delete stored files no track references")
}

func runVerify(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	mediaService, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize media service: %w", err)
	}

	// A dead backend would make every track look missing, which is a
	// disaster with --repair. Refuse to scan in that case.
	if err := mediaService.CheckStorageAccess(); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}

	ctx := context.Background()
	verifier := media.NewVerifier(database, mediaService.Backend(), logger)

	report, err := verifier.Verify(ctx, verifyOwner, verifyRepair)
	if err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}

	fmt.Printf("\nVerification Report:\n")
	fmt.Printf("  Tracks checked: %d\n", report.TracksChecked)
	fmt.Printf("  Files scanned:  %d\n", report.FilesScanned)
	fmt.Printf("  Missing audio:  %d\n", len(report.MissingTracks))
	fmt.Printf("  Restored:       %d\n", len(report.RestoredTracks))
	fmt.Printf("  Orphan files:   %d (%.1f MB)\n", len(report.OrphanFiles), float64(report.OrphanBytes)/(1<<20))
	fmt.Printf("  Errors:         %d\n", report.Errors)
	fmt.Printf("  Duration:       %s\n", report.Duration.Round(time.Millisecond))

	for _, id := range report.MissingTracks {
		fmt.Printf("  missing: %s\n", id)
	}
	for _, path := range report.OrphanFiles {
		fmt.Printf("  orphan:  %s\n", path)
	}

	if verifyRemoveOrphans && len(report.OrphanFiles) > 0 {
		removed, err := verifier.RemoveOrphans(ctx, report.OrphanFiles)
		if err != nil {
			return fmt.Errorf("remove orphans: %w", err)
		}
		fmt.Printf("\nRemoved %d orphan file(s).\n", removed)
	}

	if !verifyRepair && len(report.MissingTracks) > 0 {
		fmt.Printf("\nRun with --repair to mark missing tracks.\n")
	}

	return nil
}
