/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build identity and the GitHub release check.
package version

import "fmt"

// Build identity, stamped by the release pipeline:
//
//	go build -ldflags "-X github.com/aiulian25/soundwave/internal/version.Version=X.Y.Z"
var (
	Version   = "1.4.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GitHubRepo is the repository polled for newer releases.
const GitHubRepo = "aiulian25/soundwave"

// String is the one-line form shown by `soundwave --version` and the
// startup log.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, Commit, BuildDate)
}
