/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package radio

import "errors"

var (
	// ErrNoTracksAvailable means selection exhausted every candidate,
	// including the fallback draw. The caller's library is empty.
	ErrNoTracksAvailable = errors.New("no tracks available")

	// ErrSessionNotFound means the owner has no active radio session.
	ErrSessionNotFound = errors.New("radio session not found")

	// ErrTrackNotFound means the requested seed track does not exist in the
	// owner's library.
	ErrTrackNotFound = errors.New("seed track not found")

	// ErrInvalidMode means the requested radio mode is not recognized.
	ErrInvalidMode = errors.New("invalid radio mode")

	// ErrInvalidFeedback means the feedback type is not recognized.
	ErrInvalidFeedback = errors.New("invalid feedback type")
)
