/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlists

import "errors"

var (
	// ErrPlaylistNotFound is returned when the owner has no playlist with
	// the requested id.
	ErrPlaylistNotFound = errors.New("playlist not found")

	// ErrSystemPlaylistImmutable is returned on attempts to rename, retype,
	// re-rule or delete a built-in playlist. Ordering and limit stay
	// adjustable.
	ErrSystemPlaylistImmutable = errors.New("system playlist is immutable")

	// ErrDuplicateName is returned when the owner already has a playlist
	// with the requested name.
	ErrDuplicateName = errors.New("playlist name already in use")
)
