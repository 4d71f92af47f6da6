/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package arr

import "errors"

// Sentinel errors returned by clients. Callers match with errors.Is and
// decide per-error whether a failure is fatal, skippable, or retryable.
var (
	// ErrUnreachable covers connection failures and timeouts before any
	// HTTP status was received.
	ErrUnreachable = errors.New("server unreachable")

	// ErrUnauthorized means the API key was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the addressed resource does not exist on the server.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the item already exists on the destination.
	ErrConflict = errors.New("already exists")

	// ErrValidation covers any other client-side rejection (4xx).
	ErrValidation = errors.New("invalid request")
)
