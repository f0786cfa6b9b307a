// Package domain errors.go contains sentinel errors shared across layers.
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers.
var (
	// ErrCorrupted indicates a vault artifact failed authentication on
	// decrypt. It signals tampering or corruption, never ordinary absence,
	// and must not be swallowed into a skip path.
	ErrCorrupted = errors.New("vault artifact corrupted or tampered")

	// ErrReferenceExpired indicates the attachment reference held by a
	// message handle is no longer valid upstream. Callers retry after
	// re-resolving the message.
	ErrReferenceExpired = errors.New("attachment reference expired")
)
