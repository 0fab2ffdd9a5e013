package history

import "errors"

// Sentinel errors for history operations.
var (
	// ErrInvalidEvent is returned when a recorded event lacks a control UUID.
	ErrInvalidEvent = errors.New("history: event missing control uuid")

	// ErrInvalidRetention is returned when a non-positive retention window
	// is passed to Prune.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)
