package bridge

import "errors"

// Sentinel errors for bridge operations.
var (
	// ErrMissingMiniserver is returned when the bridge is built without a
	// Loxone client.
	ErrMissingMiniserver = errors.New("bridge: miniserver client is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bridge: already started")
)
