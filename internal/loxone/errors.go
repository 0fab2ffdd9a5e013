package loxone

import "errors"

// Protocol errors for the loxone package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, loxone.ErrAuthentication) {
//	    // bad credentials or malformed handshake response
//	}
var (
	// ErrAuthentication is returned when the getkey2/getjwt handshake
	// fails: bad credentials, a non-200 response, or a malformed key or
	// token payload. Fatal to startup; there is no retry at this layer.
	ErrAuthentication = errors.New("loxone: authentication failed")

	// ErrStructure is returned when the structure document is
	// unreachable or does not parse. Non-fatal: the registry degrades
	// to empty and the connection may proceed.
	ErrStructure = errors.New("loxone: structure unavailable")

	// ErrTransport is returned for network-level failures: unreachable
	// host, unexpected HTTP status, or a dead stream. The receive loop
	// responds by reconnecting; command senders see it surfaced.
	ErrTransport = errors.New("loxone: transport failure")

	// ErrProtocol is returned for responses or frames that do not match
	// the expected wire shape. Unparseable stream frames are dropped
	// silently rather than surfaced.
	ErrProtocol = errors.New("loxone: unexpected payload")
)
