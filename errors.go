package persock

import "errors"

// Errors returned by session operations. Protocol-level failures (bad frame
// headers, bad envelopes, handshake refusals) are internal to a connection
// and surface only as the connection closing.
var (
	// ErrSessionClosed is returned by any send or handler registration
	// after the session has been permanently closed.
	ErrSessionClosed = errors.New("session is closed")

	// ErrInvalidMessageType is returned by Send and Receive when the
	// message type is empty.
	ErrInvalidMessageType = errors.New("message type must be a non-empty string")
)
