package persock

import "context"

// Handler processes one incoming application message. The payload is the
// raw JSON of the envelope's message field; the application decides how to
// decode it.
type Handler func(payload []byte)

// ReconnectHandler is invoked by a client session when a dropped transport
// has been re-established. Its return value is carried to the server as
// reconnectData and must be JSON-serializable.
type ReconnectHandler func() any

// ConnectHandler is invoked by the server exactly once per accepted
// connection, when the first connect or reconnect envelope arrives.
// reconnectData is nil for a fresh connect and carries the client-supplied
// context value, as raw JSON, on a reconnect.
type ConnectHandler func(session ServerSession, reconnectData []byte)

// Session is the surface shared by both ends of a logical connection.
type Session interface {
	// Send wraps payload in a message envelope and transmits it.
	// Payload must be JSON-serializable and messageType non-empty;
	// violations fail synchronously with no partial effect.
	// Fails with ErrSessionClosed after permanent close.
	Send(messageType string, payload any) error

	// Receive registers handler for one message type. Registering the
	// same type again replaces the handler; a nil handler removes it.
	// Messages with no registered handler are silently ignored.
	Receive(messageType string, handler Handler) error

	// OnClose registers a callback invoked exactly once when the session
	// is permanently closed. Nil removes it.
	OnClose(handler func()) error

	// Close permanently closes the session. Idempotent.
	Close() error
}

// ClientSession is one logical connection seen from the browser-role side.
// It survives transport loss: the underlying connection is re-dialed on a
// fixed interval until it comes back, without the cycling ever being
// visible through this interface. Messages sent while the transport is
// down are dropped, never queued for replay.
type ClientSession interface {
	Session

	// Disconnect registers a callback invoked when the transport drops
	// unexpectedly. Nil removes it.
	Disconnect(handler func()) error

	// Reconnect registers a callback invoked after the transport has been
	// re-established; its return value travels to the server as
	// reconnectData. Nil removes it.
	Reconnect(handler ReconnectHandler) error
}

// ServerSession is one logical connection seen from the server side. It
// lives exactly as long as its TCP connection; a reconnecting peer yields a
// brand-new ServerSession carrying only what the application threads
// through reconnectData.
type ServerSession interface {
	Session

	// ID returns the unique identifier assigned to this connection.
	ID() string

	// RemoteAddr returns the peer's network address.
	RemoteAddr() string

	// Context is cancelled when the connection closes.
	Context() context.Context
}
