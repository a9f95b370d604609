package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"persock"
	"persock/internal/envelope"
	"persock/internal/wire"
)

// serverState tracks the per-connection lifecycle:
// awaiting first envelope -> started -> closed.
type serverState int

const (
	serverAwaiting serverState = iota
	serverStarted
	serverClosed
)

// ServerConn owns one logical connection on the server side. It exists for
// the lifetime of exactly one TCP connection and holds no cross-connection
// state: a reconnecting peer produces a brand-new ServerConn whose only
// link to the old one is whatever the application threads through
// reconnectData.
type ServerConn struct {
	id         string
	conn       *wire.Conn
	remoteAddr string
	onConnect  persock.ConnectHandler
	limiter    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    serverState
	handlers map[string]persock.Handler
	onClose  func()

	dec wire.Decoder
}

// NewServerConn wraps an upgraded connection. onConnect is invoked exactly
// once, when the first connect or reconnect envelope arrives. The caller
// runs Serve to drive the connection.
func NewServerConn(conn *wire.Conn, rl *RateLimitConfig, onConnect persock.ConnectHandler) *ServerConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &ServerConn{
		id:         uuid.New().String(),
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		onConnect:  onConnect,
		limiter:    newLimiter(rl),
		ctx:        ctx,
		cancel:     cancel,
		handlers:   make(map[string]persock.Handler),
	}
}

// ID returns the unique identifier assigned to this connection.
func (s *ServerConn) ID() string {
	return s.id
}

// RemoteAddr returns the peer's network address.
func (s *ServerConn) RemoteAddr() string {
	return s.remoteAddr
}

// Context is cancelled when the connection closes.
func (s *ServerConn) Context() context.Context {
	return s.ctx
}

// Send wraps payload in a message envelope and transmits it unmasked.
func (s *ServerConn) Send(messageType string, payload any) error {
	if messageType == "" {
		return persock.ErrInvalidMessageType
	}
	env, err := envelope.NewMessage(messageType, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == serverClosed {
		s.mu.Unlock()
		return persock.ErrSessionClosed
	}
	s.mu.Unlock()

	data, err := env.Encode()
	if err != nil {
		return err
	}
	return s.conn.WriteText(data)
}

// Receive registers handler for one message type; nil removes it.
func (s *ServerConn) Receive(messageType string, handler persock.Handler) error {
	if messageType == "" {
		return persock.ErrInvalidMessageType
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == serverClosed {
		return persock.ErrSessionClosed
	}
	if handler == nil {
		delete(s.handlers, messageType)
	} else {
		s.handlers[messageType] = handler
	}
	return nil
}

// OnClose registers a callback invoked exactly once when the connection
// closes; nil removes it.
func (s *ServerConn) OnClose(handler func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == serverClosed {
		return persock.ErrSessionClosed
	}
	s.onClose = handler
	return nil
}

// Close permanently closes the connection, announcing it to the peer with a
// close envelope. Idempotent.
func (s *ServerConn) Close() error {
	s.close(true)
	return nil
}

// Serve reads the connection until it closes, feeding every chunk of bytes
// to the incremental decoder and dispatching complete envelopes. It blocks;
// run it in its own goroutine.
func (s *ServerConn) Serve() {
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			msgs, derr := s.dec.Push(buf[:n])
			for _, msg := range msgs {
				if !s.handleMessage(msg) {
					return
				}
			}
			if derr != nil {
				// Native close frame or stream corruption: either way
				// the connection is done, announced to the peer.
				s.close(true)
				return
			}
		}
		if err != nil {
			// TCP-level loss: nothing to announce, the peer is gone.
			s.close(false)
			return
		}
	}
}

// handleMessage dispatches one complete envelope payload. Returns false
// when the connection must stop being served.
func (s *ServerConn) handleMessage(msg []byte) bool {
	if s.limiter != nil && !s.limiter.Allow() {
		s.close(true)
		return false
	}

	env, err := envelope.Decode(msg)
	if err != nil {
		s.close(true)
		return false
	}

	switch env.Type {
	case envelope.TypeConnect, envelope.TypeReconnect:
		s.mu.Lock()
		if s.state != serverAwaiting {
			// Duplicate connect/reconnect on the same connection.
			s.mu.Unlock()
			return true
		}
		s.state = serverStarted
		s.mu.Unlock()

		if s.onConnect != nil {
			var data []byte
			if env.Type == envelope.TypeReconnect {
				data = env.ReconnectData
			}
			s.onConnect(s, data)
		}
	case envelope.TypeMessage:
		s.mu.Lock()
		started := s.state == serverStarted
		handler := s.handlers[env.MessageType]
		s.mu.Unlock()

		// Messages before the first connect envelope, and types with no
		// registered handler, are silently ignored.
		if started && handler != nil {
			handler(env.Message)
		}
	case envelope.TypeClose:
		s.close(false)
		return false
	}
	return true
}

// close tears the connection down. When notifyPeer is true a close envelope
// is sent first. Idempotent; the close callback runs exactly once and all
// buffers are released.
func (s *ServerConn) close(notifyPeer bool) {
	s.mu.Lock()
	if s.state == serverClosed {
		s.mu.Unlock()
		return
	}
	s.state = serverClosed
	onClose := s.onClose
	s.handlers = nil
	s.onClose = nil
	s.mu.Unlock()

	if notifyPeer {
		if data, err := envelope.NewClose().Encode(); err == nil {
			s.conn.WriteText(data)
		}
	}
	s.cancel()
	s.conn.Close()
	s.dec.Reset()

	if onClose != nil {
		onClose()
	}
}
