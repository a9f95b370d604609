package session

import (
	"context"
	"sync"
	"time"

	"persock"
	"persock/internal/envelope"
	"persock/internal/wire"
)

// DefaultRetryInterval is the fixed period between reconnection attempts.
const DefaultRetryInterval = 2 * time.Second

// Dialer opens a fresh transport. The client calls it once at construction
// and again on every reconnection attempt.
type Dialer func(ctx context.Context) (*wire.Conn, error)

// clientState tracks the session lifecycle:
// connecting -> open <-> temporarily disconnected; closed is terminal.
type clientState int

const (
	clientConnecting clientState = iota
	clientOpen
	clientTempDisconnected
	clientClosed
)

// Client owns one logical connection on the browser-role side. The
// underlying transport is replaced transparently after network loss; the
// session itself ends only with Close. Envelopes queued or sent while the
// transport is down are dropped, never replayed.
type Client struct {
	dial          Dialer
	retryInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        clientState
	conn         *wire.Conn
	queue        []envelope.Envelope
	handlers     map[string]persock.Handler
	onDisconnect func()
	onReconnect  persock.ReconnectHandler
	onClose      func()
	retrying     bool
	closeDone    bool
}

// NewClient creates a session and starts opening its first transport. The
// constructor never blocks on I/O: a failed first dial behaves exactly like
// a transport drop and enters the reconnect loop.
func NewClient(dial Dialer, retryInterval time.Duration) *Client {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		dial:          dial,
		retryInterval: retryInterval,
		ctx:           ctx,
		cancel:        cancel,
		state:         clientConnecting,
		queue:         []envelope.Envelope{envelope.NewConnect()},
		handlers:      make(map[string]persock.Handler),
	}

	go func() {
		conn, err := dial(ctx)
		if err != nil {
			c.transportLost()
			return
		}
		c.transportOpen(conn)
	}()

	return c
}

// Send wraps payload in a message envelope and flushes the queue. While the
// transport is down the message is silently dropped; after permanent close
// it fails with ErrSessionClosed.
func (c *Client) Send(messageType string, payload any) error {
	if messageType == "" {
		return persock.ErrInvalidMessageType
	}
	env, err := envelope.NewMessage(messageType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case clientClosed:
		return persock.ErrSessionClosed
	case clientTempDisconnected:
		// Dropped by design: no queueing across an outage.
		return nil
	default:
		c.queue = append(c.queue, env)
		c.flushLocked()
		return nil
	}
}

// Receive registers handler for one message type; nil removes it.
func (c *Client) Receive(messageType string, handler persock.Handler) error {
	if messageType == "" {
		return persock.ErrInvalidMessageType
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clientClosed {
		return persock.ErrSessionClosed
	}
	if handler == nil {
		delete(c.handlers, messageType)
	} else {
		c.handlers[messageType] = handler
	}
	return nil
}

// Disconnect registers the transport-loss callback; nil removes it.
func (c *Client) Disconnect(handler func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clientClosed {
		return persock.ErrSessionClosed
	}
	c.onDisconnect = handler
	return nil
}

// Reconnect registers the callback supplying reconnectData; nil removes it.
func (c *Client) Reconnect(handler persock.ReconnectHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clientClosed {
		return persock.ErrSessionClosed
	}
	c.onReconnect = handler
	return nil
}

// OnClose registers the permanent-close callback; nil removes it.
func (c *Client) OnClose(handler func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clientClosed {
		return persock.ErrSessionClosed
	}
	c.onClose = handler
	return nil
}

// Close permanently closes the session: the pending reconnect timer is
// cancelled, the transport torn down and the close callback invoked.
// Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closeDone {
		c.mu.Unlock()
		return nil
	}
	c.closeDone = true
	c.state = clientClosed
	conn := c.conn
	c.conn = nil
	c.queue = nil
	c.handlers = nil
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	if onClose != nil {
		onClose()
	}
	return nil
}

// transportOpen handles a freshly established transport, for both the first
// connection and every successful reconnect.
func (c *Client) transportOpen(conn *wire.Conn) {
	c.mu.Lock()

	if c.state == clientClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}

	reconnected := c.state == clientTempDisconnected
	c.conn = conn
	c.state = clientOpen

	if reconnected {
		// Anything queued during the outage is dropped by design.
		c.queue = c.queue[:0]

		var data any
		if c.onReconnect != nil {
			handler := c.onReconnect
			c.mu.Unlock()
			data = handler()
			c.mu.Lock()
			if c.state != clientOpen || c.conn != conn {
				c.mu.Unlock()
				conn.Close()
				return
			}
		}
		env, err := envelope.NewReconnect(data)
		if err != nil {
			// A reconnect callback returning an unserializable value is a
			// programming error the session cannot recover from.
			c.mu.Unlock()
			c.Close()
			return
		}
		c.queue = append(c.queue, env)
	}

	c.flushLocked()
	c.mu.Unlock()

	go c.readLoop(conn)
}

// transportLost handles an unexpected transport drop: enter the
// temporarily-disconnected state, drop the queue, tell the application and
// start the fixed-interval reconnect loop.
func (c *Client) transportLost() {
	c.mu.Lock()
	if c.state == clientClosed || c.state == clientTempDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = clientTempDisconnected
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.queue = c.queue[:0]
	handler := c.onDisconnect
	alreadyRetrying := c.retrying
	c.retrying = true
	c.mu.Unlock()

	if handler != nil {
		handler()
	}
	if !alreadyRetrying {
		go c.retryLoop()
	}
}

// retryLoop attempts a fresh transport on a fixed interval until one dial
// succeeds or the session is permanently closed. Cancellation is checked
// before every attempt so a close never races a late reconnect.
func (c *Client) retryLoop() {
	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.state != clientTempDisconnected {
			c.retrying = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.dial(c.ctx)
		if err != nil {
			continue
		}

		c.mu.Lock()
		c.retrying = false
		c.mu.Unlock()
		c.transportOpen(conn)
		return
	}
}

// readLoop drains one transport, feeding an incremental decoder and
// dispatching complete envelopes, until the transport fails or is swapped.
func (c *Client) readLoop(conn *wire.Conn) {
	var dec wire.Decoder
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, derr := dec.Push(buf[:n])
			for _, msg := range msgs {
				if !c.handleMessage(conn, msg) {
					return
				}
			}
			if derr != nil {
				// Corrupt stream or native close frame: the transport is
				// unusable, recover through the reconnect path.
				conn.Close()
				c.lostIfCurrent(conn)
				return
			}
		}
		if err != nil {
			c.lostIfCurrent(conn)
			return
		}
	}
}

// lostIfCurrent reports a transport drop only if conn is still the
// session's active transport; a stale read loop exiting after a swap must
// not trigger another disconnect.
func (c *Client) lostIfCurrent(conn *wire.Conn) {
	c.mu.Lock()
	current := c.conn == conn
	c.mu.Unlock()
	if current {
		c.transportLost()
	}
}

// handleMessage dispatches one complete envelope payload. Returns false
// when the read loop must stop.
func (c *Client) handleMessage(conn *wire.Conn, msg []byte) bool {
	env, err := envelope.Decode(msg)
	if err != nil {
		// Servers speaking garbage get the same treatment as a dead
		// transport.
		conn.Close()
		c.lostIfCurrent(conn)
		return false
	}

	switch env.Type {
	case envelope.TypeMessage:
		c.mu.Lock()
		handler := c.handlers[env.MessageType]
		c.mu.Unlock()
		if handler != nil {
			handler(env.Message)
		}
	case envelope.TypeClose:
		c.Close()
		return false
	}
	// connect/reconnect envelopes are client-to-server only; ignore.
	return true
}

// flushLocked transmits every queued envelope in order while the session is
// open, or discards the queue otherwise. The first connection is the one
// exception: envelopes queued while still connecting are retained for the
// flush that follows transport-open. Callers hold c.mu.
func (c *Client) flushLocked() {
	switch c.state {
	case clientOpen:
		conn := c.conn
		for _, env := range c.queue {
			data, err := env.Encode()
			if err != nil {
				continue
			}
			if err := conn.WriteText(data); err != nil {
				c.queue = c.queue[:0]
				go c.lostIfCurrent(conn)
				return
			}
		}
		c.queue = c.queue[:0]
	case clientConnecting:
		// Keep the queue; it flushes when the transport opens.
	default:
		c.queue = c.queue[:0]
	}
}
