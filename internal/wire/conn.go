package wire

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
)

// Conn is a WebSocket transport after a completed handshake. It carries the
// masking role decided at handshake time: the dialing (browser-role) side
// masks every outgoing frame, the accepting side never does. Reads are raw
// stream bytes; callers feed them to a Decoder.
type Conn struct {
	raw          net.Conn
	r            io.Reader
	maskOutgoing bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established stream. maskOutgoing must be true for the
// dialing peer and false for the accepting peer.
func NewConn(raw net.Conn, maskOutgoing bool) *Conn {
	return &Conn{raw: raw, r: raw, maskOutgoing: maskOutgoing}
}

// WriteText sends payload as a single final text frame, masked or not
// according to the connection's role. Safe for concurrent use.
func (c *Conn) WriteText(payload []byte) error {
	frame, err := EncodeFrame(OpText, payload, c.maskOutgoing)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.raw.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// Read reads raw stream bytes into p.
func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close closes the underlying stream. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// generateKey produces the random base64 nonce for a client handshake.
func generateKey() (string, error) {
	key := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Dial opens a TCP (or TLS, when secure) stream to host, performs the
// client side of the handshake against path and returns a masking Conn.
// host is "host:port".
func Dial(ctx context.Context, host, path string, secure bool) (*Conn, error) {
	var (
		raw net.Conn
		err error
	)
	if secure {
		d := tls.Dialer{}
		raw, err = d.DialContext(ctx, "tcp", host)
	} else {
		d := net.Dialer{}
		raw, err = d.DialContext(ctx, "tcp", host)
	}
	if err != nil {
		return nil, err
	}

	key, err := generateKey()
	if err != nil {
		raw.Close()
		return nil, err
	}

	if path == "" {
		path = "/"
	}
	lines := []string{
		"GET " + path + " HTTP/1.1",
		"Host: " + host,
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Version: " + supportedVersion,
		"Sec-WebSocket-Key: " + key,
		"",
		"",
	}
	if _, err := raw.Write([]byte(strings.Join(lines, "\r\n"))); err != nil {
		raw.Close()
		return nil, err
	}

	// Frames the server sends immediately after the 101 can land in the
	// buffered reader together with the response; subsequent connection
	// reads must drain that buffer first.
	br := bufio.NewReader(raw)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: reading handshake response: %v", ErrHandshake, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		raw.Close()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrHandshake, resp.StatusCode)
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		raw.Close()
		return nil, fmt.Errorf("%w: missing Upgrade header in response", ErrHandshake)
	}
	if accept := resp.Header.Get("Sec-WebSocket-Accept"); accept != AcceptKey(key) {
		raw.Close()
		return nil, fmt.Errorf("%w: bad accept token %q", ErrHandshake, accept)
	}

	conn := NewConn(raw, true)
	conn.r = br
	return conn, nil
}
