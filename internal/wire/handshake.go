package wire

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
)

// acceptGUID is the fixed GUID appended to the client key when computing
// the Sec-WebSocket-Accept token (RFC 6455 section 1.3).
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// supportedVersion is the only Sec-WebSocket-Version this package speaks.
const supportedVersion = "13"

// ErrHandshake indicates an upgrade request or response that does not
// satisfy the protocol. The underlying connection is closed without a
// WebSocket response.
var ErrHandshake = errors.New("websocket handshake failed")

// AcceptKey computes the Sec-WebSocket-Accept token for a client key:
// base64(SHA-1(key + acceptGUID)). Pure; the same key always yields the
// same token.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// checkUpgradeRequest validates the headers of an upgrade request and
// returns the client key.
func checkUpgradeRequest(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", fmt.Errorf("%w: method %s is not GET", ErrHandshake, r.Method)
	}
	if r.Header.Get("Upgrade") != "websocket" {
		return "", fmt.Errorf("%w: missing Upgrade: websocket header", ErrHandshake)
	}
	if v := r.Header.Get("Sec-WebSocket-Version"); v != supportedVersion {
		return "", fmt.Errorf("%w: unsupported version %q", ErrHandshake, v)
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return "", fmt.Errorf("%w: empty Sec-WebSocket-Key", ErrHandshake)
	}
	return key, nil
}

// Upgrade validates an HTTP upgrade request, hijacks the underlying TCP
// connection and completes the server side of the handshake. On success the
// returned Conn writes unmasked frames (server role).
//
// A request that fails validation ends the underlying connection without a
// WebSocket response.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return nil, fmt.Errorf("%w: response writer does not support hijacking", ErrHandshake)
	}

	key, err := checkUpgradeRequest(r)
	if err != nil {
		// Refuse by dropping the connection, not by answering.
		if raw, _, herr := hijacker.Hijack(); herr == nil {
			raw.Close()
		}
		return nil, err
	}

	raw, rw, err := hijacker.Hijack()
	if err != nil {
		return nil, fmt.Errorf("hijacking connection: %w", err)
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"

	if _, err := rw.WriteString(response); err != nil {
		raw.Close()
		return nil, fmt.Errorf("writing handshake response: %w", err)
	}
	if err := rw.Flush(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("flushing handshake response: %w", err)
	}

	conn := NewConn(raw, false)
	// The client may pipeline frames behind the upgrade request; they sit
	// in the hijacked buffered reader, not the socket.
	conn.r = rw.Reader
	return conn, nil
}
