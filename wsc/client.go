// Package wsc is the client-side entry point: it dials a server, performs
// the handshake in the browser role (every outgoing frame masked) and
// returns a persock.ClientSession that transparently survives transport
// loss.
package wsc

import (
	"context"
	"errors"
	"time"

	"persock"
	"persock/internal/session"
	"persock/internal/wire"
)

// DefaultPath is the upgrade endpoint used when Options.Path is empty; it
// matches the default mount point of the ws server facade.
const DefaultPath = "/ws"

// Options tune a client connection.
type Options struct {
	// Secure dials over TLS when true.
	Secure bool
	// Path is the upgrade endpoint; defaults to DefaultPath.
	Path string
	// RetryInterval is the fixed period between reconnection attempts.
	// Defaults to session.DefaultRetryInterval (2s).
	RetryInterval time.Duration
}

// IsSupported reports whether this environment can open connections. It
// mirrors the capability probe of browser peers; a Go process always
// qualifies.
func IsSupported() bool {
	return true
}

// Connect opens a session to host ("host:port") with default options. The
// call never blocks on I/O: the session starts connecting in the
// background, and a failed first dial enters the same fixed-interval retry
// loop as any later outage.
func Connect(host string, secure bool) (persock.ClientSession, error) {
	return ConnectOptions(host, Options{Secure: secure})
}

// ConnectOptions opens a session to host with explicit options.
func ConnectOptions(host string, opts Options) (persock.ClientSession, error) {
	if host == "" {
		return nil, errors.New("host must not be empty")
	}

	path := opts.Path
	if path == "" {
		path = DefaultPath
	}

	dial := func(ctx context.Context) (*wire.Conn, error) {
		return wire.Dial(ctx, host, path, opts.Secure)
	}
	return session.NewClient(dial, opts.RetryInterval), nil
}
