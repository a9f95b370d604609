package session

import (
	"context"
	"net"
	"testing"
	"time"

	"persock/internal/envelope"
	"persock/internal/wire"
)

// pipeDialer hands the client in-memory transports and surrenders the
// server end of each pipe to the test.
type pipeDialer struct {
	serverEnds chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{serverEnds: make(chan net.Conn, 8)}
}

func (d *pipeDialer) dial(ctx context.Context) (*wire.Conn, error) {
	client, server := net.Pipe()
	d.serverEnds <- server
	return wire.NewConn(client, true), nil
}

// accept returns the server end of the next established transport.
func (d *pipeDialer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-d.serverEnds:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the client to dial")
		return nil
	}
}

// envReader incrementally decodes envelopes arriving on one transport.
// The decoder persists across reads so frames may span calls.
type envReader struct {
	conn    net.Conn
	dec     wire.Decoder
	pending []envelope.Envelope
}

func newEnvReader(conn net.Conn) *envReader {
	return &envReader{conn: conn}
}

// next returns the next envelope, failing the test after two seconds.
func (r *envReader) next(t *testing.T) envelope.Envelope {
	t.Helper()
	env, ok := r.read(t, 2*time.Second)
	if !ok {
		t.Fatal("timed out waiting for an envelope")
	}
	return env
}

// expectNone fails if any envelope arrives within d.
func (r *envReader) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	if env, ok := r.read(t, d); ok {
		t.Fatalf("unexpected envelope %q arrived", env.Type)
	}
}

func (r *envReader) read(t *testing.T, timeout time.Duration) (envelope.Envelope, bool) {
	t.Helper()

	if len(r.pending) > 0 {
		env := r.pending[0]
		r.pending = r.pending[1:]
		return env, true
	}

	r.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1024)
	for {
		n, err := r.conn.Read(buf)
		if n > 0 {
			msgs, derr := r.dec.Push(buf[:n])
			if derr != nil {
				t.Fatalf("decoding client frames: %v", derr)
			}
			for _, msg := range msgs {
				env, eerr := envelope.Decode(msg)
				if eerr != nil {
					t.Fatalf("decoding envelope: %v", eerr)
				}
				r.pending = append(r.pending, env)
			}
			if len(r.pending) > 0 {
				env := r.pending[0]
				r.pending = r.pending[1:]
				return env, true
			}
		}
		if err != nil {
			return envelope.Envelope{}, false
		}
	}
}

// writeEnvelope sends one envelope to the client as an unmasked text frame
// (server role).
func writeEnvelope(t *testing.T, conn net.Conn, env envelope.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	frame, err := wire.EncodeFrame(wire.OpText, data, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("writing envelope: %v", err)
	}
}

// writeMaskedEnvelope sends one envelope as a masked text frame (browser
// role), for driving a ServerConn under test.
func writeMaskedEnvelope(t *testing.T, conn net.Conn, env envelope.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	writeMaskedText(t, conn, data)
}

// writeMaskedText sends raw bytes as a masked text frame.
func writeMaskedText(t *testing.T, conn net.Conn, data []byte) {
	t.Helper()
	frame, err := wire.EncodeFrame(wire.OpText, data, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}
