package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"persock"
	"persock/internal/envelope"
	"persock/internal/wire"
)

// TestClientOrdering checks that messages sent in sequence on an open
// session arrive at the peer in that exact order, after the connect
// envelope.
func TestClientOrdering(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	c := NewClient(d.dial, 50*time.Millisecond)
	defer c.Close()

	srv := d.accept(t)
	r := newEnvReader(srv)

	if env := r.next(t); env.Type != envelope.TypeConnect {
		t.Fatalf("first envelope type = %q, want connect", env.Type)
	}

	go func() {
		c.Send("seq", "m1")
		c.Send("seq", "m2")
		c.Send("seq", "m3")
	}()

	for _, want := range []string{`"m1"`, `"m2"`, `"m3"`} {
		env := r.next(t)
		if env.Type != envelope.TypeMessage || env.MessageType != "seq" {
			t.Fatalf("envelope = %+v, want seq message", env)
		}
		if string(env.Message) != want {
			t.Errorf("payload = %s, want %s", env.Message, want)
		}
	}
}

// TestClientDropOnDisconnect checks that a send during an outage never
// reaches the peer, even after reconnection, and that the queue is empty
// immediately after the reconnect completes.
func TestClientDropOnDisconnect(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	c := NewClient(d.dial, 100*time.Millisecond)
	defer c.Close()

	disconnected := make(chan struct{})
	c.Disconnect(func() { close(disconnected) })

	srv1 := d.accept(t)
	r1 := newEnvReader(srv1)
	if env := r1.next(t); env.Type != envelope.TypeConnect {
		t.Fatalf("first envelope type = %q, want connect", env.Type)
	}

	srv1.Close()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}

	if err := c.Send("seq", "dropped"); err != nil {
		t.Fatalf("send while disconnected should be a silent no-op, got %v", err)
	}

	srv2 := d.accept(t)
	r2 := newEnvReader(srv2)
	if env := r2.next(t); env.Type != envelope.TypeReconnect {
		t.Fatalf("post-outage envelope type = %q, want reconnect", env.Type)
	}

	// The dropped message must not surface after the reconnect.
	r2.expectNone(t, 300*time.Millisecond)

	go c.Send("seq", "after")
	env := r2.next(t)
	if env.Type != envelope.TypeMessage || string(env.Message) != `"after"` {
		t.Fatalf("envelope after reconnect = %+v, want message \"after\"", env)
	}
}

// TestClientReconnectDataPropagation checks the reconnect callback's return
// value is carried in the reconnect envelope.
func TestClientReconnectDataPropagation(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	c := NewClient(d.dial, 50*time.Millisecond)
	defer c.Close()

	c.Reconnect(func() any { return "ctx-42" })

	srv1 := d.accept(t)
	r1 := newEnvReader(srv1)
	if env := r1.next(t); env.Type != envelope.TypeConnect {
		t.Fatalf("first envelope type = %q, want connect", env.Type)
	}
	srv1.Close()

	srv2 := d.accept(t)
	r2 := newEnvReader(srv2)
	env := r2.next(t)
	if env.Type != envelope.TypeReconnect {
		t.Fatalf("envelope type = %q, want reconnect", env.Type)
	}
	if string(env.ReconnectData) != `"ctx-42"` {
		t.Errorf("reconnectData = %s, want \"ctx-42\"", env.ReconnectData)
	}
}

// TestClientReconnectWithoutHandler checks a reconnect envelope still goes
// out, with null data, when no reconnect callback is registered.
func TestClientReconnectWithoutHandler(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	c := NewClient(d.dial, 50*time.Millisecond)
	defer c.Close()

	srv1 := d.accept(t)
	r1 := newEnvReader(srv1)
	r1.next(t) // connect
	srv1.Close()

	srv2 := d.accept(t)
	r2 := newEnvReader(srv2)
	env := r2.next(t)
	if env.Type != envelope.TypeReconnect {
		t.Fatalf("envelope type = %q, want reconnect", env.Type)
	}
	if string(env.ReconnectData) != `null` {
		t.Errorf("reconnectData = %s, want null", env.ReconnectData)
	}
}

// TestClientFirstDialFailure checks a failing first dial enters the same
// retry loop as a later outage.
func TestClientFirstDialFailure(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	var calls int32
	dial := func(ctx context.Context) (*wire.Conn, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("connection refused")
		}
		return d.dial(ctx)
	}

	c := NewClient(dial, 50*time.Millisecond)
	defer c.Close()

	srv := d.accept(t)
	r := newEnvReader(srv)
	env := r.next(t)
	// The first transport never opened, so the session comes up through
	// the reconnect path.
	if env.Type != envelope.TypeReconnect {
		t.Fatalf("envelope type = %q, want reconnect", env.Type)
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Errorf("dial calls = %d, want at least 2", calls)
	}
}

// TestClientIdempotentClose checks double close fires the callback once and
// later calls fail with ErrSessionClosed.
func TestClientIdempotentClose(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	c := NewClient(d.dial, 50*time.Millisecond)

	var closes int32
	c.OnClose(func() { atomic.AddInt32(&closes, 1) })

	srv := d.accept(t)
	r := newEnvReader(srv)
	r.next(t) // connect

	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if n := atomic.LoadInt32(&closes); n != 1 {
		t.Errorf("close callback ran %d times, want 1", n)
	}

	if err := c.Send("seq", "late"); !errors.Is(err, persock.ErrSessionClosed) {
		t.Errorf("Send after close err = %v, want ErrSessionClosed", err)
	}
	if err := c.Receive("seq", func([]byte) {}); !errors.Is(err, persock.ErrSessionClosed) {
		t.Errorf("Receive after close err = %v, want ErrSessionClosed", err)
	}
	if err := c.Disconnect(func() {}); !errors.Is(err, persock.ErrSessionClosed) {
		t.Errorf("Disconnect after close err = %v, want ErrSessionClosed", err)
	}
	if err := c.Reconnect(func() any { return nil }); !errors.Is(err, persock.ErrSessionClosed) {
		t.Errorf("Reconnect after close err = %v, want ErrSessionClosed", err)
	}
}

// TestClientReceiveDispatch checks handler dispatch by message type,
// replacement and removal, and that unmatched types are silently ignored.
func TestClientReceiveDispatch(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	c := NewClient(d.dial, 50*time.Millisecond)
	defer c.Close()

	srv := d.accept(t)
	r := newEnvReader(srv)
	r.next(t) // connect

	got := make(chan string, 4)
	c.Receive("evt", func(payload []byte) { got <- string(payload) })

	mustEnv := func(env envelope.Envelope, err error) envelope.Envelope {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return env
	}

	writeEnvelope(t, srv, mustEnv(envelope.NewMessage("evt", 41)))
	writeEnvelope(t, srv, mustEnv(envelope.NewMessage("unknown", "ignored")))
	writeEnvelope(t, srv, mustEnv(envelope.NewMessage("evt", 42)))

	for _, want := range []string{"41", "42"} {
		select {
		case p := <-got:
			if p != want {
				t.Errorf("payload = %s, want %s", p, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("handler never invoked")
		}
	}

	// Removal: nil unregisters.
	c.Receive("evt", nil)
	writeEnvelope(t, srv, mustEnv(envelope.NewMessage("evt", 43)))
	select {
	case p := <-got:
		t.Fatalf("removed handler still invoked with %s", p)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestClientIncomingClose checks a close envelope from the server closes
// the session permanently, with no reconnect attempt.
func TestClientIncomingClose(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	c := NewClient(d.dial, 50*time.Millisecond)

	closed := make(chan struct{})
	c.OnClose(func() { close(closed) })

	srv := d.accept(t)
	r := newEnvReader(srv)
	r.next(t) // connect

	writeEnvelope(t, srv, envelope.NewClose())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}

	if err := c.Send("seq", "late"); !errors.Is(err, persock.ErrSessionClosed) {
		t.Errorf("Send after close err = %v, want ErrSessionClosed", err)
	}

	// Permanently closed sessions never redial.
	select {
	case <-d.serverEnds:
		t.Fatal("client attempted to reconnect after permanent close")
	case <-time.After(300 * time.Millisecond):
	}
}

// TestClientInvalidArguments checks synchronous validation failures.
func TestClientInvalidArguments(t *testing.T) {
	t.Parallel()

	d := newPipeDialer()
	c := NewClient(d.dial, 50*time.Millisecond)
	defer c.Close()

	srv := d.accept(t)
	r := newEnvReader(srv)
	r.next(t) // connect

	if err := c.Send("", "x"); !errors.Is(err, persock.ErrInvalidMessageType) {
		t.Errorf("Send empty type err = %v, want ErrInvalidMessageType", err)
	}
	if err := c.Send("seq", make(chan int)); err == nil {
		t.Error("Send accepted an unserializable payload")
	}
	if err := c.Receive("", func([]byte) {}); !errors.Is(err, persock.ErrInvalidMessageType) {
		t.Errorf("Receive empty type err = %v, want ErrInvalidMessageType", err)
	}

	// Validation failures must have no partial effect: nothing reached
	// the wire.
	r.expectNone(t, 200*time.Millisecond)
}
