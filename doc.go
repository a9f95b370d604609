// Package persock provides persistent, ordered, bidirectional messaging
// over a single upgraded TCP stream, with transparent client-side
// reconnection after transient network loss.
//
// The library implements its own subset of the WebSocket wire format
// (handshake, frame codec, masking) and layers a small JSON envelope
// protocol on top: connect, reconnect, message and close. Applications
// register handlers per message type and exchange arbitrary
// JSON-serializable payloads.
//
// # Architecture
//
// A ClientSession owns one logical connection from the dialing side. When
// the transport drops, the session re-dials on a fixed interval until the
// server is reachable again; the application sees a disconnect callback,
// then a reconnect callback whose return value travels to the server as
// reconnectData. Messages sent or queued while the transport is down are
// dropped, never replayed: the protocol guarantees ordering within one
// transport's lifetime, not delivery across an outage.
//
// A ServerSession lives exactly as long as one TCP connection. A
// reconnecting peer produces a brand-new ServerSession; reconnectData is
// the only state carried across.
//
// # Quick start
//
// Server:
//
//	server := ws.New(&ws.ServerConfig{
//	    Addr:        ":8080",
//	    CheckOrigin: ws.AllOrigins(),
//	    OnConnect: func(sess persock.ServerSession, reconnectData []byte) {
//	        sess.Receive("chat", func(payload []byte) {
//	            sess.Send("chat", json.RawMessage(payload))
//	        })
//	    },
//	})
//	server.Start(ctx)
//
// Client:
//
//	sess, _ := wsc.Connect("localhost:8080", false)
//	sess.Receive("chat", func(payload []byte) {
//	    log.Printf("got %s", payload)
//	})
//	sess.Reconnect(func() any { return mySessionToken })
//	sess.Send("chat", "hello")
//
// # Envelope format
//
// Every complete text message carries exactly one JSON envelope:
//
//	{"type":"connect"}
//	{"type":"reconnect","reconnectData":<any>}
//	{"type":"message","messageType":<string>,"message":<any>}
//	{"type":"close"}
//
// # Wire format
//
// Frames follow RFC 6455 framing: FIN + opcode byte, 7/16/64-bit length,
// and a 4-byte XOR masking key on every client-to-server frame (never on
// server-to-client frames). The decoder is fully incremental and makes no
// assumption that frame boundaries align with read boundaries. Messages
// are capped at 10MB.
//
// # Delivery semantics
//
//   - Envelopes are transmitted and delivered in Send order for the life
//     of a single transport.
//   - No ordering or delivery guarantee holds across a reconnect.
//   - Unmatched message types are silently ignored.
//   - Sends after permanent close fail with ErrSessionClosed.
//
// # Rate limiting
//
// Each server connection has an independent token-bucket limit on inbound
// envelopes (default 100/s, burst 200); exceeding it closes the
// connection. Use ws.NoRateLimit() to disable.
package persock
