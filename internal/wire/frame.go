package wire

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame opcodes (RFC 6455 section 5.2).
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// MaxMessageSize is the maximum size of a reassembled message payload.
// Frames claiming more than this are rejected before any allocation.
const MaxMessageSize = 10 * 1024 * 1024 // 10MB

var (
	// ErrCloseFrame is returned by Decoder.Push when the peer sends a
	// native close control frame. The connection must be torn down;
	// any buffered partial message is abandoned.
	ErrCloseFrame = errors.New("close frame received")

	// ErrBadFrameHeader indicates a malformed or unsupported frame header.
	ErrBadFrameHeader = errors.New("bad frame header")

	// ErrMessageTooBig indicates a frame or reassembled message exceeding
	// MaxMessageSize.
	ErrMessageTooBig = errors.New("message exceeds maximum size")
)

// EncodeFrame serializes a single final frame carrying payload.
//
// The header is two bytes plus a variable-width length field: payloads of
// 0-125 bytes store the length directly, up to 65535 bytes use marker 126
// plus a 16-bit big-endian length, and larger payloads use marker 127 plus
// a 64-bit length. When masked is true a fresh random 4-byte key is
// generated and every payload byte is XORed with key[i%4]. The caller
// decides masking by role: the browser-side peer always masks, the server
// never does.
func EncodeFrame(opcode byte, payload []byte, masked bool) ([]byte, error) {
	if len(payload) > MaxMessageSize {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrMessageTooBig, len(payload))
	}

	var header [10]byte
	header[0] = 0x80 | (opcode & 0x0F) // FIN set, RSV zero

	n := 2
	switch {
	case len(payload) <= 125:
		header[1] = byte(len(payload))
	case len(payload) <= 0xFFFF:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))
		n = 4
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(len(payload)))
		n = 10
	}

	if !masked {
		frame := make([]byte, n+len(payload))
		copy(frame, header[:n])
		copy(frame[n:], payload)
		return frame, nil
	}

	header[1] |= 0x80

	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generating mask key: %w", err)
	}

	frame := make([]byte, n+4+len(payload))
	copy(frame, header[:n])
	copy(frame[n:], key[:])
	for i, b := range payload {
		frame[n+4+i] = b ^ key[i%4]
	}
	return frame, nil
}

// frame is one parsed wire frame. The payload is always an unmasked copy,
// never a view into the decoder's buffer.
type frame struct {
	fin     bool
	opcode  byte
	payload []byte
}

// parseFrame reads one complete frame from the head of buf. It returns the
// frame and the number of bytes consumed, or consumed == 0 when buf holds
// only a prefix of a frame.
func parseFrame(buf []byte) (frame, int, error) {
	if len(buf) < 2 {
		return frame{}, 0, nil
	}

	b0, b1 := buf[0], buf[1]
	if b0&0x70 != 0 {
		return frame{}, 0, fmt.Errorf("%w: reserved bits set", ErrBadFrameHeader)
	}

	f := frame{fin: b0&0x80 != 0, opcode: b0 & 0x0F}
	masked := b1&0x80 != 0

	length := uint64(b1 & 0x7F)
	offset := 2
	switch length {
	case 126:
		if len(buf) < offset+2 {
			return frame{}, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return frame{}, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	}

	// The full 64-bit length field is decoded, but anything beyond the
	// message cap is refused up front so a hostile header cannot force a
	// huge allocation or an integer overflow on 32-bit platforms.
	if length > MaxMessageSize {
		return frame{}, 0, fmt.Errorf("%w: frame declares %d bytes", ErrMessageTooBig, length)
	}

	var key [4]byte
	if masked {
		if len(buf) < offset+4 {
			return frame{}, 0, nil
		}
		copy(key[:], buf[offset:])
		offset += 4
	}

	if uint64(len(buf)-offset) < length {
		return frame{}, 0, nil
	}

	f.payload = make([]byte, length)
	copy(f.payload, buf[offset:offset+int(length)])
	if masked {
		for i := range f.payload {
			f.payload[i] ^= key[i%4]
		}
	}

	return f, offset + int(length), nil
}

// Decoder incrementally reassembles messages from an arbitrarily fragmented
// byte stream. Bytes are appended with Push; partial frames are retained
// across calls and never discarded, so frame boundaries need not align with
// read boundaries.
//
// A message fragmented across frames is typed by the opcode of its first
// frame; continuation frames (opcode 0) append to it and FIN completes it.
type Decoder struct {
	buf []byte

	// message under reassembly
	partial   []byte
	inMessage bool
}

// Push appends p to the decoder's buffer and returns the payload of every
// message that is now complete, in wire order. Returns ErrCloseFrame when a
// native close frame is seen; any other error means the stream is corrupt
// and the connection must be closed.
func (d *Decoder) Push(p []byte) ([][]byte, error) {
	d.buf = append(d.buf, p...)

	var msgs [][]byte
	for {
		f, consumed, err := parseFrame(d.buf)
		if err != nil {
			return msgs, err
		}
		if consumed == 0 {
			return msgs, nil
		}
		d.buf = d.buf[consumed:]

		switch f.opcode {
		case OpClose:
			return msgs, ErrCloseFrame
		case OpText:
			if d.inMessage {
				return msgs, fmt.Errorf("%w: new message before previous finished", ErrBadFrameHeader)
			}
			if f.fin {
				msgs = append(msgs, f.payload)
				continue
			}
			d.inMessage = true
			d.partial = f.payload
		case OpContinuation:
			if !d.inMessage {
				return msgs, fmt.Errorf("%w: continuation without a started message", ErrBadFrameHeader)
			}
			if len(d.partial)+len(f.payload) > MaxMessageSize {
				return msgs, ErrMessageTooBig
			}
			d.partial = append(d.partial, f.payload...)
			if f.fin {
				msgs = append(msgs, d.partial)
				d.partial = nil
				d.inMessage = false
			}
		default:
			// Binary, ping, pong and reserved opcodes are not part of
			// this protocol; treat them as stream corruption.
			return msgs, fmt.Errorf("%w: unsupported opcode 0x%x", ErrBadFrameHeader, f.opcode)
		}
	}
}

// Buffered reports how many raw bytes are retained awaiting frame
// completion.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset releases the decoder's buffers.
func (d *Decoder) Reset() {
	d.buf = nil
	d.partial = nil
	d.inMessage = false
}
