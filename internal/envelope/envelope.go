// Package envelope defines the JSON session envelope exchanged once frames
// are reassembled: connect, reconnect, message and close. Exactly one
// envelope is carried per complete text message.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope types.
const (
	TypeConnect   = "connect"
	TypeReconnect = "reconnect"
	TypeMessage   = "message"
	TypeClose     = "close"
)

// ErrBadEnvelope indicates a payload that is not a valid envelope. Always
// fatal to the connection that produced it.
var ErrBadEnvelope = errors.New("bad envelope")

// Envelope is the tagged union carried by every text message.
//
//	{"type":"connect"}
//	{"type":"reconnect","reconnectData":<any>}
//	{"type":"message","messageType":<string>,"message":<any>}
//	{"type":"close"}
type Envelope struct {
	Type          string          `json:"type"`
	ReconnectData json.RawMessage `json:"reconnectData,omitempty"`
	MessageType   string          `json:"messageType,omitempty"`
	Message       json.RawMessage `json:"message,omitempty"`
}

// NewConnect returns the envelope opening a fresh session.
func NewConnect() Envelope {
	return Envelope{Type: TypeConnect}
}

// NewReconnect wraps an application-supplied context value for
// re-association after an outage. Returns an error when data is not
// JSON-serializable.
func NewReconnect(data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("reconnect data is not serializable: %w", err)
	}
	return Envelope{Type: TypeReconnect, ReconnectData: raw}, nil
}

// NewMessage wraps an application payload. Returns an error when payload is
// not JSON-serializable.
func NewMessage(messageType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("message payload is not serializable: %w", err)
	}
	return Envelope{Type: TypeMessage, MessageType: messageType, Message: raw}, nil
}

// NewClose returns the envelope announcing an orderly close.
func NewClose() Envelope {
	return Envelope{Type: TypeClose}
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates one envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	switch e.Type {
	case TypeConnect, TypeReconnect, TypeClose:
		return e, nil
	case TypeMessage:
		if e.MessageType == "" {
			return Envelope{}, fmt.Errorf("%w: message envelope without messageType", ErrBadEnvelope)
		}
		return e, nil
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrBadEnvelope, e.Type)
	}
}
