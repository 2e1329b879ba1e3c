// Package v1 defines the media signalling protocol v1 used by the realtime session.
//
// The media pipeline itself is owned by a third-party transport; this envelope
// only carries the control messages needed to open and tear down a session.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "arbiter.media.v1"

// Type constants (wire-stable).
const (
	// TypeHello authenticates the connection (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms the media session (server -> client).
	TypeHelloAck = "hello_ack"
	// TypeBye ends the media session cleanly (either direction).
	TypeBye = "bye"
	// TypeSessionRevoked tells the client its credential stopped being authoritative (server -> client).
	TypeSessionRevoked = "session_revoked"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeHelloAck, TypeBye, TypeSessionRevoked, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// HelloPayload carries the bearer credential.
type HelloPayload struct {
	Credential string `json:"credential"`
}

// HelloAckPayload identifies the media session on the server.
type HelloAckPayload struct {
	MediaSessionID string `json:"media_session_id"`
}

// ByePayload explains why a session is being closed.
type ByePayload struct {
	Reason string `json:"reason,omitempty"`
}

// SessionRevokedPayload mirrors the reason code of the session contract.
type SessionRevokedPayload struct {
	Code string `json:"code"`
}

// ErrorPayload is a generic error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
