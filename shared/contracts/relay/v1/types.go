// Package v1 defines the relay wire protocol v1.
//
// Frames are flat JSON objects discriminated by "type". This package is shared between the
// server, the smoke tool and tests to keep the wire format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subprotocol is offered by the server during the WebSocket handshake. Clients may omit it.
const Subprotocol = "relay.v1"

// Frame types (wire-stable).
const (
	// TypeAuth is an authentication attempt (client -> server).
	TypeAuth = "auth"
	// TypeAuthSuccess accepts the handshake (server -> client).
	TypeAuthSuccess = "auth_success"
	// TypeAuthError rejects the handshake; the connection stays usable (server -> client).
	TypeAuthError = "auth_error"
	// TypeChatHistory carries the persisted history, sent once after auth_success (server -> client).
	TypeChatHistory = "chat_history"
	// TypeMessage is a send request (client -> server) or a broadcast (server -> clients).
	TypeMessage = "message"
	// TypeError is a local-only failure report (server -> client).
	TypeError = "error"
)

// Message kinds carried in the messageType field.
const (
	MessageTypeText  = "text"
	MessageTypeMedia = "media"
)

// Inbound is the union of every client -> server frame.
type Inbound struct {
	Type        string `json:"type"`
	UserID      string `json:"userId,omitempty"`
	MessageType string `json:"messageType,omitempty"`
	Content     string `json:"content,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// DecodeInbound parses one frame and checks its structure. When the JSON parses but the frame is
// invalid, the parsed fields are returned along with the error so callers can still see the type.
func DecodeInbound(data []byte) (Inbound, error) {
	var f Inbound
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// Validate performs structural validation. Field-level rules (required ids, sizes) are left to
// the server.
func (f Inbound) Validate() error {
	if strings.TrimSpace(f.Type) == "" {
		return errors.New("missing field: type")
	}

	switch f.Type {
	case TypeAuth:
		return nil
	case TypeMessage:
		switch f.MessageType {
		case MessageTypeText, MessageTypeMedia:
			return nil
		case "":
			return errors.New("missing field: messageType")
		default:
			return fmt.Errorf("unknown messageType: %q", f.MessageType)
		}
	default:
		return fmt.Errorf("unknown type: %q", f.Type)
	}
}
