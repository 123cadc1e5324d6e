// Package v1 defines the task event feed protocol v1 (WebSocket subprotocol "tasker.events.v1").
//
// The server pushes envelopes; clients may send "hello" to request a fresh
// session summary. Any other inbound type is answered with an "error" envelope.
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

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "tasker.events.v1"

// Type constants (wire-stable).
const (
	// TypeHello is sent by the server after accept and in reply to a client hello.
	TypeHello = "hello"

	// TypeTaskCreated, TypeTaskUpdated and TypeTaskDeleted carry a TaskPayload
	// and are only delivered to the task's owner.
	TypeTaskCreated = "task_created"
	TypeTaskUpdated = "task_updated"
	TypeTaskDeleted = "task_deleted"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
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
	case TypeHello,
		TypeTaskCreated,
		TypeTaskUpdated,
		TypeTaskDeleted,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload describes the server-side session.
type HelloPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// TaskPayload is the task snapshot carried by task_* events.
type TaskPayload struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
