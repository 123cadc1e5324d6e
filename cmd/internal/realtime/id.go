package realtime

import (
	"time"

	"tasker/cmd/identity/ids"

	"github.com/google/uuid"
)

// NewSessionID returns a random id for a websocket session.
func NewSessionID() string {
	return uuid.NewString()
}

// NewEnvelopeID returns a ULID so envelope ids sort by emission time in logs.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return uuid.NewString()
	}
	return id
}
