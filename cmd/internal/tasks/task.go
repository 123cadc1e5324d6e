package tasks

import (
	"time"
	"unicode/utf8"

	"tasker/cmd/identity"
)

// Error kinds shared with the identity package so handlers map them uniformly.
var (
	ErrInvalidInput = identity.ErrInvalidInput
	ErrNotFound     = identity.ErrNotFound
	ErrForbidden    = identity.ErrForbidden
)

const (
	MaxTitleLen       = 255
	MaxDescriptionLen = 10000
)

// Client-facing messages.
const (
	MsgTaskNotFound    = "Task not found"
	MsgForbidden       = "Unauthorized"
	MsgTitleTooLong    = "Title must be at most 255 characters"
	MsgDescriptionLong = "Description must be at most 10000 characters"
)

// Task is a unit of work owned by a single user.
type Task struct {
	ID          string
	Title       string
	Description string
	OwnerID     string
	// OwnerName is joined from the owning user on reads.
	OwnerName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Input carries the client-editable fields of a new task.
type Input struct {
	Title       string
	Description string
}

// Patch carries a partial update; nil fields keep their stored value.
type Patch struct {
	Title       *string
	Description *string
}

func validateFields(op, title, description string) error {
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return identity.OpError{Op: op, Kind: ErrInvalidInput, Msg: MsgTitleTooLong}
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return identity.OpError{Op: op, Kind: ErrInvalidInput, Msg: MsgDescriptionLong}
	}
	return nil
}

func notFound(op string) error {
	return identity.NotFoundError{Op: op, Resource: "task"}
}

func forbidden(op string) error {
	return identity.OpError{Op: op, Kind: ErrForbidden, Msg: MsgForbidden}
}
