package tasks

import "tasker/cmd/identity"

// Op is an operation on an existing task.
type Op int

const (
	OpRead Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Authorize reports whether p may perform op on t.
// Reads and deletes by a non-owner report ErrNotFound; updates report ErrForbidden.
func Authorize(op Op, t Task, p identity.Principal) error {
	const name = "tasks.Authorize"

	if p.UserID != "" && t.OwnerID == p.UserID {
		return nil
	}
	if op == OpUpdate {
		return forbidden(name)
	}
	return notFound(name)
}
