package tasks

import "context"

// Store is the task persistence boundary.
type Store interface {
	// Create inserts t. An unknown OwnerID yields ErrNotFound.
	Create(ctx context.Context, t Task) (Task, error)

	// Get returns the task with the owner's name joined. Missing -> ErrNotFound.
	Get(ctx context.Context, id string) (Task, error)

	// ListByOwner returns ownerID's tasks ordered by created_at, id.
	ListByOwner(ctx context.Context, ownerID string) ([]Task, error)

	// Update persists title, description and updated_at of t. Missing -> ErrNotFound.
	Update(ctx context.Context, t Task) (Task, error)

	// Delete removes the task. Missing -> ErrNotFound.
	Delete(ctx context.Context, id string) error
}
