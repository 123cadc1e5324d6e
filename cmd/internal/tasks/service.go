package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tasker/cmd/identity"
)

// EventType names a task change.
type EventType string

const (
	EventCreated EventType = "task_created"
	EventUpdated EventType = "task_updated"
	EventDeleted EventType = "task_deleted"
)

// Event describes a committed task change. Deleted events carry the task as it was.
type Event struct {
	Type EventType
	Task Task
	At   time.Time
}

// Publisher receives committed task changes. Publish must not block.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Service applies the ownership rules on top of a Store.
type Service struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher sets the change publisher.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("tasks: nil store")
	}
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Create stores a new task owned by p.
func (s *Service) Create(ctx context.Context, p identity.Principal, in Input) (Task, error) {
	const op = "tasks.Service.Create"

	if p.UserID == "" {
		return Task{}, identity.OpError{Op: op, Kind: identity.ErrUnauthenticated}
	}
	if err := validateFields(op, in.Title, in.Description); err != nil {
		return Task{}, err
	}

	now := s.now()
	t, err := s.store.Create(ctx, Task{
		Title:       in.Title,
		Description: in.Description,
		OwnerID:     p.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Task{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, EventCreated, t, now)
	return t, nil
}

// List returns the tasks owned by p.
func (s *Service) List(ctx context.Context, p identity.Principal) ([]Task, error) {
	if p.UserID == "" {
		return nil, identity.OpError{Op: "tasks.Service.List", Kind: identity.ErrUnauthenticated}
	}
	return s.store.ListByOwner(ctx, p.UserID)
}

// Get returns a task owned by p.
func (s *Service) Get(ctx context.Context, p identity.Principal, id string) (Task, error) {
	return s.load(ctx, OpRead, p, id)
}

// Update applies patch to a task owned by p.
func (s *Service) Update(ctx context.Context, p identity.Principal, id string, patch Patch) (Task, error) {
	const op = "tasks.Service.Update"

	t, err := s.load(ctx, OpUpdate, p, id)
	if err != nil {
		return Task{}, err
	}

	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if err := validateFields(op, t.Title, t.Description); err != nil {
		return Task{}, err
	}
	t.UpdatedAt = s.now()

	t, err = s.store.Update(ctx, t)
	if err != nil {
		return Task{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, EventUpdated, t, t.UpdatedAt)
	return t, nil
}

// Delete removes a task owned by p.
func (s *Service) Delete(ctx context.Context, p identity.Principal, id string) error {
	const op = "tasks.Service.Delete"

	t, err := s.load(ctx, OpDelete, p, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, t.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, EventDeleted, t, s.now())
	return nil
}

func (s *Service) load(ctx context.Context, op Op, p identity.Principal, id string) (Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err := Authorize(op, t, p); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Service) publish(ctx context.Context, typ EventType, t Task, at time.Time) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, Event{Type: typ, Task: t, At: at})
}
