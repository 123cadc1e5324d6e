package tasks

import (
	"context"
	"sort"
	"sync"

	"tasker/cmd/identity"
	"tasker/cmd/identity/ids"
)

// OwnerLookup resolves task owners. identity.Store satisfies it.
type OwnerLookup interface {
	GetUserByID(ctx context.Context, id string) (identity.User, error)
}

// MemoryStore is an in-process Store for development and tests.
// Owners are resolved through an OwnerLookup so the owner reference holds.
type MemoryStore struct {
	owners OwnerLookup

	mu   sync.RWMutex
	byID map[string]Task
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(owners OwnerLookup) *MemoryStore {
	return &MemoryStore{
		owners: owners,
		byID:   make(map[string]Task),
	}
}

func (s *MemoryStore) Create(ctx context.Context, t Task) (Task, error) {
	const op = "tasks.Create"

	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	u, err := s.owners.GetUserByID(ctx, t.OwnerID)
	if err != nil {
		if identity.IsNotFound(err) {
			return Task{}, identity.NotFoundError{Op: op, Resource: "owner"}
		}
		return Task{}, err
	}
	if t.ID == "" {
		id, err := ids.NewULID(t.CreatedAt)
		if err != nil {
			return Task{}, err
		}
		t.ID = id
	}

	s.mu.Lock()
	s.byID[t.ID] = t
	s.mu.Unlock()

	t.OwnerName = u.Name
	return t, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Task, error) {
	s.mu.RLock()
	t, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Task{}, notFound("tasks.Get")
	}
	return s.withOwnerName(ctx, t)
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]Task, error) {
	s.mu.RLock()
	out := make([]Task, 0)
	for _, t := range s.byID {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if len(out) == 0 {
		return out, nil
	}
	u, err := s.owners.GetUserByID(ctx, ownerID)
	if err != nil && !identity.IsNotFound(err) {
		return nil, err
	}
	for i := range out {
		out[i].OwnerName = u.Name
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, t Task) (Task, error) {
	s.mu.Lock()
	cur, ok := s.byID[t.ID]
	if !ok {
		s.mu.Unlock()
		return Task{}, notFound("tasks.Update")
	}
	cur.Title = t.Title
	cur.Description = t.Description
	cur.UpdatedAt = t.UpdatedAt
	s.byID[t.ID] = cur
	s.mu.Unlock()

	return s.withOwnerName(ctx, cur)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return notFound("tasks.Delete")
	}
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) withOwnerName(ctx context.Context, t Task) (Task, error) {
	u, err := s.owners.GetUserByID(ctx, t.OwnerID)
	if err != nil {
		if identity.IsNotFound(err) {
			return t, nil
		}
		return Task{}, err
	}
	t.OwnerName = u.Name
	return t, nil
}
