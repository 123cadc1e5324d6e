package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tasker/cmd/identity"
	"tasker/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements task persistence over PostgreSQL.
//
// The tasks table references the users table of the identity store in the same
// schema; identity.PostgresStore.EnsureSchema must run first.
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default identity.DefaultSchema).
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !identity.PgIdentIsValid(schema) {
			return fmt.Errorf("tasks: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: identity.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("tasks: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the tasks table and its owner index if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	tasks := identity.PgIdent(s.schema, "tasks")
	users := identity.PgIdent(s.schema, "users")

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  owner_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,

  CONSTRAINT chk_tasks_id_ulid_len CHECK (char_length(id) = 26)
);

CREATE INDEX IF NOT EXISTS idx_tasks_owner_id ON %s (owner_id);
`, tasks, users, tasks)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("tasks: ensure schema: %w", err)
	}
	return nil
}

// Create inserts a task and returns it with the owner's name.
func (s *PostgresStore) Create(ctx context.Context, t Task) (Task, error) {
	const op = "tasks.Create"

	if t.ID == "" {
		id, err := ids.NewULID(t.CreatedAt)
		if err != nil {
			return Task{}, err
		}
		t.ID = id
	}

	err := s.pool.QueryRow(ctx,
		`WITH ins AS (
		   INSERT INTO `+identity.PgIdent(s.schema, "tasks")+` (
		     id, title, description, owner_id, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6)
		   RETURNING owner_id
		 )
		 SELECT u.name FROM ins JOIN `+identity.PgIdent(s.schema, "users")+` u ON u.id = ins.owner_id`,
		t.ID, t.Title, t.Description, t.OwnerID, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.OwnerName)
	if err != nil {
		if identity.PgIsForeignKeyViolation(err) {
			return Task{}, identity.NotFoundError{Op: op, Resource: "owner"}
		}
		return Task{}, err
	}
	return t, nil
}

// Get returns the task with the given id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Task, error) {
	const op = "tasks.Get"

	if !ids.Valid(strings.TrimSpace(id)) {
		return Task{}, notFound(op)
	}

	rows, err := s.pool.Query(ctx, s.selectSQL()+` WHERE t.id = $1`, strings.TrimSpace(id))
	if err != nil {
		return Task{}, err
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTask)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, notFound(op)
		}
		return Task{}, err
	}
	return t, nil
}

// ListByOwner returns the tasks owned by ownerID.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		s.selectSQL()+` WHERE t.owner_id = $1 ORDER BY t.created_at, t.id`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scanTask)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Task{}
	}
	return out, nil
}

// Update writes the mutable fields of t.
func (s *PostgresStore) Update(ctx context.Context, t Task) (Task, error) {
	const op = "tasks.Update"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+identity.PgIdent(s.schema, "tasks")+`
		    SET title = $2, description = $3, updated_at = $4
		  WHERE id = $1`,
		t.ID, t.Title, t.Description, t.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	if tag.RowsAffected() == 0 {
		return Task{}, notFound(op)
	}
	return t, nil
}

// Delete removes the task with the given id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const op = "tasks.Delete"

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+identity.PgIdent(s.schema, "tasks")+` WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func (s *PostgresStore) selectSQL() string {
	return `SELECT t.id, t.title, t.description, t.owner_id, u.name, t.created_at, t.updated_at
	          FROM ` + identity.PgIdent(s.schema, "tasks") + ` t
	          JOIN ` + identity.PgIdent(s.schema, "users") + ` u ON u.id = t.owner_id`
}

func scanTask(row pgx.CollectableRow) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.OwnerID, &t.OwnerName, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}
