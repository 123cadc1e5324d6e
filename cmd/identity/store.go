package identity

import (
	"context"
	"time"
)

// User is a registered account. PasswordHash is never part of User.
type User struct {
	ID        string
	Name      string
	Email     string
	EmailNorm string
	CreatedAt time.Time
}

// UserAuth is a User together with its stored password digest.
// It only travels between the store and the login flow.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a validated, already-hashed registration.
type CreateUserInput struct {
	Name         string
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the user persistence boundary.
type Store interface {
	// CreateUser inserts a user. A duplicate normalized email yields ConflictError{Field: "email"}.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetUserAuthByEmail looks up by normalized email. Missing -> ErrNotFound.
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)

	// GetUserByID looks up by id. Missing -> ErrNotFound.
	GetUserByID(ctx context.Context, id string) (User, error)

	// EmailExists reports whether the normalized email is registered.
	EmailExists(ctx context.Context, email string) (bool, error)
}

// PasswordUpdater is implemented by stores that can replace a stored digest.
// Login uses it to upgrade digests produced under an older hashing config.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}
