package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tasker/cmd/security/password"
	"tasker/cmd/security/token"
)

// Client-facing validation messages.
const (
	MsgInvalidEmail   = "Invalid email address"
	MsgNameTooLong    = "Name is too long"
	MsgPasswordPolicy = "Password must be at least 8 characters long and contain at least one lowercase letter ([a-z])"
	MsgPasswordLong   = "Password is too long"
	MsgPasswordWeak   = "Password is too weak"
	MsgEmailInUse     = "Email is already in use"
)

// PasswordHasher is satisfied by password.Config.
type PasswordHasher interface {
	Validate(plain string) error
	Hash(plain string) (string, error)
	Verify(encodedHash, plain string) (bool, error)
}

// RegisterInput is a registration request as received from a client.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginResult is returned on successful login.
type LoginResult struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

// Service orchestrates registration and login over a Store, a PasswordHasher and a token.Issuer.
type Service struct {
	store  Store
	hasher PasswordHasher
	tokens token.Issuer
	now    func() time.Time
	log    *slog.Logger

	// Verified against when the email is unknown so both failure paths cost the same.
	dummyHash string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger for best-effort background failures.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs a Service. All dependencies are required.
func NewService(store Store, hasher PasswordHasher, tokens token.Issuer, opts ...ServiceOption) (*Service, error) {
	if store == nil || hasher == nil || tokens == nil {
		return nil, errors.New("identity: nil dependency")
	}

	s := &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if dummy, err := hasher.Hash("dummy-password-for-timing-only"); err == nil {
		s.dummyHash = dummy
	}

	return s, nil
}

// Register validates in, rejects duplicate emails before hashing, then persists the user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	const op = "identity.Register"

	email := strings.TrimSpace(in.Email)
	if !ValidEmail(email) {
		return User{}, invalid(op, MsgInvalidEmail)
	}
	name := strings.TrimSpace(in.Name)
	if !ValidName(name) {
		return User{}, invalid(op, MsgNameTooLong)
	}

	exists, err := s.store.EmailExists(ctx, email)
	if err != nil {
		return User{}, fmt.Errorf("%s: email lookup: %w", op, err)
	}
	if exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	if err := s.hasher.Validate(in.Password); err != nil {
		return User{}, invalid(op, passwordMessage(err))
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		if policyErr(err) {
			return User{}, invalid(op, passwordMessage(err))
		}
		return User{}, fmt.Errorf("%s: hash: %w", op, err)
	}

	u, err := s.store.CreateUser(ctx, CreateUserInput{
		Name:         name,
		Email:        email,
		PasswordHash: digest,
		Now:          s.now(),
	})
	if err != nil {
		if IsConflict(err) {
			// Lost a race with a concurrent registration.
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, err
	}
	return u, nil
}

// Login verifies credentials and issues a token.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, plain string) (LoginResult, error) {
	const op = "identity.Login"

	if strings.TrimSpace(email) == "" || plain == "" {
		s.burnVerify(plain)
		return LoginResult{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ua, err := s.store.GetUserAuthByEmail(ctx, email)
	if err != nil {
		if !IsNotFound(err) {
			return LoginResult{}, fmt.Errorf("%s: lookup: %w", op, err)
		}
		s.burnVerify(plain)
		return LoginResult{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ok, err := s.hasher.Verify(ua.PasswordHash, plain)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return LoginResult{}, fmt.Errorf("%s: verify: %w", op, err)
	}
	if !ok {
		return LoginResult{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	s.upgradeDigest(ctx, ua, plain)

	tok, exp, err := s.tokens.Issue(token.Subject{UserID: ua.User.ID, Email: ua.User.Email}, s.now())
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: issue token: %w", op, err)
	}

	return LoginResult{User: ua.User, Token: tok, ExpiresAt: exp}, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.store.GetUserByID(ctx, id)
}

// burnVerify spends one verification against the dummy digest so that every
// credential failure costs the same as a wrong password.
func (s *Service) burnVerify(plain string) {
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(s.dummyHash, plain)
	}
}

// upgradeDigest re-hashes plain when the stored digest no longer matches the
// configured algorithm. It is best effort: the login already succeeded.
func (s *Service) upgradeDigest(ctx context.Context, ua UserAuth, plain string) {
	rh, ok := s.hasher.(interface{ NeedsRehash(string) bool })
	if !ok || !rh.NeedsRehash(ua.PasswordHash) {
		return
	}
	up, ok := s.store.(PasswordUpdater)
	if !ok {
		return
	}
	digest, err := s.hasher.Hash(plain)
	if err == nil {
		err = up.UpdatePasswordHash(ctx, ua.User.ID, digest)
	}
	if err != nil {
		s.log.Warn("auth.rehash.fail", "user_id", ua.User.ID, "err", err)
	}
}

func policyErr(err error) bool {
	return errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) ||
		errors.Is(err, password.ErrMissingLowercase) ||
		errors.Is(err, password.ErrWeakPassword)
}

func passwordMessage(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooLong):
		return MsgPasswordLong
	case errors.Is(err, password.ErrWeakPassword):
		return MsgPasswordWeak
	default:
		return MsgPasswordPolicy
	}
}
