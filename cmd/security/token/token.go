package token

import "time"

// Subject is the identity a token is minted for.
type Subject struct {
	UserID string
	Email  string
}

// Claims is the verified content of a token.
type Claims struct {
	UserID    string
	Email     string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints tokens.
type Issuer interface {
	Issue(sub Subject, now time.Time) (token string, exp time.Time, err error)
}

// Verifier validates tokens.
type Verifier interface {
	Verify(token string, now time.Time) (Claims, error)
}

// Manager issues and verifies tokens.
type Manager interface {
	Issuer
	Verifier
}

// NewManager validates cfg and returns the Manager for cfg.Format.
// A failure here is a startup error, never a per-request one.
func NewManager(cfg Config) (Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	switch cfg.Format {
	case FormatJWT, "":
		return newJWTManager(cfg), nil
	case FormatPASETO:
		return newPasetoV4LocalManager(cfg)
	default:
		return nil, ErrConfig
	}
}
